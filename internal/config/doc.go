// Package config loads application settings from an optional YAML file and
// LEARNFLOW_-prefixed environment variables, and validates them with struct
// tags before any component is constructed.
package config
