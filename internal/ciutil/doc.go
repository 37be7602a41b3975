// Package ciutil detects CI environments and resolves the settings that
// differ between CI and local runs, such as the test database URL.
package ciutil
