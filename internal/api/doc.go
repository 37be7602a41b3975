// Package api exposes the snapshot, progress and assignment services over
// HTTP. Handlers decode and validate JSON requests, resolve the acting user
// from the JWT, call a service and map its errors to status codes with safe
// client messages.
package api
