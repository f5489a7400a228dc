// Package completion is the HTTP client for the external AI completion
// service. Responses are treated as opaque JSON and are never interpreted
// beyond validating that they parse.
package completion
