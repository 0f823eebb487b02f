// Package api hosts the HTTP handlers that front the tour REST API.
//
// The handlers decode multipart and JSON requests, shape responses, and map
// the tour package's error taxonomy onto HTTP status codes while delegating
// all graph and blob coordination to the tour.Service injected at
// construction time. The package does not reach for globals and expects
// callers to supply fully configured dependencies.
//
// Handler implementations assume upstream middleware from internal/server has
// already applied request IDs, metrics, and logging. New routes should
// preserve that contract by leaning on the middleware guarantees established
// in the server stack.
package api
