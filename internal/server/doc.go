// Package server assembles the tour API behind a single HTTP multiplexer.
//
// The server builds a consistent middleware chain of security headers, CORS,
// rate limiting, request IDs, metrics, and logging so handlers all share
// common protections and instrumentation.
package server
