// Package server hosts the media gateway from a single HTTP server.
//
// The server builds a consistent middleware chain of request IDs, logging,
// metrics, security headers, CORS, and rate limiting so handlers all share
// common protections and instrumentation.
//
// It serves the folder and streaming routes behind one multiplexer and keeps
// credential-guessing in check with a per-client throttle on Basic-auth
// attempts.
package server
