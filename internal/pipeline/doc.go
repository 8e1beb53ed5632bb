// Package pipeline provides the request-processing engine that every API call
// passes through.
//
// A pipeline is an ordered list of stages followed by a terminal handler. Each
// stage receives the request and a continuation; it may answer on its own
// (short-circuit), or call the continuation and decorate whatever comes back.
//
// # Architecture
//
// The production pipeline is assembled by the runtime package:
//
//	security (CORS preflight, rate limit, response headers)
//	  -> auth (protected paths, scope enforcement, identity)
//	    -> router (method+path dispatch, failure isolation)
//
// # Values, not exceptions
//
// Denials are ordinary *Response values. Nothing a stage decides crosses the
// pipeline boundary as a panic or error; the router is the single place where
// unexpected handler failures are turned into a generic server error.
package pipeline
