// Package server implements the HTTP API of the flow orchestrator
//
// It exposes endpoints for listing definitions, submitting flow and workflow
// runs, querying and cancelling runs, delivering human feedback, reading and
// updating example stores, and streaming run events over WebSocket
package server
