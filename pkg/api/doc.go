// Package api defines the public types shared by the agentflow runtime, its
// capability collaborators, and HTTP clients
//
// This includes flow, workflow and agent definitions, run state, the error
// taxonomy, and the capability interfaces the runtime dispatches to
package api
