// Package client provides a Go client for the agentflow HTTP API
package client
