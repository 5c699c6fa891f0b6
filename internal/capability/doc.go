// Package capability provides concrete implementations of the capability
// interfaces that flow steps dispatch to: memory and example stores backed
// by Redis or process memory, blob resource loading, a prompt search index,
// HTTP remote endpoints, an Anthropic model asker, and a human feedback inbox
package capability
