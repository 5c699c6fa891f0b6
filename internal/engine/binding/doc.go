// Package binding resolves {{path}} placeholders in step parameters against
// the variables bound in a run's execution context
//
// A template that consists of exactly one placeholder resolves to the typed
// value it names. Any other template resolves to a string. Dotted paths walk
// nested mappings and list indexes. A reference to an unbound name is always
// an error; no partial or default substitution is performed
package binding
