package api

import (
	"encoding/json"
	"fmt"
)

// TypeName is a declared value type for parameters, step outputs and remote
// response fields
type TypeName string

const (
	TypeAny     TypeName = "any"
	TypeString  TypeName = "string"
	TypeNumber  TypeName = "number"
	TypeBoolean TypeName = "boolean"
	TypeDict    TypeName = "dict"
	TypeList    TypeName = "list"
)

var validTypes = map[TypeName]bool{
	"":          true,
	TypeAny:     true,
	TypeString:  true,
	TypeNumber:  true,
	TypeBoolean: true,
	TypeDict:    true,
	TypeList:    true,
}

// IsValid reports whether the type name is one of the known types. The empty
// type is valid and behaves like TypeAny
func (t TypeName) IsValid() bool {
	return validTypes[t]
}

// IsAny reports whether the type accepts every value
func (t TypeName) IsAny() bool {
	return t == "" || t == TypeAny
}

// Accepts reports whether a value conforms to the declared type
func (t TypeName) Accepts(value any) bool {
	if t.IsAny() {
		return true
	}
	return TypeOf(value) == t
}

// Compatible reports whether a value declared as t may be bound to a slot
// declared as other
func (t TypeName) Compatible(other TypeName) bool {
	return t.IsAny() || other.IsAny() || t == other
}

// TypeOf returns the declared type that best describes a runtime value
func TypeOf(value any) TypeName {
	switch value.(type) {
	case string:
		return TypeString
	case bool:
		return TypeBoolean
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32,
		uint64, float32, float64, json.Number:
		return TypeNumber
	case map[string]any, Args, map[Name]any:
		return TypeDict
	case []any, []string, []map[string]any:
		return TypeList
	case nil:
		return "null"
	default:
		return TypeName(fmt.Sprintf("%T", value))
	}
}
