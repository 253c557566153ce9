package entities

import "strings"

// ValueType is the type of a parameter or result crossing the guest/host boundary.
type ValueType string

const (
	ValueTypeI32 ValueType = "i32"
	ValueTypeI64 ValueType = "i64"
)

// Signature describes the parameters and results of a function.
type Signature struct {
	Params  []ValueType `json:"params,omitempty"`
	Results []ValueType `json:"results,omitempty"`
}

// Sig builds a signature from parameter and result types.
func Sig(params []ValueType, results ...ValueType) Signature {
	return Signature{Params: params, Results: results}
}

// Normalize truncates a raw value to the width of the given type.
func (t ValueType) Normalize(v uint64) uint64 {
	if t == ValueTypeI32 {
		return uint64(uint32(v))
	}
	return v
}

// String renders the signature as "(i32, i32) -> i32".
func (s Signature) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for i, p := range s.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(string(p))
	}
	b.WriteString(") -> ")
	switch len(s.Results) {
	case 0:
		b.WriteString("()")
	case 1:
		b.WriteString(string(s.Results[0]))
	default:
		b.WriteByte('(')
		for i, r := range s.Results {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(string(r))
		}
		b.WriteByte(')')
	}
	return b.String()
}
