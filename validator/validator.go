// Package validator abstracts the schema-runtime capability the contract
// model depends on without ever choosing a concrete schema library. This is
// deliberately the out-of-scope external collaborator: the contract package
// depends only on the Validator interface, never on a particular schema
// engine.
package validator

// Issue describes a single validation failure.
type Issue struct {
	// Field is a dotted path into the raw value, empty for whole-value issues.
	Field string

	// Message is a human readable description of the failure.
	Message string
}

// Issues is a list of validation failures. A nil or empty Issues value means
// the validated value is acceptable.
type Issues []Issue

func (is Issues) Error() string {
	if len(is) == 0 {
		return "no issues"
	}
	msg := "validation failed: "
	for i, iss := range is {
		if i > 0 {
			msg += "; "
		}
		if iss.Field != "" {
			msg += iss.Field + ": "
		}
		msg += iss.Message
	}
	return msg
}

// Validator is implemented by the schema library a contract user chooses.
// Given a raw decoded value (typically the result of a JSON unmarshal into
// map[string]interface{} or a concrete struct), it returns a non-empty Issues
// describing why the value was rejected, or none when it is acceptable; the
// error return reports a failure of the validator itself.
type Validator interface {
	// Validate checks raw and returns issues when it doesn't conform to the
	// schema. A nil/empty Issues return means raw is acceptable.
	Validate(raw any) (Issues, error)
}

// Func adapts a plain function into a Validator.
type Func func(raw any) (Issues, error)

// Validate implements Validator.
func (f Func) Validate(raw any) (Issues, error) { return f(raw) }

// Noop accepts every value; useful for message schemas that only carry
// documentation (Summary/Description) and no runtime validation.
var Noop Validator = Func(func(any) (Issues, error) { return nil, nil })
