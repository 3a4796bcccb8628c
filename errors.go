package isaspec

import (
	"errors"
	"fmt"
)

// ConfigErrorKind classifies problems found while building a Model.
type ConfigErrorKind int

const (
	UnknownParent ConfigErrorKind = iota + 1
	CyclicInheritance
	OverlappingFieldRanges
	AmbiguousPattern
	CyclicExpressionDependency
	DuplicateName
	UnknownReference
	InvalidField
	InvalidPattern
	InvalidGenRange
	InvalidExpression
)

var (
	ErrUnknownParent              = errors.New("unknown parent")
	ErrCyclicInheritance          = errors.New("cyclic inheritance")
	ErrOverlappingFieldRanges     = errors.New("overlapping field ranges")
	ErrAmbiguousPattern           = errors.New("ambiguous pattern")
	ErrCyclicExpressionDependency = errors.New("cyclic expression dependency")
	ErrDuplicateName              = errors.New("duplicate name")
	ErrUnknownReference           = errors.New("unknown reference")
	ErrInvalidField               = errors.New("invalid field")
	ErrInvalidPattern             = errors.New("invalid pattern")
	ErrInvalidGenRange            = errors.New("invalid generation range")
	ErrInvalidExpression          = errors.New("invalid expression")
)

var configSentinels = map[ConfigErrorKind]error{
	UnknownParent:              ErrUnknownParent,
	CyclicInheritance:          ErrCyclicInheritance,
	OverlappingFieldRanges:     ErrOverlappingFieldRanges,
	AmbiguousPattern:           ErrAmbiguousPattern,
	CyclicExpressionDependency: ErrCyclicExpressionDependency,
	DuplicateName:              ErrDuplicateName,
	UnknownReference:           ErrUnknownReference,
	InvalidField:               ErrInvalidField,
	InvalidPattern:             ErrInvalidPattern,
	InvalidGenRange:            ErrInvalidGenRange,
	InvalidExpression:          ErrInvalidExpression,
}

func (k ConfigErrorKind) String() string {
	if err, ok := configSentinels[k]; ok {
		return err.Error()
	}
	return fmt.Sprintf("ConfigErrorKind(%d)", int(k))
}

// ConfigError reports a description that cannot be turned into a Model.
// Name is the bitset, enum or expression the problem was found in.
type ConfigError struct {
	Kind ConfigErrorKind
	Name string
	Msg  string
}

func configErrorf(kind ConfigErrorKind, name string, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Kind: kind, Name: name, Msg: fmt.Sprintf(format, args...)}
}

func (e *ConfigError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Name, e.Kind, e.Msg)
}

func (e *ConfigError) Unwrap() error {
	return configSentinels[e.Kind]
}

// DecodeErrorKind classifies a failed decode of a single word.
type DecodeErrorKind int

const (
	NoMatch DecodeErrorKind = iota + 1
	Ambiguous
	UnknownEnumValue
	AssertionFailed
	Unresolved
	EvalError
)

var (
	ErrNoMatch          = errors.New("no match")
	ErrAmbiguous        = errors.New("ambiguous")
	ErrUnknownEnumValue = errors.New("unknown enum value")
	ErrAssertionFailed  = errors.New("assertion failed")
	ErrUnresolved       = errors.New("unresolved reference")
	ErrEval             = errors.New("expression evaluation failed")
)

var decodeSentinels = map[DecodeErrorKind]error{
	NoMatch:          ErrNoMatch,
	Ambiguous:        ErrAmbiguous,
	UnknownEnumValue: ErrUnknownEnumValue,
	AssertionFailed:  ErrAssertionFailed,
	Unresolved:       ErrUnresolved,
	EvalError:        ErrEval,
}

func (k DecodeErrorKind) String() string {
	if err, ok := decodeSentinels[k]; ok {
		return err.Error()
	}
	return fmt.Sprintf("DecodeErrorKind(%d)", int(k))
}

// DecodeError reports why a word could not be decoded. Root is always set;
// Bitset and Field are set when the failure happened after a match.
type DecodeError struct {
	Kind   DecodeErrorKind
	Root   string
	Bitset string
	Field  string
	Msg    string
}

func (e *DecodeError) Error() string {
	where := e.Root
	if e.Bitset != "" {
		where += "/" + e.Bitset
	}
	if e.Field != "" {
		where += "." + e.Field
	}
	if e.Msg == "" {
		return fmt.Sprintf("%s: %s", where, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %s", where, e.Kind, e.Msg)
}

func (e *DecodeError) Unwrap() error {
	return decodeSentinels[e.Kind]
}
