package command

import "fmt"

// UsageErrorKind classifies why a request could not be parsed
type UsageErrorKind int

const (
	UnknownCommand UsageErrorKind = iota
	MissingPattern
	UnknownFlag
	MissingValue
	InvalidNumber
	MinAboveMax
	DuplicateFlag
	UnexpectedArgument
)

// UsageError is a malformed request. Token is the offending input, if any.
type UsageError struct {
	Kind  UsageErrorKind
	Token string
	Err   error
}

func (e *UsageError) Error() string {
	switch e.Kind {
	case UnknownCommand:
		if e.Token == "" {
			return "no command given; try \"help\""
		}
		return fmt.Sprintf("unknown command %q; try \"help\"", e.Token)
	case MissingPattern:
		return "list needs a channel name pattern, e.g. \"list *linux*\""
	case UnknownFlag:
		return fmt.Sprintf("unknown option %q", e.Token)
	case MissingValue:
		return fmt.Sprintf("option %q needs a value", e.Token)
	case InvalidNumber:
		return fmt.Sprintf("%q is not a valid user count (expected a whole number >= 0)", e.Token)
	case MinAboveMax:
		return fmt.Sprintf("--min must not be greater than --max (%s)", e.Token)
	case DuplicateFlag:
		return fmt.Sprintf("option %q given more than once", e.Token)
	case UnexpectedArgument:
		return fmt.Sprintf("unexpected argument %q", e.Token)
	}
	return "invalid request"
}

func (e *UsageError) Unwrap() error {
	return e.Err
}
