// Package command turns the text of a private message into a bot request.
package command

import (
	"strconv"
	"strings"

	"github.com/matt0x6f/alis-bot/internal/query"
)

// Kind is the requested subcommand
type Kind int

const (
	Help Kind = iota
	List
)

const (
	helpCommand = "help"
	listCommand = "list"
)

// Request is a parsed, validated bot request
type Request struct {
	Requester string
	Kind      Kind
	Spec      query.Spec
}

// list option names, long form
const (
	optTopic = "--topic"
	optMin   = "--min"
	optMax   = "--max"
)

var shortOptions = map[string]string{
	"-t": optTopic,
}

// Parse parses request text sent by requester. Errors are *UsageError.
func Parse(requester, text string) (Request, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return Request{}, &UsageError{Kind: UnknownCommand}
	}

	req := Request{Requester: requester}
	switch strings.ToLower(fields[0]) {
	case helpCommand:
		req.Kind = Help
		return req, nil
	case listCommand:
		spec, err := parseList(fields[1:])
		if err != nil {
			return Request{}, err
		}
		req.Kind = List
		req.Spec = spec
		return req, nil
	default:
		return Request{}, &UsageError{Kind: UnknownCommand, Token: fields[0]}
	}
}

// parseList parses the arguments following "list". Options may appear
// before or after the pattern and accept "--opt value" or "--opt=value".
func parseList(args []string) (query.Spec, error) {
	spec := query.DefaultSpec()
	seen := make(map[string]bool)
	var pattern *string

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if !strings.HasPrefix(arg, "-") || arg == "-" {
			if pattern != nil {
				return query.Spec{}, &UsageError{Kind: UnexpectedArgument, Token: arg}
			}
			p := arg
			pattern = &p
			continue
		}

		name, value, hasValue := strings.Cut(arg, "=")
		if long, ok := shortOptions[name]; ok {
			name = long
		}
		switch name {
		case optTopic, optMin, optMax:
		default:
			return query.Spec{}, &UsageError{Kind: UnknownFlag, Token: arg}
		}
		if seen[name] {
			return query.Spec{}, &UsageError{Kind: DuplicateFlag, Token: name}
		}
		seen[name] = true

		if !hasValue {
			if i+1 >= len(args) {
				return query.Spec{}, &UsageError{Kind: MissingValue, Token: name}
			}
			i++
			value = args[i]
		}
		if value == "" {
			return query.Spec{}, &UsageError{Kind: MissingValue, Token: name}
		}

		switch name {
		case optTopic:
			topic := query.Compile(value)
			spec.Topic = &topic
		case optMin:
			n, err := parseCount(value)
			if err != nil {
				return query.Spec{}, err
			}
			spec.Min = n
		case optMax:
			n, err := parseCount(value)
			if err != nil {
				return query.Spec{}, err
			}
			spec.Max = n
		}
	}

	if pattern == nil {
		return query.Spec{}, &UsageError{Kind: MissingPattern}
	}
	spec.Name = query.Compile(*pattern)

	if err := spec.Validate(); err != nil {
		return query.Spec{}, &UsageError{
			Kind:  MinAboveMax,
			Token: optMin + " " + strconv.FormatUint(uint64(spec.Min), 10) + " > " + optMax + " " + strconv.FormatUint(uint64(spec.Max), 10),
			Err:   err,
		}
	}
	return spec, nil
}

func parseCount(value string) (uint32, error) {
	n, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return 0, &UsageError{Kind: InvalidNumber, Token: value, Err: err}
	}
	return uint32(n), nil
}
