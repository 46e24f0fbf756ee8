package command

import (
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/matt0x6f/alis-bot/internal/query"
)

func usageKind(t *testing.T, err error) UsageErrorKind {
	t.Helper()
	var uerr *UsageError
	require.True(t, errors.As(err, &uerr), "expected *UsageError, got %v", err)
	return uerr.Kind
}

func TestParseSimpleList(t *testing.T) {
	req, err := Parse("alice", "list *test*")
	require.NoError(t, err)

	assert.Equal(t, "alice", req.Requester)
	assert.Equal(t, List, req.Kind)
	assert.Equal(t, "*test*", req.Spec.Name.String())
	assert.Nil(t, req.Spec.Topic)
	assert.Equal(t, uint32(0), req.Spec.Min)
	assert.Equal(t, uint32(query.Unbounded), req.Spec.Max)
}

func TestParseFullList(t *testing.T) {
	req, err := Parse("bob", "list *test* --topic *other* --min 5 --max 9")
	require.NoError(t, err)

	require.NotNil(t, req.Spec.Topic)
	assert.Equal(t, "*other*", req.Spec.Topic.String())
	assert.Equal(t, uint32(5), req.Spec.Min)
	assert.Equal(t, uint32(9), req.Spec.Max)
}

func TestParseShuffledAndInlineOptions(t *testing.T) {
	req, err := Parse("bob", "LIST --min=2 -t *other* --max=5 *test*")
	require.NoError(t, err)

	assert.Equal(t, "*test*", req.Spec.Name.String())
	require.NotNil(t, req.Spec.Topic)
	assert.Equal(t, "*other*", req.Spec.Topic.String())
	assert.Equal(t, uint32(2), req.Spec.Min)
	assert.Equal(t, uint32(5), req.Spec.Max)
}

func TestParseHelp(t *testing.T) {
	req, err := Parse("carol", "  Help  ")
	require.NoError(t, err)
	assert.Equal(t, Help, req.Kind)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		kind  UsageErrorKind
		token string
	}{
		{"empty", "", UnknownCommand, ""},
		{"unknown command", "not a list command", UnknownCommand, "not"},
		{"missing pattern", "list", MissingPattern, ""},
		{"pattern missing behind option", "list -t *test*", MissingPattern, ""},
		{"unknown flag", "list *foo* --color red", UnknownFlag, "--color"},
		{"force flag is not supported", "list *foo* -f", UnknownFlag, "-f"},
		{"missing value", "list *test* -t", MissingValue, "--topic"},
		{"empty inline value", "list *test* --min=", MissingValue, "--min"},
		{"non numeric min", "list *foo* --min lots", InvalidNumber, "lots"},
		{"negative max", "list *foo* --max -1", InvalidNumber, "-1"},
		{"too large", "list *foo* --max 99999999999", InvalidNumber, "99999999999"},
		{"duplicate", "list *foo* --min 1 --min 2", DuplicateFlag, "--min"},
		{"extra positional", "list *test* left_alone", UnexpectedArgument, "left_alone"},
		{"bare number", "list *test* 5", UnexpectedArgument, "5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("dave", tt.text)
			require.Error(t, err)
			assert.Equal(t, tt.kind, usageKind(t, err))

			var uerr *UsageError
			require.True(t, errors.As(err, &uerr))
			assert.Equal(t, tt.token, uerr.Token)
			if tt.token != "" {
				assert.Contains(t, uerr.Error(), tt.token, "message should name the offending token")
			}
		})
	}
}

func TestParseMinAboveMax(t *testing.T) {
	_, err := Parse("erin", "list *foo* --min 50 --max 10")
	require.Error(t, err)

	assert.Equal(t, MinAboveMax, usageKind(t, err))
	assert.ErrorIs(t, err, query.ErrMinAboveMax)
	assert.Contains(t, err.Error(), "--min 50")
	assert.Contains(t, err.Error(), "--max 10")
}

func TestParseRejectsAnyInvertedBounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		max := rapid.Uint32Range(0, 1000).Draw(t, "max")
		min := rapid.Uint32Range(max+1, 2000).Draw(t, "min")

		text := "list * --min " + strconv.FormatUint(uint64(min), 10) + " --max " + strconv.FormatUint(uint64(max), 10)
		_, err := Parse("x", text)
		var uerr *UsageError
		if !errors.As(err, &uerr) || uerr.Kind != MinAboveMax {
			t.Fatalf("Parse(%q) = %v, want MinAboveMax usage error", text, err)
		}
	})
}

func TestHelpLines(t *testing.T) {
	lines := HelpLines("alis")
	require.NotEmpty(t, lines)

	joined := strings.Join(lines, "\n")
	assert.Contains(t, joined, "/msg alis list *searchterm*")
	assert.Contains(t, joined, "\x02list\x0f")
	assert.NotContains(t, joined, "%NICK%")
	for _, line := range lines {
		assert.NotContains(t, line, "\n")
		assert.NotEmpty(t, line)
	}
}
