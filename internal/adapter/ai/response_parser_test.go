package ai

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/proposal-evaluator/internal/domain"
)

func TestResponseParser_Stages(t *testing.T) {
	t.Parallel()

	parser := NewResponseParser()
	tests := []struct {
		name     string
		input    string
		expected domain.ParseStage
	}{
		{"strict_object", `{"overall_score": 80}`, domain.StageStrict},
		{"strict_with_whitespace", "\n  {\"overall_score\": 80}\n", domain.StageStrict},
		{"fenced_json", "Here you go:\n```json\n{\"overall_score\": 80}\n```\nThanks", domain.StageFenced},
		{"fenced_no_language", "```\n{\"overall_score\": 80}\n```", domain.StageFenced},
		{"prose_around_object", `The analysis is {"overall_score": 80, "note": "a } inside"} as requested.`, domain.StageBalanced},
		{"largest_span_wins", `{"a":1} and then {"overall_score": 80, "sections": {}}`, domain.StageBalanced},
		{"fenced_with_trailing_comma", "Sure!\n```json\n{\"overall_score\": 80,}\n```", domain.StageRepaired},
		{"smart_quotes", `{“overall_score”: 80}`, domain.StageRepaired},
		{"truncated", `{"overall_score": 80, "sections": [{"id": "budget"`, domain.StageRepaired},
		{"unterminated_fence", "```json\n{overall_score: 80,", domain.StageRepaired},
		{"unclosed_brace_in_prose", "Scores use the form {criterion: score. Result:\n{\"overall_score\": 80, \"sections\": {\"budget\": 70}}", domain.StageBalanced},
		{"truncated_keeps_whole_document", `{"overall_score": 80, "sections": {"budget": {"score": 70}`, domain.StageRepaired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := parser.Parse(domain.RawResponse(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got.Stage)
			assert.EqualValues(t, 80, got.Fields["overall_score"])
		})
	}
}

func TestResponseParser_Malformed(t *testing.T) {
	t.Parallel()

	parser := NewResponseParser()
	inputs := []string{
		"",
		"I'm sorry, I can't help with that request.",
		"[1, 2, 3]",
		`"just a string"`,
		strings.Repeat("x", 1000),
	}
	for _, in := range inputs {
		_, err := parser.Parse(domain.RawResponse(in))
		require.Error(t, err, in)
		assert.ErrorIs(t, err, domain.ErrMalformedResponse)

		var me *domain.MalformedResponseError
		require.ErrorAs(t, err, &me)
		assert.Len(t, me.Stages, 4)
		assert.LessOrEqual(t, len(me.Snippet), snippetLimit+3)
	}
}

func TestResponseParser_NeverPanics(t *testing.T) {
	t.Parallel()

	parser := NewResponseParser()
	inputs := []string{
		"{", "}", "{{{{", "}}}}{{", `{"a":"\`, "```", "``````", "{\"a\":[}", "\x00\xff{",
		`{"a": 'b}`, "{'", `{"a": “`, "{,}", "{:}", "[{]}",
	}
	for _, in := range inputs {
		assert.NotPanics(t, func() { _, _ = parser.Parse(domain.RawResponse(in)) }, in)
	}
}

func TestParseStrict(t *testing.T) {
	t.Parallel()

	_, err := ParseStrict(`{"a": 1}`)
	assert.NoError(t, err)
	_, err = ParseStrict(`[1]`)
	assert.ErrorIs(t, err, errNotObject)
	_, err = ParseStrict(`{"a": 1,}`)
	assert.Error(t, err)
}

func TestExtractFenced(t *testing.T) {
	t.Parallel()

	got, ok := ExtractFenced("a\n```json\n{\"x\":1}\n```\nb\n```\n{\"y\":2}\n```")
	require.True(t, ok)
	assert.Equal(t, `{"x":1}`, got)

	_, ok = ExtractFenced("no fences here")
	assert.False(t, ok)
}

func TestBalancedSpans(t *testing.T) {
	t.Parallel()

	spans := BalancedSpans(`x {"a": "}"} y {"b": {"c": 1}} z }`)
	require.Len(t, spans, 2)
	assert.Equal(t, `{"b": {"c": 1}}`, spans[0])
	assert.Equal(t, `{"a": "}"}`, spans[1])

	assert.Empty(t, BalancedSpans(`{"open": 1`))

	spans = BalancedSpans(`see {note: and {"a": 1, "b": {"c": 2}} done`)
	require.Len(t, spans, 1)
	assert.Equal(t, `{"a": 1, "b": {"c": 2}}`, spans[0])
}

func TestResponseParser_RecoveredSpanKeepsSections(t *testing.T) {
	t.Parallel()

	got, err := NewResponseParser().Parse(domain.RawResponse("Use {criterion: score}-ish keys like {this. Result:\n" +
		`{"overall_score": 80, "sections": {"budget": 70}}`))
	require.NoError(t, err)
	assert.Equal(t, domain.StageBalanced, got.Stage)
	assert.Contains(t, got.Fields, "sections")

	got, err = NewResponseParser().Parse(domain.RawResponse(`{"overall_score": 80, "sections": {"budget": {"score": 70}`))
	require.NoError(t, err)
	sections, ok := got.Fields["sections"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, sections, "budget")
}

func TestResponseParser_ReparseOfSerializedFieldsIsIdentical(t *testing.T) {
	t.Parallel()

	parser := NewResponseParser()
	inputs := []string{
		`{"overall_score": 80, "sections": {"budget": {"score": 70, "key_findings": ["a", "b"]}}}`,
		"```json\n{\"overall_score\": 80, \"nested\": {\"x\": [1, 2.5, null, true]}}\n```",
		`Result: {"overall_score": 80, "note": "braces { } inside"} thanks`,
		`{"overall_score": 80, "sections": {"budget": 70,},}`,
		`{“overall_score”: 80, “summary”: “fine”}`,
	}
	for _, in := range inputs {
		first, err := parser.Parse(domain.RawResponse(in))
		require.NoError(t, err, in)

		b, err := json.Marshal(first.Fields)
		require.NoError(t, err)
		second, err := parser.Parse(domain.RawResponse(b))
		require.NoError(t, err)

		assert.Equal(t, domain.StageStrict, second.Stage, in)
		assert.Equal(t, first.Fields, second.Fields, in)
	}
}

func TestRepairJSON_TrailingCommaAndSmartQuotesMatchCleanInput(t *testing.T) {
	t.Parallel()

	parser := NewResponseParser()
	clean, err := parser.Parse(`{"overall_score": 80, "summary": "fine"}`)
	require.NoError(t, err)

	for _, damaged := range []string{
		`{"overall_score": 80, "summary": "fine",}`,
		`{"overall_score": 80, “summary”: "fine"}`,
	} {
		got, err := parser.Parse(domain.RawResponse(damaged))
		require.NoError(t, err, damaged)
		assert.Equal(t, domain.StageRepaired, got.Stage, damaged)
		assert.Equal(t, clean.Fields, got.Fields, damaged)
	}
}
