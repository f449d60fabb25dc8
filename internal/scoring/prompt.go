package scoring

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fairyhunter13/proposal-evaluator/internal/domain"
)

// DefaultMaxInputChars bounds each document embedded in a prompt.
const DefaultMaxInputChars = 24000

// TruncationMarker is appended to a document cut to fit the prompt.
const TruncationMarker = "\n[... truncated ...]"

// PromptOptions tunes BuildPrompt.
type PromptOptions struct {
	// MaxInputChars caps each document in runes. Zero means DefaultMaxInputChars.
	MaxInputChars int
}

// BuildPrompt renders the specification, the proposal and the rubric into a
// provider prompt. The output depends only on its arguments.
func BuildPrompt(specText, proposalText string, rubric Rubric, opts PromptOptions) domain.Prompt {
	limit := opts.MaxInputChars
	if limit <= 0 {
		limit = DefaultMaxInputChars
	}
	return domain.Prompt{
		System: buildSystemPrompt(rubric),
		User:   buildUserPrompt(truncateRunes(specText, limit), truncateRunes(proposalText, limit)),
	}
}

func buildSystemPrompt(rubric Rubric) string {
	var b strings.Builder
	b.WriteString("You are an expert procurement evaluator. Score the proposal against the specification on each criterion below, 0-100.\n")
	b.WriteString("Return ONLY valid JSON that matches the schema and nothing else. No prose, no markdown.\n\n")
	b.WriteString("Criteria (use these ids, in this order):\n")
	for i, c := range rubric.Criteria {
		fmt.Fprintf(&b, "%d. %s (%s): %s\n", i+1, c.ID, c.Name, c.Description)
	}
	b.WriteString("\nJSON schema (all fields required):\n")
	b.WriteString(schemaExample(rubric))
	b.WriteString("\n\nRules:\n")
	b.WriteString("- score and overall_score are numbers between 0 and 100\n")
	b.WriteString("- confidence_level (0-100) reflects how well the documents support your scores\n")
	b.WriteString("- risk_level is one of: low, medium, high\n")
	b.WriteString("- final_recommendation is one of: accept, conditional_accept, reject\n")
	b.WriteString("- key_findings and recommendations hold 1-4 short sentences each\n")
	return b.String()
}

func schemaExample(rubric Rubric) string {
	var b strings.Builder
	b.WriteString("{\n  \"overall_score\": number,\n  \"confidence_level\": number,\n  \"sections\": {\n")
	for i, c := range rubric.Criteria {
		fmt.Fprintf(&b, "    %q: {\"score\": number, \"description\": string, \"key_findings\": [string], \"recommendations\": [string], \"risk_level\": string}", string(c.ID))
		if i < len(rubric.Criteria)-1 {
			b.WriteByte(',')
		}
		b.WriteByte('\n')
	}
	b.WriteString("  },\n  \"executive_summary\": string,\n  \"final_recommendation\": string\n}")
	return b.String()
}

func buildUserPrompt(specText, proposalText string) string {
	return "SPECIFICATION:\n" + specText + "\n\nPROPOSAL:\n" + proposalText + "\n\nEvaluate the proposal now."
}

// truncateRunes cuts s to at most limit runes, appending TruncationMarker when cut.
func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i] + TruncationMarker
		}
		n++
	}
	return s
}
