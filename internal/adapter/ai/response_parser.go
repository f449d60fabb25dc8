package ai

import (
	"encoding/json"
	"errors"
	"regexp"
	"sort"
	"strings"

	"github.com/fairyhunter13/proposal-evaluator/internal/domain"
)

const snippetLimit = 200

var (
	fencedBlockRe = regexp.MustCompile("(?s)```[A-Za-z0-9_-]*[ \t]*\r?\n?(.*?)```")
	openFenceRe   = regexp.MustCompile("(?s)```[A-Za-z0-9_-]*[ \t]*\r?\n?(.*)$")
)

var errNotObject = errors.New("not a JSON object")

// ResponseParser turns raw provider text into a structured object by trying
// increasingly lenient strategies and reporting which one succeeded.
type ResponseParser struct{}

// NewResponseParser creates a new response parser.
func NewResponseParser() *ResponseParser {
	return &ResponseParser{}
}

// Parse tries strict decoding, the first fenced block, the largest balanced
// object and finally a repaired candidate. Objects that only balance after
// skipping an unclosed brace are tried last, so a truncated document is
// repaired whole rather than reduced to one of its inner objects. It never
// panics on arbitrary input.
func (p *ResponseParser) Parse(raw domain.RawResponse) (domain.ParsedResponse, error) {
	text := string(raw)

	if fields, err := ParseStrict(text); err == nil {
		return domain.ParsedResponse{Fields: fields, Stage: domain.StageStrict}, nil
	}
	if block, ok := ExtractFenced(text); ok {
		if fields, err := ParseStrict(block); err == nil {
			return domain.ParsedResponse{Fields: fields, Stage: domain.StageFenced}, nil
		}
	}
	top, recovered := scanSpans(text)
	if fields, ok := firstObject(top); ok {
		return domain.ParsedResponse{Fields: fields, Stage: domain.StageBalanced}, nil
	}
	for _, candidate := range repairCandidates(text) {
		repaired := RepairJSON(candidate)
		if fields, err := ParseStrict(repaired); err == nil {
			return domain.ParsedResponse{Fields: fields, Stage: domain.StageRepaired}, nil
		}
		repTop, _ := scanSpans(repaired)
		if fields, ok := firstObject(repTop); ok {
			return domain.ParsedResponse{Fields: fields, Stage: domain.StageRepaired}, nil
		}
	}
	if fields, ok := firstObject(recovered); ok {
		return domain.ParsedResponse{Fields: fields, Stage: domain.StageBalanced}, nil
	}

	return domain.ParsedResponse{}, &domain.MalformedResponseError{
		Stages:  []domain.ParseStage{domain.StageStrict, domain.StageFenced, domain.StageBalanced, domain.StageRepaired},
		Snippet: snippet(text),
	}
}

// ParseStrict decodes s as a single JSON object.
func ParseStrict(s string) (map[string]any, error) {
	s = strings.TrimSpace(strings.TrimPrefix(s, "\uFEFF"))
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, errNotObject
	}
	return obj, nil
}

// ExtractFenced returns the body of the first closed markdown code block.
func ExtractFenced(s string) (string, bool) {
	m := fencedBlockRe.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// BalancedSpans returns every balanced {...} span in s, largest first. A brace
// that is never closed is skipped and scanning resumes at the next one, so a
// stray brace in prose does not hide a later object. Braces inside JSON
// strings are ignored.
func BalancedSpans(s string) []string {
	top, recovered := scanSpans(s)
	spans := append(top, recovered...)
	sortLargestFirst(spans)
	return spans
}

// scanSpans splits the balanced spans of s into those found at top level and
// those found only after giving up on an unclosed brace. Both are largest first.
func scanSpans(s string) (top, recovered []string) {
	skipped := false
	for from := 0; from < len(s); {
		i := strings.IndexByte(s[from:], '{')
		if i < 0 {
			break
		}
		start := from + i
		end := closingBrace(s, start)
		if end < 0 {
			skipped = true
			from = start + 1
			continue
		}
		if skipped {
			recovered = append(recovered, s[start:end+1])
		} else {
			top = append(top, s[start:end+1])
		}
		from = end + 1
	}
	sortLargestFirst(top)
	sortLargestFirst(recovered)
	return top, recovered
}

// closingBrace returns the index of the brace that closes the one at start, or -1.
func closingBrace(s string, start int) int {
	depth := 0
	inStr := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inStr {
			if c == '\\' {
				i++
			} else if c == '"' {
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func sortLargestFirst(spans []string) {
	sort.SliceStable(spans, func(a, b int) bool { return len(spans[a]) > len(spans[b]) })
}

func firstObject(spans []string) (map[string]any, bool) {
	for _, span := range spans {
		if fields, err := ParseStrict(span); err == nil {
			return fields, true
		}
	}
	return nil, false
}

// repairCandidates lists the texts worth repairing: fenced content first,
// then everything from the first opening brace.
func repairCandidates(s string) []string {
	var out []string
	if block, ok := ExtractFenced(s); ok {
		out = append(out, block)
	} else if m := openFenceRe.FindStringSubmatch(s); m != nil {
		out = append(out, strings.TrimSpace(m[1]))
	}
	if i := strings.IndexByte(s, '{'); i >= 0 {
		out = append(out, s[i:])
	}
	return out
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= snippetLimit {
		return s
	}
	cut := snippetLimit
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
