// Package ai provides provider-independent handling of LLM output: response
// parsing and repair, throttling and the provider registry.
package ai

import (
	"strings"
	"unicode"
)

// RepairJSON applies every repair stage in order. Each stage only changes
// text outside well-formed JSON strings, so valid JSON passes through untouched
// and applying RepairJSON twice equals applying it once.
func RepairJSON(s string) string {
	s = NormalizeQuotes(s)
	s = QuoteBareKeys(s)
	s = StripTrailingCommas(s)
	s = CloseUnterminated(s)
	return s
}

type quoteKind int

const (
	quoteASCII quoteKind = iota
	quoteSmartDouble
	quoteSmartSingle
	quoteSingle
)

func openingQuote(r rune) (quoteKind, bool) {
	switch r {
	case '"':
		return quoteASCII, true
	case '“', '”', '„', '‟':
		return quoteSmartDouble, true
	case '‘', '’':
		return quoteSmartSingle, true
	case '\'':
		return quoteSingle, true
	}
	return 0, false
}

func closesQuote(k quoteKind, r rune) bool {
	switch k {
	case quoteSmartDouble:
		return r == '“' || r == '”' || r == '„' || r == '‟'
	case quoteSmartSingle:
		return r == '‘' || r == '’'
	case quoteSingle:
		return r == '\''
	}
	return r == '"'
}

// followedByDelimiter reports whether the next non-space rune after i ends a JSON token.
func followedByDelimiter(rs []rune, i int) bool {
	for ; i < len(rs); i++ {
		if unicode.IsSpace(rs[i]) {
			continue
		}
		switch rs[i] {
		case ':', ',', '}', ']':
			return true
		}
		return false
	}
	return true
}

// NormalizeQuotes rewrites strings delimited by typographic or single quotes
// into ASCII double-quoted strings. Quotes inside ASCII strings are kept.
func NormalizeQuotes(s string) string {
	if !strings.ContainsAny(s, "“”„‟‘’'") {
		return s
	}
	rs := []rune(s)
	var b strings.Builder
	b.Grow(len(s))
	inStr := false
	var kind quoteKind
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		if !inStr {
			if k, ok := openingQuote(r); ok {
				inStr, kind = true, k
				b.WriteByte('"')
				continue
			}
			b.WriteRune(r)
			continue
		}
		if r == '\\' && i+1 < len(rs) {
			b.WriteRune(r)
			b.WriteRune(rs[i+1])
			i++
			continue
		}
		if kind == quoteASCII {
			if r == '"' {
				inStr = false
			}
			b.WriteRune(r)
			continue
		}
		if closesQuote(kind, r) && followedByDelimiter(rs, i+1) {
			inStr = false
			b.WriteByte('"')
			continue
		}
		if r == '"' {
			b.WriteString(`\"`)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isIdentStart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || r == '-' || unicode.IsDigit(r)
}

// QuoteBareKeys wraps unquoted object keys in double quotes.
func QuoteBareKeys(s string) string {
	rs := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 16)
	inStr := false
	var prev rune // last non-space rune outside strings
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		if inStr {
			b.WriteRune(r)
			if r == '\\' && i+1 < len(rs) {
				b.WriteRune(rs[i+1])
				i++
			} else if r == '"' {
				inStr = false
				prev = '"'
			}
			continue
		}
		if r == '"' {
			inStr = true
			b.WriteRune(r)
			continue
		}
		if (prev == '{' || prev == ',') && isIdentStart(r) {
			j := i
			for j < len(rs) && isIdentPart(rs[j]) {
				j++
			}
			k := j
			for k < len(rs) && unicode.IsSpace(rs[k]) {
				k++
			}
			if k < len(rs) && rs[k] == ':' {
				b.WriteByte('"')
				b.WriteString(string(rs[i:j]))
				b.WriteByte('"')
				prev = '"'
				i = j - 1
				continue
			}
		}
		b.WriteRune(r)
		if !unicode.IsSpace(r) {
			prev = r
		}
	}
	return b.String()
}

// StripTrailingCommas removes commas that directly precede a closing bracket.
func StripTrailingCommas(s string) string {
	if !strings.Contains(s, ",") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	inStr := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inStr {
			b.WriteByte(c)
			if c == '\\' && i+1 < len(s) {
				b.WriteByte(s[i+1])
				i++
			} else if c == '"' {
				inStr = false
			}
			continue
		}
		if c == '"' {
			inStr = true
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && isJSONSpace(s[j]) {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isJSONSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// CloseUnterminated terminates an open string and closes every open bracket.
// A dangling comma is dropped and a dangling key or colon is completed with null.
func CloseUnterminated(s string) string {
	var stack []byte
	var last byte
	inStr, strIsKey, keyPending, danglingEscape := false, false, false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inStr {
			if c == '\\' {
				danglingEscape = i == len(s)-1
				i++
			} else if c == '"' {
				inStr = false
				keyPending = strIsKey
			}
			continue
		}
		if isJSONSpace(c) {
			continue
		}
		keyPending = false
		switch c {
		case '"':
			inStr = true
			strIsKey = (last == '{' || last == ',') && len(stack) > 0 && stack[len(stack)-1] == '}'
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
		last = c
	}
	if !inStr && len(stack) == 0 {
		return s
	}

	out := s
	if inStr {
		if danglingEscape {
			out = out[:len(out)-1]
		}
		out += `"`
		keyPending = strIsKey
	}
	trimmed := strings.TrimRightFunc(out, unicode.IsSpace)
	switch {
	case keyPending:
		out = trimmed + ":null"
	case strings.HasSuffix(trimmed, ","):
		out = trimmed[:len(trimmed)-1]
	case strings.HasSuffix(trimmed, ":"):
		out = trimmed + "null"
	}
	var b strings.Builder
	b.WriteString(out)
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	return b.String()
}
