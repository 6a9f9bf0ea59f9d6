package llm

import (
	"fmt"
	"regexp"
	"strings"
)

// ExtractJSON isolates the JSON document inside a model response, stripping
// markdown code fences and reasoning-tag wrappers. Returns an error when no
// JSON object or array can be located at all.
func ExtractJSON(content string) (string, error) {
	content = strings.TrimSpace(content)

	// Strip reasoning wrappers some models emit before their answer.
	for _, tag := range []string{"think", "thinking", "reasoning"} {
		open, close := "<"+tag+">", "</"+tag+">"
		for {
			start := strings.Index(content, open)
			if start < 0 {
				break
			}
			end := strings.Index(content, close)
			if end < 0 {
				// Unclosed wrapper: drop everything up to and including the tag.
				content = content[start+len(open):]
				break
			}
			content = content[:start] + content[end+len(close):]
		}
	}

	// Strip markdown code fences if present.
	if idx := strings.Index(content, "```"); idx >= 0 {
		rest := content[idx+3:]
		if nl := strings.Index(rest, "\n"); nl >= 0 {
			rest = rest[nl+1:] // drop the language line
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			content = rest[:end]
		} else {
			content = rest
		}
	}

	content = strings.TrimSpace(content)

	// Find the outermost object or array.
	objStart := strings.Index(content, "{")
	arrStart := strings.Index(content, "[")
	start := objStart
	opener, closer := "{", "}"
	if start < 0 || (arrStart >= 0 && arrStart < start) {
		start = arrStart
		opener, closer = "[", "]"
	}
	if start < 0 {
		return "", fmt.Errorf("no JSON document found: %w", ErrMalformed)
	}
	_ = opener

	end := strings.LastIndex(content, closer)
	if end <= start {
		// Likely truncated mid-document; hand back from the opener on and let
		// the structural repair pass balance it.
		return content[start:], nil
	}
	return content[start : end+1], nil
}

var (
	// "level_ideal": 07  →  "level_ideal": 0.7  (digit-typo decimal)
	leadingZeroRe = regexp.MustCompile(`([\[:,]\s*)0([1-9][0-9]*)(\s*[,}\]])`)
	// "date": 2024-06-01T10:00:00Z  →  quoted (bare ISO date)
	bareDateRe = regexp.MustCompile(`([\[:,]\s*)(\d{4}-\d{2}-\d{2}(?:T[0-9:.]+(?:Z|[+-][0-9]{2}:?[0-9]{2})?)?)(\s*[,}\]])`)
	// trailing comma before a closer
	trailingCommaRe = regexp.MustCompile(`,(\s*[}\]])`)
)

// RepairJSON applies textual repairs for the malformations models commonly
// produce: comments, bare ISO dates, digit-typo decimals, trailing commas.
// The result may still be invalid; callers reparse to find out.
func RepairJSON(s string) string {
	s = stripComments(s)

	// Delimiter-anchored replacements can abut, so run to a fixed point.
	for i := 0; i < 4; i++ {
		repaired := bareDateRe.ReplaceAllString(s, `$1"$2"$3`)
		repaired = leadingZeroRe.ReplaceAllString(repaired, `${1}0.$2$3`)
		repaired = trailingCommaRe.ReplaceAllString(repaired, `$1`)
		if repaired == s {
			break
		}
		s = repaired
	}
	return s
}

// BalanceJSON attempts a structural truncation repair: close an unterminated
// string, drop a dangling partial value, and append the closers for every
// still-open bracket or brace.
func BalanceJSON(s string) string {
	var stack []byte
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}':
			if len(stack) > 0 && stack[len(stack)-1] == '{' {
				stack = stack[:len(stack)-1]
			}
		case ']':
			if len(stack) > 0 && stack[len(stack)-1] == '[' {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if inString {
		s += `"`
	}

	// A value cut off after a key ("name": ) or comma would still be invalid;
	// trim back to the last complete element before closing up.
	s = strings.TrimRight(s, " \t\n\r")
	for len(s) > 0 {
		last := s[len(s)-1]
		if last == ',' {
			s = strings.TrimRight(s[:len(s)-1], " \t\n\r")
			continue
		}
		if last == ':' {
			// The key this colon belonged to has no value; drop it as well.
			s = strings.TrimRight(s[:len(s)-1], " \t\n\r")
			s = strings.TrimRight(dropTrailingString(s), " \t\n\r")
			continue
		}
		break
	}

	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			s += "}"
		} else {
			s += "]"
		}
	}
	return s
}

// dropTrailingString removes a complete string literal from the end of s,
// if one is there.
func dropTrailingString(s string) string {
	if len(s) == 0 || s[len(s)-1] != '"' {
		return s
	}
	for i := len(s) - 2; i >= 0; i-- {
		if s[i] != '"' {
			continue
		}
		if i > 0 && s[i-1] == '\\' {
			continue
		}
		return s[:i]
	}
	return s
}

// stripComments removes // line comments and /* */ block comments outside of
// strings. URLs inside string values are left alone.
func stripComments(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			b.WriteByte(c)
			continue
		}
		if c == '/' && i+1 < len(s) {
			if s[i+1] == '/' {
				for i < len(s) && s[i] != '\n' {
					i++
				}
				if i < len(s) {
					b.WriteByte('\n')
				}
				continue
			}
			if s[i+1] == '*' {
				i += 2
				for i+1 < len(s) && !(s[i] == '*' && s[i+1] == '/') {
					i++
				}
				i++ // skip the trailing '/'
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}
