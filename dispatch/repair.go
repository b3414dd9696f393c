package dispatch

import (
	"encoding/json"
	"strings"

	"github.com/m4xw311/cadlink/errors"
)

// ErrUnrepairable is returned when arguments are still invalid after repair.
var ErrUnrepairable = errors.Sentinel("could not repair JSON arguments")

// Repair makes a best-effort structural fix of model-produced JSON. Valid
// JSON is returned unchanged and an empty payload becomes {}.
func Repair(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "{}", nil
	}
	if json.Valid([]byte(s)) {
		return raw, nil
	}
	if !strings.HasPrefix(s, "{") && !strings.HasPrefix(s, "[") {
		s = "{" + s + "}"
	}
	s = dropTrailingCommas(s)
	if json.Valid([]byte(s)) {
		return s, nil
	}
	if fixed, ok := balance(s); ok && json.Valid([]byte(fixed)) {
		return fixed, nil
	}
	return "", ErrUnrepairable
}

// dropTrailingCommas removes commas directly before a closer. Commas inside
// strings are kept.
func dropTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString, escaped := false, false
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
			b.WriteByte(c)
			continue
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && strings.IndexByte(" \t\r\n", s[j]) >= 0 {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		if c == '"' {
			inString = true
		}
		b.WriteByte(c)
	}
	return b.String()
}

// balance adds one missing closer or drops one stray trailing closer.
// Brackets inside strings are ignored.
func balance(s string) (string, bool) {
	var stack []byte
	stray := -1
	inString, escaped := false, false
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
		case '}', ']':
			if len(stack) == 0 {
				if stray >= 0 {
					return "", false
				}
				stray = i
				continue
			}
			open := stack[len(stack)-1]
			if (open == '{') != (c == '}') {
				return "", false
			}
			stack = stack[:len(stack)-1]
		}
	}
	switch {
	case stray >= 0 && len(stack) == 0 && strings.TrimSpace(s[stray+1:]) == "":
		return s[:stray] + s[stray+1:], true
	case stray < 0 && len(stack) == 1 && !inString:
		if stack[0] == '{' {
			return s + "}", true
		}
		return s + "]", true
	}
	return "", false
}
