package expr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnterminatedString = errors.New("unterminated string literal")
	ErrUnbalanced         = errors.New("unbalanced brackets")
)

var closers = map[byte]byte{'(': ')', '[': ']', '{': '}'}

// skipString returns the index just past the string literal starting at
// src[start], which must be a quote character.
func skipString(src string, start int) (int, error) {
	quote := src[start]
	for i := start + 1; i < len(src); i++ {
		switch src[i] {
		case '\\':
			if quote != '`' {
				i++
			}
		case quote:
			return i + 1, nil
		}
	}
	return -1, ErrUnterminatedString
}

// MatchParen returns the index of the bracket closing the one at src[open].
// Nested ()[]{} and quoted strings are skipped, so a ")" inside a string
// literal does not end the span.
func MatchParen(src string, open int) (int, error) {
	if open >= len(src) || closers[src[open]] == 0 {
		return -1, fmt.Errorf("expected opening bracket at offset %d", open)
	}
	stack := []byte{closers[src[open]]}
	for i := open + 1; i < len(src); i++ {
		c := src[i]
		switch c {
		case '\'', '"', '`':
			end, err := skipString(src, i)
			if err != nil {
				return -1, err
			}
			i = end - 1
		case '(', '[', '{':
			stack = append(stack, closers[c])
		case ')', ']', '}':
			if stack[len(stack)-1] != c {
				return -1, fmt.Errorf("%w: unexpected %q at offset %d", ErrUnbalanced, c, i)
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i, nil
			}
		}
	}
	return -1, fmt.Errorf("%w: missing %q", ErrUnbalanced, stack[len(stack)-1])
}

// Split splits a raw argument list on top-level commas. Commas inside quotes
// or nested brackets do not split. Each argument is trimmed, so the result
// does not depend on surrounding whitespace. An empty list yields nil.
func Split(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var (
		args  []string
		stack []byte
		start int
	)
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch c {
		case '\'', '"', '`':
			end, err := skipString(raw, i)
			if err != nil {
				return nil, err
			}
			i = end - 1
		case '(', '[', '{':
			stack = append(stack, closers[c])
		case ')', ']', '}':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return nil, fmt.Errorf("%w: unexpected %q at offset %d", ErrUnbalanced, c, i)
			}
			stack = stack[:len(stack)-1]
		case ',':
			if len(stack) == 0 {
				args = append(args, strings.TrimSpace(raw[start:i]))
				start = i + 1
			}
		}
	}
	if len(stack) > 0 {
		return nil, fmt.Errorf("%w: missing %q", ErrUnbalanced, stack[len(stack)-1])
	}
	return append(args, strings.TrimSpace(raw[start:])), nil
}

// IsQuoted reports whether s is a single string literal.
func IsQuoted(s string) bool {
	if len(s) < 2 {
		return false
	}
	q := s[0]
	if q != '\'' && q != '"' && q != '`' {
		return false
	}
	end, err := skipString(s, 0)
	return err == nil && end == len(s)
}

// Unquote strips the quotes of a string literal and resolves backslash
// escapes. Backquoted strings are taken verbatim.
func Unquote(s string) (string, error) {
	if !IsQuoted(s) {
		return "", fmt.Errorf("not a string literal: %s", s)
	}
	q, body := s[0], s[1:len(s)-1]
	if q == '`' {
		return body, nil
	}
	var b strings.Builder
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c != '\\' || i == len(body)-1 {
			b.WriteByte(c)
			continue
		}
		i++
		switch body[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		default:
			b.WriteByte(body[i])
		}
	}
	return b.String(), nil
}
