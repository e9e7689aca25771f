package ldaptest

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// filter is a parsed search filter. Only the forms the engine emits are
// supported: &, |, !, equality, presence and substring.
type filter interface {
	match(e *ldap.Entry) bool
}

type andFilter []filter

func (f andFilter) match(e *ldap.Entry) bool {
	for _, sub := range f {
		if !sub.match(e) {
			return false
		}
	}
	return true
}

type orFilter []filter

func (f orFilter) match(e *ldap.Entry) bool {
	for _, sub := range f {
		if sub.match(e) {
			return true
		}
	}
	return false
}

type notFilter struct{ sub filter }

func (f notFilter) match(e *ldap.Entry) bool { return !f.sub.match(e) }

// itemFilter matches attr against parts split on unescaped wildcards.
// A single part is an equality match; an empty single-wildcard is presence.
type itemFilter struct {
	attr  string
	parts []string
}

func (f itemFilter) match(e *ldap.Entry) bool {
	a := attribute(e, f.attr)
	if a == nil || len(a.Values) == 0 {
		return false
	}
	if len(f.parts) == 2 && f.parts[0] == "" && f.parts[1] == "" {
		return true
	}
	for _, v := range a.Values {
		if f.matchValue(strings.ToLower(v)) {
			return true
		}
	}
	return false
}

func (f itemFilter) matchValue(v string) bool {
	if len(f.parts) == 1 {
		return v == strings.ToLower(f.parts[0])
	}

	first := strings.ToLower(f.parts[0])
	if !strings.HasPrefix(v, first) {
		return false
	}
	v = v[len(first):]

	last := strings.ToLower(f.parts[len(f.parts)-1])
	for _, mid := range f.parts[1 : len(f.parts)-1] {
		mid = strings.ToLower(mid)
		idx := strings.Index(v, mid)
		if idx < 0 {
			return false
		}
		v = v[idx+len(mid):]
	}
	return strings.HasSuffix(v, last)
}

func parseFilter(s string) (filter, error) {
	f, rest, err := parseOne(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	if rest != "" {
		return nil, fmt.Errorf("trailing data in filter: %q", rest)
	}
	return f, nil
}

func parseOne(s string) (filter, string, error) {
	if !strings.HasPrefix(s, "(") {
		return nil, "", fmt.Errorf("filter must start with '(': %q", s)
	}
	s = s[1:]
	if s == "" {
		return nil, "", fmt.Errorf("unterminated filter")
	}

	switch s[0] {
	case '&', '|':
		op := s[0]
		s = s[1:]
		var subs []filter
		for strings.HasPrefix(s, "(") {
			sub, rest, err := parseOne(s)
			if err != nil {
				return nil, "", err
			}
			subs = append(subs, sub)
			s = rest
		}
		if !strings.HasPrefix(s, ")") {
			return nil, "", fmt.Errorf("unterminated filter set")
		}
		if op == '&' {
			return andFilter(subs), s[1:], nil
		}
		return orFilter(subs), s[1:], nil
	case '!':
		sub, rest, err := parseOne(s[1:])
		if err != nil {
			return nil, "", err
		}
		if !strings.HasPrefix(rest, ")") {
			return nil, "", fmt.Errorf("unterminated not filter")
		}
		return notFilter{sub}, rest[1:], nil
	}

	end := strings.IndexByte(s, ')')
	if end < 0 {
		return nil, "", fmt.Errorf("unterminated filter item")
	}
	item := s[:end]
	attr, value, ok := strings.Cut(item, "=")
	if !ok || attr == "" {
		return nil, "", fmt.Errorf("invalid filter item: %q", item)
	}

	parts, err := splitValue(value)
	if err != nil {
		return nil, "", err
	}
	return itemFilter{attr: attr, parts: parts}, s[end+1:], nil
}

// splitValue decodes \XX escapes and splits on unescaped '*'.
func splitValue(value string) ([]string, error) {
	var parts []string
	var cur []byte
	for i := 0; i < len(value); i++ {
		switch c := value[i]; c {
		case '*':
			parts = append(parts, string(cur))
			cur = nil
		case '\\':
			if i+2 >= len(value) {
				return nil, fmt.Errorf("truncated escape in %q", value)
			}
			b, err := strconv.ParseUint(value[i+1:i+3], 16, 8)
			if err != nil {
				return nil, fmt.Errorf("invalid escape in %q: %w", value, err)
			}
			cur = append(cur, byte(b))
			i += 2
		default:
			cur = append(cur, c)
		}
	}
	return append(parts, string(cur)), nil
}
