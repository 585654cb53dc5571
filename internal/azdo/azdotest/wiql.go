package azdotest

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

func unescape(s string) (string, error) { return url.PathUnescape(s) }

type condition struct {
	not    bool
	field  string
	op     string
	values []string
}

// parseWIQL understands "SELECT ... FROM WorkItems WHERE c1 AND c2 ... [ORDER BY ...]"
// where each condition compares one field with a literal or literal list.
func parseWIQL(q string) ([]condition, error) {
	upper := strings.ToUpper(q)
	i := strings.Index(upper, " WHERE ")
	if i < 0 {
		return nil, fmt.Errorf("expected WHERE clause")
	}
	where := q[i+len(" WHERE "):]
	if j := strings.LastIndex(strings.ToUpper(where), " ORDER BY "); j >= 0 {
		where = where[:j]
	}

	var conds []condition
	for _, part := range splitAnd(where) {
		c, err := parseCondition(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		conds = append(conds, c)
	}
	return conds, nil
}

// splitAnd splits on AND outside quotes and parentheses.
func splitAnd(s string) []string {
	var parts []string
	depth, quoted, start := 0, false, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\'':
			quoted = !quoted
		case '(':
			if !quoted {
				depth++
			}
		case ')':
			if !quoted {
				depth--
			}
		case ' ':
			if !quoted && depth == 0 && strings.HasPrefix(strings.ToUpper(s[i:]), " AND ") {
				parts = append(parts, s[start:i])
				start = i + len(" AND ")
				i = start - 1
			}
		}
	}
	return append(parts, s[start:])
}

func parseCondition(s string) (condition, error) {
	var c condition
	if strings.HasPrefix(strings.ToUpper(s), "NOT ") {
		c.not = true
		s = strings.TrimSpace(s[4:])
	}
	if !strings.HasPrefix(s, "[") {
		return c, fmt.Errorf("expected field reference in %q", s)
	}
	end := strings.Index(s, "]")
	if end < 0 {
		return c, fmt.Errorf("unterminated field reference in %q", s)
	}
	c.field = s[1:end]
	rest := strings.TrimSpace(s[end+1:])

	for _, op := range []string{"NOT IN", "IN", "UNDER", "CONTAINS", ">=", "<=", "<>", "="} {
		if !strings.HasPrefix(strings.ToUpper(rest), op) {
			continue
		}
		c.op = op
		operand := strings.TrimSpace(rest[len(op):])
		if op == "IN" || op == "NOT IN" {
			if !strings.HasPrefix(operand, "(") || !strings.HasSuffix(operand, ")") {
				return c, fmt.Errorf("expected list after %s", op)
			}
			vals, err := parseLiterals(operand[1 : len(operand)-1])
			if err != nil {
				return c, err
			}
			c.values = vals
			return c, nil
		}
		vals, err := parseLiterals(operand)
		if err != nil {
			return c, err
		}
		if len(vals) != 1 {
			return c, fmt.Errorf("expected one literal after %s", op)
		}
		c.values = vals
		return c, nil
	}
	return c, fmt.Errorf("unsupported operator in %q", s)
}

func parseLiterals(s string) ([]string, error) {
	var out []string
	s = strings.TrimSpace(s)
	for s != "" {
		if s[0] != '\'' {
			return nil, fmt.Errorf("expected string literal at %q", s)
		}
		var b strings.Builder
		i := 1
		for ; i < len(s); i++ {
			if s[i] == '\'' {
				if i+1 < len(s) && s[i+1] == '\'' {
					b.WriteByte('\'')
					i++
					continue
				}
				break
			}
			b.WriteByte(s[i])
		}
		if i >= len(s) {
			return nil, fmt.Errorf("unterminated string literal")
		}
		out = append(out, b.String())
		s = strings.TrimSpace(s[i+1:])
		s = strings.TrimSpace(strings.TrimPrefix(s, ","))
	}
	return out, nil
}

// candidates renders a field as the strings a comparison may match. An
// identity matches by display name or unique name.
func candidates(wi *workItem, field string) []string {
	v, ok := wi.Fields[field]
	if !ok || v == nil {
		return []string{""}
	}
	if m, ok := v.(map[string]any); ok {
		return []string{fmt.Sprint(m["displayName"]), fmt.Sprint(m["uniqueName"])}
	}
	return []string{fmt.Sprint(v)}
}

func compareDates(have, want string) (int, bool) {
	if len(want) == len(time.DateOnly) && len(have) >= len(want) {
		return strings.Compare(have[:len(want)], want), true
	}
	h, err1 := time.Parse(time.RFC3339, have)
	w, err2 := time.Parse(time.RFC3339, want)
	if err1 != nil || err2 != nil {
		return 0, false
	}
	return h.Compare(w), true
}

func (c condition) match(wi *workItem) bool {
	return c.eval(wi) != c.not
}

func (c condition) eval(wi *workItem) bool {
	cands := candidates(wi, c.field)
	for _, have := range cands {
		for _, want := range c.values {
			if c.matchOne(have, want) {
				return c.op != "NOT IN" && c.op != "<>"
			}
		}
	}
	return c.op == "NOT IN" || c.op == "<>"
}

func (c condition) matchOne(have, want string) bool {
	switch c.op {
	case "=", "<>", "IN", "NOT IN":
		return strings.EqualFold(have, want)
	case "UNDER":
		return strings.EqualFold(have, want) || strings.HasPrefix(strings.ToLower(have), strings.ToLower(want)+`\`)
	case "CONTAINS":
		if c.field == "System.Tags" {
			for _, tag := range strings.Split(have, ";") {
				if strings.EqualFold(strings.TrimSpace(tag), want) {
					return true
				}
			}
			return false
		}
		return strings.Contains(strings.ToLower(have), strings.ToLower(want))
	case ">=":
		n, ok := compareDates(have, want)
		return ok && n >= 0
	case "<=":
		n, ok := compareDates(have, want)
		return ok && n <= 0
	}
	return false
}
