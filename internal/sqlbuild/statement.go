package sqlbuild

import (
	"strconv"
	"strings"
)

// Statement is SQL text plus its ordered bound parameters. The text uses '?'
// markers; Numbered rewrites them to the $n placeholders the pgx driver
// expects. Builders never inline caller-supplied values into Text, so a '?'
// in the text is always a marker.
type Statement struct {
	Text string
	Args []any

	// Table and Assign are filled by Insert and Update so the store can vet
	// assignment values against column limits before the statement runs.
	Table  string
	Assign map[string]any
}

// Empty reports whether the statement has no text.
func (s Statement) Empty() bool { return s.Text == "" }

// Append joins another fragment onto the statement with a single space,
// concatenating the argument lists in order.
func (s Statement) Append(frag Statement) Statement {
	if frag.Empty() {
		return s
	}
	if s.Empty() {
		return frag
	}
	args := make([]any, 0, len(s.Args)+len(frag.Args))
	args = append(args, s.Args...)
	args = append(args, frag.Args...)
	return Statement{Text: s.Text + " " + frag.Text, Args: args}
}

// Numbered returns the text with '?' markers rewritten to $1..$n.
func (s Statement) Numbered() (string, []any) {
	var b strings.Builder
	b.Grow(len(s.Text) + len(s.Args)*2)
	n := 0
	for i := 0; i < len(s.Text); i++ {
		if s.Text[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(s.Text[i])
	}
	return b.String(), s.Args
}

// Verb returns the lowercase leading keyword of the statement, for metrics.
func (s Statement) Verb() string {
	text := strings.TrimSpace(s.Text)
	if i := strings.IndexByte(text, ' '); i > 0 {
		text = text[:i]
	}
	switch v := strings.ToLower(text); v {
	case "select", "insert", "update", "delete":
		return v
	default:
		return "other"
	}
}

// normalizeArg keeps the stored representation uniform: booleans travel as
// 0/1 integers, matching the column encoding.
func normalizeArg(v any) any {
	if b, ok := v.(bool); ok {
		if b {
			return int64(1)
		}
		return int64(0)
	}
	return v
}
