// Package detector flags user-supplied strings that look like SQL injection
// or cross-site scripting attempts, and strips markup from text that is kept.
//
// Detection is heuristic. False negatives are expected; callers still need
// parameterized queries and output encoding at the persistence boundary.
package detector

import (
	"regexp"
	"strings"
)

// Result is the outcome of Detect. Patterns names every rule that matched,
// in rule order, for audit payloads only; it must never be echoed to the
// caller that supplied the input.
type Result struct {
	SQLInjection bool     `json:"sql_injection"`
	XSS          bool     `json:"xss"`
	Patterns     []string `json:"patterns,omitempty"`
}

// Detected reports whether any rule set matched.
func (r Result) Detected() bool {
	return r.SQLInjection || r.XSS
}

// Kinds lists the attack classes that matched.
func (r Result) Kinds() []string {
	var kinds []string
	if r.SQLInjection {
		kinds = append(kinds, "sql_injection")
	}
	if r.XSS {
		kinds = append(kinds, "xss")
	}
	return kinds
}

// Go's regexp is RE2: matching is linear in the input, so none of these can
// backtrack catastrophically. Compiled once at init, never per request.
var sqlRules = []struct {
	name string
	re   *regexp.Regexp
}{
	{"sql:quoted-tautology", regexp.MustCompile(`(?i)['"]\s*(or|and)\s+['"]?\w+['"]?\s*(=|like)\s*['"]?\w+`)},
	{"sql:tautology", regexp.MustCompile(`(?i)['")]\s*or\s+(1\s*=\s*1|true)\b|\b\d+\s+or\s+1\s*=\s*1\b`)},
	{"sql:quote-terminator", regexp.MustCompile(`'\s*;`)},
	{"sql:quote-comment", regexp.MustCompile(`'\s*(--|#|/\*)`)},
	{"sql:stacked-statement", regexp.MustCompile(`(?i);\s*(drop|delete|insert|update|alter|truncate|create|exec|shutdown)\b`)},
	{"sql:union-select", regexp.MustCompile(`(?i)\bunion\b(\s+all)?\s+select\b`)},
	{"sql:drop-table", regexp.MustCompile(`(?i)\b(drop|truncate)\s+table\b`)},
	{"sql:select-probe", regexp.MustCompile(`(?i)\bselect\s+@@version\b|\bselect\s+(\*|null\b|count\s*\(|concat\s*\()[^;]{0,200}?\bfrom\b`)},
	{"sql:schema-probe", regexp.MustCompile(`(?i)\binformation_schema\b|\bsysobjects\b`)},
	{"sql:time-based", regexp.MustCompile(`(?i)\b(sleep|pg_sleep|benchmark)\s*\(|\bwaitfor\s+delay\b`)},
	{"sql:command-exec", regexp.MustCompile(`(?i)\bxp_cmdshell\b`)},
}

// xssMarkers are matched by plain substring containment on the lowercased
// input.
var xssMarkers = []string{
	"<script",
	"</script",
	"<iframe",
	"<object",
	"<embed",
	"<svg/onload",
	"javascript:",
	"vbscript:",
	"data:text/html",
	"onerror=",
	"onload=",
	"onclick=",
	"onmouseover=",
	"onfocus=",
	"srcdoc=",
}

// Detect classifies input. It is a pure function of input and is safe for
// unbounded concurrent use.
func Detect(input string) Result {
	var res Result
	if input == "" {
		return res
	}

	for _, rule := range sqlRules {
		if rule.re.MatchString(input) {
			res.SQLInjection = true
			res.Patterns = append(res.Patterns, rule.name)
		}
	}

	lower := collapseBeforeEquals(strings.ToLower(input))
	for _, marker := range xssMarkers {
		if strings.Contains(lower, marker) {
			res.XSS = true
			res.Patterns = append(res.Patterns, "xss:"+marker)
		}
	}

	return res
}

// collapseBeforeEquals drops whitespace that precedes "=" so "onerror =" is
// caught like "onerror=".
func collapseBeforeEquals(s string) string {
	if !strings.Contains(s, "=") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	pending := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			pending++
			continue
		}
		if c != '=' {
			for ; pending > 0; pending-- {
				b.WriteByte(' ')
			}
		}
		pending = 0
		b.WriteByte(c)
	}
	for ; pending > 0; pending-- {
		b.WriteByte(' ')
	}
	return b.String()
}

// DetectAny runs Detect on string values and reports nothing for anything else.
func DetectAny(v any) Result {
	switch s := v.(type) {
	case string:
		return Detect(s)
	case *string:
		if s == nil {
			return Result{}
		}
		return Detect(*s)
	default:
		return Result{}
	}
}
