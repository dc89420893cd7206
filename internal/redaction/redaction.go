// redaction.go - Scrubs credentials from text before it reaches a log line.
// Message previews (malformed extension frames, unparseable stdin, unexpected
// daemon replies) may carry page content, cookies, or typed passwords.
// RE2 patterns only, so matching stays linear in the preview length.
package redaction

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/brennhill/gasoline-browser-bridge/internal/mcp"
)

// Pattern is one named redaction rule.
type Pattern struct {
	Name    string
	Expr    string
	Confirm func(match string) bool // optional post-match check
}

type rule struct {
	re          *regexp.Regexp
	replacement string
	confirm     func(string) bool
}

// Engine applies compiled rules in order. Safe for concurrent use.
type Engine struct {
	rules []rule
}

// Builtin is the default rule set.
var Builtin = []Pattern{
	{Name: "aws-key", Expr: `AKIA[0-9A-Z]{16}`},
	{Name: "bearer-token", Expr: `Bearer [A-Za-z0-9\-._~+/]+=*`},
	{Name: "basic-auth", Expr: `Basic [A-Za-z0-9+/]+=*`},
	{Name: "jwt", Expr: `eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]+`},
	{Name: "github-pat", Expr: `(ghp_[A-Za-z0-9]{36,}|github_pat_[A-Za-z0-9_]{36,})`},
	{Name: "private-key", Expr: `-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`},
	{Name: "credit-card", Expr: `\b([0-9]{4}[- ]?[0-9]{4}[- ]?[0-9]{4}[- ]?[0-9]{4})\b`, Confirm: luhnValid},
	{Name: "api-key", Expr: `(?i)(api[_-]?key|apikey|secret[_-]?key)\s*[:=]\s*\S+`},
	{Name: "session-cookie", Expr: `(?i)(session|sid|token)\s*=\s*[A-Za-z0-9+/=_-]{16,}`},
	// Values typed into password fields travel as {"type":"type",...,"text":"..."}.
	{Name: "typed-text", Expr: `"text"\s*:\s*"(?:[^"\\]|\\.)*"`},
}

// New compiles patterns. An invalid expression is an error.
func New(patterns []Pattern) (*Engine, error) {
	e := &Engine{rules: make([]rule, 0, len(patterns))}
	for _, p := range patterns {
		re, err := regexp.Compile(p.Expr)
		if err != nil {
			return nil, fmt.Errorf("redaction pattern %q: %w", p.Name, err)
		}
		e.rules = append(e.rules, rule{re: re, replacement: "[REDACTED:" + p.Name + "]", confirm: p.Confirm})
	}
	return e, nil
}

var defaultEngine = mustNew(Builtin)

func mustNew(patterns []Pattern) *Engine {
	e, err := New(patterns)
	if err != nil {
		panic(err)
	}
	return e
}

// Redact applies every rule to input.
func (e *Engine) Redact(input string) string {
	if input == "" {
		return ""
	}
	out := input
	for _, r := range e.rules {
		if r.confirm == nil {
			out = r.re.ReplaceAllString(out, r.replacement)
			continue
		}
		out = r.re.ReplaceAllStringFunc(out, func(match string) string {
			if r.confirm(match) {
				return r.replacement
			}
			return match
		})
	}
	return out
}

// Preview returns s scrubbed by the builtin rules and cut to maxLen bytes
// (with a trailing "..."). Truncation happens after redaction so a secret
// split by the cut is still caught.
func Preview(s string, maxLen int) string {
	return mcp.Truncate(defaultEngine.Redact(s), maxLen)
}

// luhnValid checks if a numeric string passes the Luhn algorithm.
func luhnValid(number string) bool {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, number)

	if len(digits) < 13 || len(digits) > 19 {
		return false
	}

	sum := 0
	alt := false
	for i := len(digits) - 1; i >= 0; i-- {
		n := int(digits[i] - '0')
		if alt {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		alt = !alt
	}
	return sum%10 == 0
}
