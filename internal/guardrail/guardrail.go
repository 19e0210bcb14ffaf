// Package guardrail gates SQL text against a denylist of write/DDL keywords
// before it is allowed anywhere near the database.
//
// This is a surface-level scan, not semantic analysis: statements hidden in
// comments or dollar-quoted strings can evade it. The execution indirection
// on the database side is the second line of defense.
package guardrail

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

type Result struct {
	Allowed bool   `json:"allowed"`
	Keyword string `json:"keyword,omitempty"`
}

// BlockedError is returned when a query trips the denylist. It carries the
// matched keyword so callers can surface it to the user.
type BlockedError struct {
	Keyword string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("query blocked by guardrail: keyword %q is not allowed", e.Keyword)
}

// Validator scans SQL for denylisted keywords on whole-token boundaries, so
// an identifier like created_at never matches CREATE.
type Validator struct {
	keywords []string
	patterns []*regexp.Regexp
}

func NewValidator(keywords []string) (*Validator, error) {
	if len(keywords) == 0 {
		return nil, fmt.Errorf("at least one guardrail keyword is required")
	}

	seen := map[string]struct{}{}
	normalized := make([]string, 0, len(keywords))
	for _, keyword := range keywords {
		keyword = strings.ToUpper(strings.TrimSpace(keyword))
		if keyword == "" {
			continue
		}
		if _, ok := seen[keyword]; ok {
			continue
		}
		seen[keyword] = struct{}{}
		normalized = append(normalized, keyword)
	}
	if len(normalized) == 0 {
		return nil, fmt.Errorf("guardrail keyword set is empty after normalization")
	}
	sort.Strings(normalized)

	patterns := make([]*regexp.Regexp, 0, len(normalized))
	for _, keyword := range normalized {
		pattern, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(keyword) + `\b`)
		if err != nil {
			return nil, fmt.Errorf("compile guardrail pattern for %q: %w", keyword, err)
		}
		patterns = append(patterns, pattern)
	}

	return &Validator{keywords: normalized, patterns: patterns}, nil
}

// Keywords returns the normalized denylist in stable order.
func (v *Validator) Keywords() []string {
	out := make([]string, len(v.keywords))
	copy(out, v.keywords)
	return out
}

// Validate scans the SQL text and reports the first matched keyword, if any.
// It never inspects statement structure; SELECT wrapping a denylisted token
// inside an identifier passes, a bare keyword anywhere fails.
func (v *Validator) Validate(sqlText string) Result {
	for i, pattern := range v.patterns {
		if pattern.MatchString(sqlText) {
			return Result{Allowed: false, Keyword: v.keywords[i]}
		}
	}
	return Result{Allowed: true}
}
