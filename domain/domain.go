// Package domain implements the canned-answer override rules: a small
// ordered, data-driven list of (intent keywords, answer template) pairs
// evaluated before the LLM is ever called.
package domain

import "strings"

// Rule is one canned-answer override. A question matches when it contains
// any of IntentKeywords (case-insensitive substring match).
type Rule struct {
	Name           string
	IntentKeywords []string
	CannedAnswer   string
	// RequiredTokens, when non-empty, are date-like substrings of which an
	// LLM-generated answer must contain at least one; otherwise the answer
	// is considered invalid and CannedAnswer should be substituted.
	RequiredTokens []string
}

// Match returns the first rule whose intent keywords appear in question, and
// true, or the zero Rule and false if none match. Rules are evaluated in
// order, so more specific rules should be listed first.
func Match(question string, rules []Rule) (Rule, bool) {
	lower := strings.ToLower(question)
	for _, r := range rules {
		for _, kw := range r.IntentKeywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				return r, true
			}
		}
	}
	return Rule{}, false
}

// RequiresToken reports whether rule imposes a required-token post-check and
// text satisfies it. A rule with no RequiredTokens always passes.
func RequiresToken(rule Rule, text string) bool {
	if len(rule.RequiredTokens) == 0 {
		return true
	}
	for _, tok := range rule.RequiredTokens {
		if strings.Contains(text, tok) {
			return true
		}
	}
	return false
}
