// Package classify maps raw AI-call errors to a closed taxonomy of error
// kinds, in the ordered-rule-table style: each rule is a set of substring
// signals tested against the lowercased error message, first match wins.
package classify

import "strings"

// Kind is one of the seven closed error classes.
type Kind string

// Error kind constants.
const (
	KindTimeout             Kind = "timeout"
	KindRateLimit           Kind = "rate_limit"
	KindServiceUnavailable  Kind = "service_unavailable"
	KindContextLimit        Kind = "context_limit"
	KindAuthError           Kind = "auth_error"
	KindNetworkError        Kind = "network_error"
	KindUnknownError        Kind = "unknown_error"
)

type rule struct {
	kind     Kind
	signals  []string
	allMatch bool // true: every signal must match (AND); false: any signal matches (OR)
	message  string
}

var rules = []rule{
	{kind: KindTimeout, signals: []string{"ai_timeout", "request timeout"}, message: "AI request timed out"},
	{kind: KindRateLimit, signals: []string{"429", "rate limit", "quota"}, message: "Rate limit exceeded"},
	{kind: KindServiceUnavailable, signals: []string{"503", "service unavailable", "temporarily unavailable"}, message: "AI service temporarily unavailable"},
	{kind: KindContextLimit, signals: []string{"context", "limit"}, allMatch: true, message: "Context length limit exceeded"},
	{kind: KindAuthError, signals: []string{"401", "403", "unauthorized", "api key"}, message: "Authentication failed"},
	{kind: KindNetworkError, signals: []string{"network", "connection", "fetch"}, message: "Network error"},
}

// Classified holds the result of classifying a raw error message.
type Classified struct {
	Kind             Kind
	CanonicalMessage string
}

// Classify maps a raw error message to an error kind and canonical message.
// Matching is case-insensitive substring matching against the rule table,
// evaluated top-to-bottom; the first matching rule wins. An error matching
// no rule classifies as unknown_error with the raw message passed through
// verbatim.
func Classify(rawMessage string) Classified {
	lower := strings.ToLower(rawMessage)
	for _, r := range rules {
		if ruleMatches(r, lower) {
			return Classified{Kind: r.kind, CanonicalMessage: r.message}
		}
	}
	return Classified{Kind: KindUnknownError, CanonicalMessage: rawMessage}
}

func ruleMatches(r rule, lower string) bool {
	if r.allMatch {
		for _, s := range r.signals {
			if !strings.Contains(lower, s) {
				return false
			}
		}
		return true
	}
	for _, s := range r.signals {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
