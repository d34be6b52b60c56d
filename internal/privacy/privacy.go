// Package privacy implements the pipeline's Privacy Controller: a pure
// (content, content_class) -> content' transform gated by a configured
// capture level, with builtin PII pattern redaction, optional hashing, and
// an optional custom sanitizer hook.
package privacy

import (
	"crypto/md5" //nolint:gosec // G501: deterministic token derivation, not used for security
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"bilan/internal/config"
)

// builtin PII patterns, applied in this fixed order per redaction pass.
// Confidence ordering follows the teacher's anonymizer table: specific,
// structurally-unambiguous formats first, broad catch-alls last.
var builtinPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`),                    // email
	regexp.MustCompile(`(\+?1?[\-.\s]?)?\(?([0-9]{3})\)?[\-.\s]?([0-9]{3})[\-.\s]?([0-9]{4})\b`),   // phone
	regexp.MustCompile(`\b(?:\d{4}[\-\s]?){3}\d{4}\b`),                                             // 16-digit card-like
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),                                                    // SSN
	regexp.MustCompile(`\b(?:[0-9]{1,3}\.){3}[0-9]{1,3}\b`),                                        // IPv4
	regexp.MustCompile(`(?i)(?:api[_\-]?key|token|secret)[\s"':=]+[a-zA-Z0-9_\-.]{8,}`),             // key=value
	regexp.MustCompile(`(?i)\b[a-z][a-z0-9+.\-]*://[^\s"'<>]+`),                                     // URL with scheme
}

// Controller applies capture-level policy and redaction to content.
type Controller struct {
	cfg            config.PrivacyConfig
	customPatterns []*regexp.Regexp
}

// New builds a Controller from the given PrivacyConfig, pre-compiling any
// configured custom patterns (invalid patterns are skipped, not fatal).
func New(cfg config.PrivacyConfig) *Controller {
	c := &Controller{cfg: cfg}
	for _, expr := range cfg.CustomPatterns {
		if re, err := regexp.Compile(expr); err == nil {
			c.customPatterns = append(c.customPatterns, re)
		}
	}
	return c
}

// Process transforms content according to the effective capture level for
// class (one of "prompts", "responses", "errors", "metadata"). Returns ""
// and ok=false when the level is "none" and content must be suppressed
// entirely — callers must treat that as "do not attach this field".
func (c *Controller) Process(content, class string) (result string, ok bool) {
	level := c.cfg.LevelFor(class)
	switch level {
	case config.CaptureNone:
		return "", false
	case config.CaptureMetadata:
		return metadataSummary(content), true
	case config.CaptureFull:
		return content, true
	default: // sanitized, and any unrecognized value
		return c.sanitize(content), true
	}
}

// sanitize applies builtin patterns (if enabled), then custom patterns, then
// the optional user-supplied sanitizer hook, in that order.
func (c *Controller) sanitize(content string) string {
	if content == "" {
		return content
	}
	result := content
	if c.cfg.BuiltinPII {
		for _, re := range builtinPatterns {
			result = c.redactAll(re, result)
		}
	}
	for _, re := range c.customPatterns {
		result = c.redactAll(re, result)
	}
	if c.cfg.CustomSanitizer != nil {
		result = c.cfg.CustomSanitizer(result)
	}
	return result
}

func (c *Controller) redactAll(re *regexp.Regexp, text string) string {
	return re.ReplaceAllStringFunc(text, func(match string) string {
		return c.token(match)
	})
}

// token returns the replacement marker for a matched substring: a plain
// [REDACTED] marker, or if hashing is enabled and a salt is configured, a
// [HASH:xxxxxxxx] marker carrying the first 8 hex chars of md5(match||salt).
func (c *Controller) token(match string) string {
	if c.cfg.HashInsteadOfRedact && c.cfg.HashSalt != "" {
		sum := md5.Sum([]byte(match + c.cfg.HashSalt)) //nolint:gosec // G401: deterministic token, not crypto
		hexHash := fmt.Sprintf("%x", sum)[:8]
		return fmt.Sprintf("[HASH:%s]", hexHash)
	}
	return "[REDACTED]"
}

// ContainsPII reports whether content matches any active builtin or custom
// pattern, without redacting it. Pure predicate; callers use it to decide
// whether to track content at all before invoking Process.
func (c *Controller) ContainsPII(content string) bool {
	if content == "" {
		return false
	}
	if c.cfg.BuiltinPII {
		for _, re := range builtinPatterns {
			if re.MatchString(content) {
				return true
			}
		}
	}
	for _, re := range c.customPatterns {
		if re.MatchString(content) {
			return true
		}
	}
	return false
}

// metadataSummary produces the structured, content-free summary returned at
// CaptureMetadata level: length, word count, digit/special-char presence,
// and a rough sentence-count estimate, serialized into one marker string.
func metadataSummary(content string) string {
	length := len(content)
	words := len(strings.Fields(content))
	hasDigits := false
	hasSpecial := false
	sentences := 0
	for _, r := range content {
		switch {
		case unicode.IsDigit(r):
			hasDigits = true
		case r == '.' || r == '!' || r == '?':
			sentences++
		case !unicode.IsLetter(r) && !unicode.IsSpace(r) && !unicode.IsDigit(r):
			hasSpecial = true
		}
	}
	if sentences == 0 && length > 0 {
		sentences = 1
	}
	return fmt.Sprintf(
		"[METADATA length=%d words=%d has_digits=%t has_special_chars=%t sentence_estimate=%d]",
		length, words, hasDigits, hasSpecial, sentences,
	)
}
