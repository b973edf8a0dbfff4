package secrets

import (
	"fmt"
	"regexp"
	"strings"
)

// GenericToken is the replacement for secrets without a dedicated rule,
// including everything the gitleaks backstop catches.
const GenericToken = "[SECRET_REDACTED]"

// Rule defines a secret detection rule with a binding replacement token.
type Rule struct {
	// ID is the unique identifier for this rule
	ID string `koanf:"id"`

	// Description explains what this rule detects
	Description string `koanf:"description"`

	// Pattern is the regex matched against content
	Pattern string `koanf:"pattern"`

	// Keywords gate the regex: when set, at least one must appear
	// (case-insensitive) in the content before the pattern runs
	Keywords []string `koanf:"keywords"`

	// Replacement substitutes the matched span. Empty means GenericToken.
	Replacement string `koanf:"replacement"`
}

// compiledRule pairs a rule with its compiled pattern and lowercased keywords.
type compiledRule struct {
	Rule
	pattern  *regexp.Regexp
	keywords []string
}

func (r *compiledRule) token() string {
	if r.Replacement == "" {
		return GenericToken
	}
	return r.Replacement
}

// DefaultRules returns the built-in rule table. Order matters: rules
// earlier in the table claim overlapping spans, so the specific
// credential rules come before the generic assignment rule.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          "aws-access-key",
			Description: "AWS Access Key ID",
			Pattern:     `\b(?:A3T[A-Z0-9]|AKIA|AGPA|AIDA|AROA|AIPA|ANPA|ANVA|ASIA)[A-Z0-9]{16}\b`,
			Keywords:    []string{"akia", "a3t", "agpa", "aida", "aroa", "aipa", "anpa", "anva", "asia"},
			Replacement: "[AWS_ACCESS_KEY_REDACTED]",
		},
		{
			ID:          "github-pat",
			Description: "GitHub Personal Access Token",
			Pattern:     `(?:ghp|gho|ghu|ghs|ghr)_[A-Za-z0-9]{36}|github_pat_[A-Za-z0-9_]{22,}`,
			Keywords:    []string{"ghp_", "gho_", "ghu_", "ghs_", "ghr_", "github_pat_"},
			Replacement: "[GITHUB_PAT_REDACTED]",
		},
		{
			ID:          "stripe-secret",
			Description: "Stripe API Key",
			Pattern:     `(?:sk|rk)_(?:live|test)_[A-Za-z0-9]{24,}`,
			Keywords:    []string{"sk_live_", "sk_test_", "rk_live_", "rk_test_"},
			Replacement: "[STRIPE_SECRET_REDACTED]",
		},
		{
			ID:          "anthropic-key",
			Description: "Anthropic API Key",
			Pattern:     `sk-ant-[A-Za-z0-9_\-]{16,}`,
			Keywords:    []string{"sk-ant-"},
			Replacement: "[ANTHROPIC_KEY_REDACTED]",
		},
		{
			ID:          "private-key",
			Description: "Private Key Header",
			Pattern:     `-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP |ENCRYPTED )?PRIVATE KEY(?: BLOCK)?-----`,
			Keywords:    []string{"private key"},
			Replacement: "[PRIVATE_KEY_REDACTED]",
		},
		{
			ID:          "slack-token",
			Description: "Slack Token",
			Pattern:     `xox[baprs]-[A-Za-z0-9\-]{10,}`,
			Keywords:    []string{"xoxb-", "xoxa-", "xoxp-", "xoxr-", "xoxs-"},
			Replacement: "[SLACK_TOKEN_REDACTED]",
		},
		{
			ID:          "openai-key",
			Description: "OpenAI API Key",
			Pattern:     `sk-[A-Za-z0-9]{40,}`,
			Keywords:    []string{"sk-"},
		},
		{
			ID:          "database-url",
			Description: "Database URL with credentials",
			Pattern:     `(?i)(?:postgres|postgresql|mysql|mongodb|redis|amqp)://[^:\s]+:[^@\s]+@[^\s]+`,
			Keywords:    []string{"postgres", "mysql", "mongodb", "redis", "amqp"},
		},
		{
			ID:          "bearer-token",
			Description: "Bearer Token",
			Pattern:     `(?i)bearer\s+[A-Za-z0-9_\-\.=]{20,}`,
			Keywords:    []string{"bearer"},
		},
		{
			ID:          "generic-assignment",
			Description: "Credential assignment",
			Pattern:     `(?i)(?:api[_-]?key|apikey|secret|password|passwd|pwd|token|access[_-]?key|auth[_-]?token|credentials?)\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`,
			Keywords:    []string{"key", "secret", "password", "passwd", "pwd", "token", "auth", "credential"},
		},
	}
}

// compileRules validates and compiles the rule table.
func compileRules(rules []Rule) ([]*compiledRule, error) {
	compiled := make([]*compiledRule, 0, len(rules))
	for i, rule := range rules {
		if rule.ID == "" {
			return nil, fmt.Errorf("rule %d: ID is required", i)
		}
		if rule.Pattern == "" {
			return nil, fmt.Errorf("rule %s: pattern is required", rule.ID)
		}

		pattern, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %s: invalid pattern: %w", rule.ID, err)
		}

		keywords := make([]string, 0, len(rule.Keywords))
		for _, kw := range rule.Keywords {
			keywords = append(keywords, strings.ToLower(kw))
		}

		compiled = append(compiled, &compiledRule{
			Rule:     rule,
			pattern:  pattern,
			keywords: keywords,
		})
	}
	return compiled, nil
}

// containsAny reports whether lower contains any of the keywords.
// Callers pass content pre-lowercased so the scan is a plain substring check.
func containsAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
