package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Scrubber detects and redacts secrets from content before it is persisted.
// Redaction is irreversible: stored bodies never contain the original values.
type Scrubber interface {
	// Scrub redacts secrets from the content.
	Scrub(content string) *Result

	// ScrubFile redacts secrets from file content. Files whose path
	// matches the allowlist pass through unchanged.
	ScrubFile(path, content string) *Result

	// ScrubBytes redacts secrets from byte content.
	ScrubBytes(content []byte) *Result

	// Check detects secrets without redacting.
	Check(content string) *Result

	// IsEnabled returns whether scrubbing is active.
	IsEnabled() bool
}

// Config configures the scrubber.
type Config struct {
	// Enabled controls whether scrubbing is active
	Enabled bool `koanf:"enabled"`

	// Rules overrides the built-in table; nil means DefaultRules()
	Rules []Rule `koanf:"rules"`

	// ProjectDir locates the project .gitleaks.toml allowlist
	ProjectDir string `koanf:"project_dir"`

	// AllowlistPath is the user allowlist TOML file
	AllowlistPath string `koanf:"allowlist_path"`

	// Backstop runs the gitleaks default-config detector after the
	// named rules, redacting anything it finds as GenericToken
	Backstop bool `koanf:"backstop"`
}

// NewDefaultConfig returns a scrubber configuration with the built-in
// rule table and the gitleaks backstop enabled.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:  true,
		Backstop: true,
	}
}

type scrubber struct {
	enabled   bool
	backstop  bool
	rules     []*compiledRule
	allowlist *Allowlist
	allowRe   []*regexp.Regexp
}

// redaction tracks a claimed span and its replacement token.
type redaction struct {
	start, end  int
	replacement string
}

// New creates a Scrubber from cfg. Nil cfg means NewDefaultConfig().
// The allowlist union (project + user) is loaded once here; missing
// allowlist files are not an error.
func New(cfg *Config) (Scrubber, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}

	if !cfg.Enabled {
		return &NoopScrubber{}, nil
	}

	rules := cfg.Rules
	if rules == nil {
		rules = DefaultRules()
	}
	compiled, err := compileRules(rules)
	if err != nil {
		return nil, err
	}

	allowlist, err := LoadAllowlists(cfg.ProjectDir, cfg.AllowlistPath)
	if err != nil {
		return nil, fmt.Errorf("loading allowlists: %w", err)
	}

	allowRe := make([]*regexp.Regexp, 0, len(allowlist.Regexes))
	for _, pattern := range allowlist.Regexes {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("allowlist pattern %q: %w", pattern, err)
		}
		allowRe = append(allowRe, re)
	}

	return &scrubber{
		enabled:   true,
		backstop:  cfg.Backstop,
		rules:     compiled,
		allowlist: allowlist,
		allowRe:   allowRe,
	}, nil
}

// MustNew creates a Scrubber, panicking on error.
func MustNew(cfg *Config) Scrubber {
	s, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return s
}

// Scrub redacts secrets from the content.
func (s *scrubber) Scrub(content string) *Result {
	start := time.Now()
	result := &Result{
		Original: content,
		Scrubbed: content,
		Findings: make([]Finding, 0),
		ByRule:   make(map[string]int),
	}

	lower := strings.ToLower(content)

	// Named rules run in table order; an earlier rule's match claims
	// its span, so the generic rule cannot swallow a specific token.
	var claimed []redaction
	for _, rule := range s.rules {
		if len(rule.keywords) > 0 && !containsAny(lower, rule.keywords) {
			continue
		}

		for _, m := range rule.pattern.FindAllStringIndex(content, -1) {
			match := content[m[0]:m[1]]
			if s.isAllowed(match) {
				continue
			}
			if overlapsAny(claimed, m[0], m[1]) {
				continue
			}

			line := strings.Count(content[:m[0]], "\n") + 1
			result.Findings = append(result.Findings, Finding{
				RuleID:      rule.ID,
				Description: rule.Description,
				StartIndex:  m[0],
				EndIndex:    m[1],
				Line:        line,
			})
			result.ByRule[rule.ID]++
			claimed = append(claimed, redaction{start: m[0], end: m[1], replacement: rule.token()})
		}
	}

	scrubbed := content
	if len(claimed) > 0 {
		// Replace right-to-left so earlier offsets stay valid.
		sort.Slice(claimed, func(i, j int) bool {
			return claimed[i].start > claimed[j].start
		})
		for _, r := range claimed {
			scrubbed = scrubbed[:r.start] + r.replacement + scrubbed[r.end:]
		}
	}

	// Backstop: gitleaks default ruleset over the already-scrubbed text,
	// catching credential shapes the named table misses.
	if s.backstop {
		findings, err := backstopDetect(scrubbed, s.allowlist)
		if err == nil {
			for _, f := range findings {
				if f.Secret == "" || strings.Contains(f.Secret, "REDACTED") {
					continue
				}
				replaced := strings.Count(scrubbed, f.Secret)
				if replaced == 0 {
					continue
				}
				scrubbed = strings.ReplaceAll(scrubbed, f.Secret, GenericToken)
				result.Findings = append(result.Findings, Finding{
					RuleID:      f.RuleID,
					Description: f.Description,
					StartIndex:  -1,
					EndIndex:    -1,
					Line:        f.Line,
				})
				result.ByRule[f.RuleID]++
			}
		}
	}

	result.Scrubbed = scrubbed
	result.TotalFindings = len(result.Findings)
	result.Duration = time.Since(start)
	return result
}

// ScrubFile redacts secrets from file content unless the path is allowlisted.
func (s *scrubber) ScrubFile(path, content string) *Result {
	if s.allowlist.AllowsPath(path) {
		return &Result{
			Original: content,
			Scrubbed: content,
			Findings: make([]Finding, 0),
			ByRule:   make(map[string]int),
		}
	}
	return s.Scrub(content)
}

// ScrubBytes redacts secrets from byte content.
func (s *scrubber) ScrubBytes(content []byte) *Result {
	return s.Scrub(string(content))
}

// Check detects secrets without redacting.
func (s *scrubber) Check(content string) *Result {
	result := s.Scrub(content)
	result.Scrubbed = result.Original
	return result
}

// IsEnabled returns whether scrubbing is active.
func (s *scrubber) IsEnabled() bool {
	return s.enabled
}

// isAllowed checks the match against allowlisted content patterns.
func (s *scrubber) isAllowed(match string) bool {
	for _, re := range s.allowRe {
		if re.MatchString(match) {
			return true
		}
	}
	return false
}

// overlapsAny reports whether [start,end) intersects any claimed span.
func overlapsAny(claimed []redaction, start, end int) bool {
	for _, r := range claimed {
		if start < r.end && end > r.start {
			return true
		}
	}
	return false
}

// NoopScrubber passes content through unchanged (disabled mode).
type NoopScrubber struct{}

func (n *NoopScrubber) Scrub(content string) *Result {
	return &Result{
		Original: content,
		Scrubbed: content,
		Findings: make([]Finding, 0),
		ByRule:   make(map[string]int),
	}
}

func (n *NoopScrubber) ScrubFile(_, content string) *Result {
	return n.Scrub(content)
}

func (n *NoopScrubber) ScrubBytes(content []byte) *Result {
	return n.Scrub(string(content))
}

func (n *NoopScrubber) Check(content string) *Result {
	return n.Scrub(content)
}

func (n *NoopScrubber) IsEnabled() bool {
	return false
}

var (
	_ Scrubber = (*scrubber)(nil)
	_ Scrubber = (*NoopScrubber)(nil)
)
