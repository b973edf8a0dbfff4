package secrets

import (
	"regexp"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// backstopFinding is a secret found by the gitleaks default ruleset.
type backstopFinding struct {
	RuleID      string
	Description string
	Line        int
	Secret      string
}

// backstopDetect scans content with the gitleaks default config. A
// fresh detector per call keeps scans independent; the cost is paid
// once per persisted body, not per rule.
func backstopDetect(content string, allowlist *Allowlist) ([]backstopFinding, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, err
	}

	if allowlist != nil && (len(allowlist.Paths) > 0 || len(allowlist.Regexes) > 0) {
		applyAllowlist(&detector.Config, allowlist)
	}

	findings := detector.DetectString(content)

	result := make([]backstopFinding, 0, len(findings))
	for _, f := range findings {
		result = append(result, backstopFinding{
			RuleID:      f.RuleID,
			Description: f.Description,
			Line:        f.StartLine,
			Secret:      f.Secret,
		})
	}
	return result, nil
}

// applyAllowlist merges our allowlist patterns into the gitleaks config.
// Patterns were validated at load time, so compilation cannot fail here.
func applyAllowlist(cfg *gitleaksConfig.Config, allowlist *Allowlist) {
	global := &gitleaksConfig.Allowlist{
		Description: "recalld user/project allowlist",
	}

	for _, pattern := range allowlist.Paths {
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}
		global.Paths = append(global.Paths, (*gitleaksRegexp.Regexp)(re))
	}

	for _, pattern := range allowlist.Regexes {
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(re))
	}

	cfg.Allowlists = append(cfg.Allowlists, global)
}
