package secrets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/BurntSushi/toml"
)

var (
	// ErrInvalidTOML indicates an allowlist file that exists but cannot be parsed.
	ErrInvalidTOML = errors.New("invalid allowlist TOML")

	// ErrInvalidRegex indicates an allowlist pattern that does not compile.
	ErrInvalidRegex = errors.New("invalid allowlist regex")
)

// Allowlist contains path and content regex patterns excluded from
// secret detection. Patterns are validated at load time.
type Allowlist struct {
	Paths   []string // file path regex patterns to skip entirely
	Regexes []string // content regex patterns whose matches are not secrets
}

// AllowsPath reports whether the path matches any allowlisted path pattern.
func (a *Allowlist) AllowsPath(path string) bool {
	if a == nil {
		return false
	}
	for _, pattern := range a.Paths {
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue // validated at load; defensive against direct construction
		}
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

// LoadAllowlists loads and merges the project and user allowlists using
// union (OR) logic. Missing files are silently ignored; invalid TOML or
// regex patterns return errors.
//
// projectDir: directory containing .gitleaks.toml (empty to skip)
// userPath: full path to the user allowlist TOML file (empty to skip)
func LoadAllowlists(projectDir, userPath string) (*Allowlist, error) {
	merged := &Allowlist{
		Paths:   []string{},
		Regexes: []string{},
	}

	if projectDir != "" {
		projectFile := filepath.Join(projectDir, ".gitleaks.toml")
		project, err := loadTOML(projectFile)
		switch {
		case err == nil:
			merged.Paths = append(merged.Paths, project.Paths...)
			merged.Regexes = append(merged.Regexes, project.Regexes...)
		case os.IsNotExist(err):
			// no project allowlist
		default:
			return nil, err
		}
	}

	if userPath != "" {
		user, err := loadTOML(userPath)
		switch {
		case err == nil:
			merged.Paths = append(merged.Paths, user.Paths...)
			merged.Regexes = append(merged.Regexes, user.Regexes...)
		case os.IsNotExist(err):
			// no user allowlist
		default:
			return nil, err
		}
	}

	return merged, nil
}

// loadTOML loads and validates a single allowlist file. The file uses
// the gitleaks [allowlist] table shape:
//
//	[allowlist]
//	paths = ['\.env$']
//	regexes = ['EXAMPLE_KEY']
func loadTOML(path string) (*Allowlist, error) {
	var config struct {
		Allowlist struct {
			Paths   []string
			Regexes []string
		}
	}

	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}

	for _, pattern := range config.Allowlist.Paths {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: invalid path pattern %q in %s: %v",
				ErrInvalidRegex, pattern, path, err)
		}
	}

	for _, pattern := range config.Allowlist.Regexes {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: invalid content pattern %q in %s: %v",
				ErrInvalidRegex, pattern, path, err)
		}
	}

	return &Allowlist{
		Paths:   config.Allowlist.Paths,
		Regexes: config.Allowlist.Regexes,
	}, nil
}
