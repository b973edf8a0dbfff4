// Package secrets provides secret detection and redaction.
//
// Every body recalld persists (code chunks, notes, insights, session
// summaries) passes through a Scrubber first. A named rule table maps
// well-known credential shapes to binding replacement tokens such as
// [AWS_ACCESS_KEY_REDACTED]; a gitleaks default-config detector runs as
// a backstop and redacts anything else as [SECRET_REDACTED]. Redaction
// is irreversible.
//
// Allowlists follow the gitleaks TOML shape and merge as the union of
// the project .gitleaks.toml and the user allowlist file.
package secrets
