package initiative

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectCompletionSignals(t *testing.T) {
	positive := []string{
		"The initiative is complete, all endpoints migrated.",
		"Wrapped up the token rotation work this session.",
		"FEATURE COMPLETE: rate limiting is live in production.",
		"We finished the initiative and cut a release.",
	}
	for _, text := range positive {
		assert.True(t, DetectCompletionSignals(text), "expected signal in %q", text)
	}

	negative := []string{
		"",
		"Still debugging the auth middleware.",
		"Completed the first pass over the parser, more to do.",
		"complete rewrite planned for next quarter",
	}
	for _, text := range negative {
		assert.False(t, DetectCompletionSignals(text), "unexpected signal in %q", text)
	}
}
