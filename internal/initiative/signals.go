package initiative

import "strings"

// StaleThresholdDays is how long an active initiative can go without an
// update before list and orient calls flag it stale.
const StaleThresholdDays = 14

// completionPhrases are matched case-insensitively against session
// summaries. A hit does not complete anything; it only prompts the
// caller to confirm with complete_initiative.
var completionPhrases = []string{
	"initiative complete",
	"initiative is complete",
	"initiative is done",
	"completed the initiative",
	"finished the initiative",
	"project complete",
	"project is complete",
	"feature complete",
	"all tasks complete",
	"all tasks are done",
	"work is complete",
	"ready to close",
	"wrapped up the",
	"shipped the feature",
	"marking this complete",
	"mark it complete",
}

// DetectCompletionSignals reports whether text reads like the work of
// an initiative has finished.
func DetectCompletionSignals(text string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, phrase := range completionPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
