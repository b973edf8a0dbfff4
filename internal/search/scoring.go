package search

import (
	"math"
	"sort"
	"time"

	"github.com/fyrsmithlabs/recalld/internal/document"
)

const (
	// initiativeAffinity multiplies documents tagged with the
	// initiative in scope.
	initiativeAffinity = 1.2

	// recencyFloor is the lowest boost age decay can reach. Old notes
	// fade, they never disappear on age alone.
	recencyFloor = 0.5

	// contentLimit caps result content, in runes.
	contentLimit = 2000
)

var timeNow = time.Now

// shapeParams carries the tuning the shaping stages read.
type shapeParams struct {
	recencyBoost bool
	halfLifeDays float64
	initiative   string
	minScore     float64
	verbose      bool
}

// shapeResults applies the post-rerank stages in their fixed order:
// type multiplier, recency decay, initiative affinity, re-sort, then the
// score threshold. Input results carry their rerank score in Score.
func shapeResults(results []Result, p shapeParams) []Result {
	now := timeNow()

	for i := range results {
		r := &results[i]
		r.Score *= document.Multiplier(r.Type)

		if p.recencyBoost && document.RecencyBoosted(r.Type) {
			boost := recencyBoost(document.TimeField(r.Metadata, document.KeyCreatedAt), now, p.halfLifeDays)
			r.Score *= boost
			if p.verbose && boost != 1.0 {
				r.RecencyBoost = round4(boost)
			}
		}

		if p.initiative != "" &&
			document.StringField(r.Metadata, document.KeyInitiativeID) == p.initiative {
			r.Score *= initiativeAffinity
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})

	kept := results[:0]
	for _, r := range results {
		if r.Score < p.minScore {
			continue
		}
		r.Score = round4(r.Score)
		r.RRFScore = round4(r.RRFScore)
		r.RerankScore = round4(r.RerankScore)
		r.Content = truncateContent(r.Content)
		kept = append(kept, r)
	}
	return kept
}

// recencyBoost computes the age-decay multiplier: half the score per
// half-life elapsed, floored at recencyFloor. Documents without a
// created_at timestamp do not decay.
func recencyBoost(createdAt, now time.Time, halfLifeDays float64) float64 {
	if createdAt.IsZero() || halfLifeDays <= 0 {
		return 1.0
	}
	ageDays := now.Sub(createdAt).Hours() / 24
	if ageDays <= 0 {
		return 1.0
	}
	boost := math.Pow(0.5, ageDays/halfLifeDays)
	if boost < recencyFloor {
		return recencyFloor
	}
	return boost
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func truncateContent(s string) string {
	runes := []rune(s)
	if len(runes) <= contentLimit {
		return s
	}
	return string(runes[:contentLimit])
}
