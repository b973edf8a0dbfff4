package memory

import (
	"context"
	"path/filepath"
	"sort"

	"github.com/fyrsmithlabs/recalld/internal/document"
	"github.com/fyrsmithlabs/recalld/internal/errs"
	"github.com/fyrsmithlabs/recalld/internal/ingest"
	"github.com/fyrsmithlabs/recalld/internal/vectorstore"
)

// StaleInsight flags an insight whose linked files no longer match the
// hashes recorded when it was saved or last validated.
type StaleInsight struct {
	InsightID    string   `json:"insight_id"`
	Title        string   `json:"title,omitempty"`
	ChangedFiles []string `json:"changed_files"`
	VerifiedAt   string   `json:"verified_at,omitempty"`
}

// StaleInsights checks every active insight in repo against the
// working tree. A file that changed, disappeared, or cannot be read
// counts as changed; insights without stored hashes have nothing to
// compare and are skipped. Computed on demand, never persisted.
func (s *Service) StaleInsights(ctx context.Context, repo string) ([]StaleInsight, error) {
	return s.StaleInsightsIn(ctx, repo, "")
}

// StaleInsightsIn resolves relative linked-file paths against root
// instead of the service workdir. Orientation passes the project path
// it was pointed at; empty keeps the default.
func (s *Service) StaleInsightsIn(ctx context.Context, repo, root string) ([]StaleInsight, error) {
	records, err := s.store.Get(ctx, nil, vectorstore.Where{
		"$and": []vectorstore.Where{
			{document.KeyType: string(document.TypeInsight)},
			{document.KeyRepository: repo},
			{document.KeyStatus: string(document.StatusActive)},
		},
	})
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "fetching insights", err)
	}

	if root == "" {
		root = s.repoRoot()
	}
	var out []StaleInsight
	for _, r := range records {
		doc := recordDocument(r)
		hashes := document.MapField(doc.Metadata, document.KeyFileHashes)
		if len(hashes) == 0 {
			continue
		}

		var changed []string
		for path, stored := range hashes {
			full := path
			if !filepath.IsAbs(full) {
				full = filepath.Join(root, path)
			}
			current, err := ingest.HashFile(full)
			if err != nil || current != stored {
				changed = append(changed, path)
			}
		}
		if len(changed) == 0 {
			continue
		}
		sort.Strings(changed)
		out = append(out, StaleInsight{
			InsightID:    doc.ID,
			Title:        document.StringField(doc.Metadata, document.KeyTitle),
			ChangedFiles: changed,
			VerifiedAt:   document.StringField(doc.Metadata, document.KeyVerifiedAt),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InsightID < out[j].InsightID })
	return out, nil
}
