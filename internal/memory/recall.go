package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/fyrsmithlabs/recalld/internal/document"
	"github.com/fyrsmithlabs/recalld/internal/errs"
	"github.com/fyrsmithlabs/recalld/internal/vectorstore"
)

const (
	defaultRecallDays  = 7
	defaultRecallLimit = 20

	// recallPreviewChars bounds item previews; the timeline is a scan
	// surface, not a reading surface.
	recallPreviewChars = 300
)

// RecallInput is the recall_recent_work surface.
type RecallInput struct {
	Repository  string
	Days        int
	Limit       int
	IncludeCode bool
}

// RecallItem is one unit of recent work.
type RecallItem struct {
	ID         string   `json:"id"`
	Type       string   `json:"type"`
	Title      string   `json:"title,omitempty"`
	Preview    string   `json:"preview"`
	Files      []string `json:"files,omitempty"`
	Initiative string   `json:"initiative,omitempty"`
	CreatedAt  string   `json:"created_at"`
}

// RecallTimeline groups items by how long ago they happened.
type RecallTimeline struct {
	Today     []RecallItem `json:"today,omitempty"`
	Yesterday []RecallItem `json:"yesterday,omitempty"`
	ThisWeek  []RecallItem `json:"this_week,omitempty"`
	Earlier   []RecallItem `json:"earlier,omitempty"`
}

// RecallResponse answers "what did I work on recently?".
type RecallResponse struct {
	Status     string         `json:"status"`
	Repository string         `json:"repository"`
	Days       int            `json:"days"`
	TotalItems int            `json:"total_items"`
	Timeline   RecallTimeline `json:"timeline"`
}

// RecallRecentWork lists the repository's memory documents from the
// lookback window, newest first, grouped into today, yesterday, this
// week, and earlier. Code chunks join only when IncludeCode is set.
func (s *Service) RecallRecentWork(ctx context.Context, in RecallInput) (*RecallResponse, error) {
	if strings.TrimSpace(in.Repository) == "" {
		return nil, errs.New(errs.InvalidArgument, "repository is required")
	}
	days := in.Days
	if days <= 0 {
		days = defaultRecallDays
	}
	limit := in.Limit
	if limit <= 0 {
		limit = defaultRecallLimit
	}

	types := []string{
		string(document.TypeNote),
		string(document.TypeSessionSummary),
		string(document.TypeInsight),
	}
	if in.IncludeCode {
		types = append(types, string(document.TypeCode))
	}

	records, err := s.store.Get(ctx, nil, vectorstore.Where{
		"$and": []vectorstore.Where{
			{document.KeyRepository: in.Repository},
			{document.KeyType: map[string]any{"$in": types}},
		},
	})
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "fetching recent work", err)
	}

	now := timeNow().UTC()
	cutoff := now.AddDate(0, 0, -days)

	type dated struct {
		item RecallItem
		at   time.Time
	}
	items := make([]dated, 0, len(records))
	for _, r := range records {
		doc := recordDocument(r)
		at := document.TimeField(doc.Metadata, document.KeyCreatedAt)
		if at.IsZero() {
			at = document.TimeField(doc.Metadata, document.KeyUpdatedAt)
		}
		if at.IsZero() || at.Before(cutoff) {
			continue
		}
		items = append(items, dated{
			at: at,
			item: RecallItem{
				ID:         doc.ID,
				Type:       string(doc.Type()),
				Title:      document.StringField(doc.Metadata, document.KeyTitle),
				Preview:    preview(doc.Content),
				Files:      document.StringsField(doc.Metadata, document.KeyFiles),
				Initiative: document.StringField(doc.Metadata, document.KeyInitiativeName),
				CreatedAt:  at.Format(time.RFC3339),
			},
		})
	}
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].at.Equal(items[j].at) {
			return items[i].at.After(items[j].at)
		}
		return items[i].item.ID < items[j].item.ID
	})
	if len(items) > limit {
		items = items[:limit]
	}

	resp := &RecallResponse{
		Status:     StatusSuccess,
		Repository: in.Repository,
		Days:       days,
		TotalItems: len(items),
	}

	startOfToday := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	startOfYesterday := startOfToday.AddDate(0, 0, -1)
	startOfWeek := startOfToday.AddDate(0, 0, -6)
	for _, d := range items {
		switch {
		case !d.at.Before(startOfToday):
			resp.Timeline.Today = append(resp.Timeline.Today, d.item)
		case !d.at.Before(startOfYesterday):
			resp.Timeline.Yesterday = append(resp.Timeline.Yesterday, d.item)
		case !d.at.Before(startOfWeek):
			resp.Timeline.ThisWeek = append(resp.Timeline.ThisWeek, d.item)
		default:
			resp.Timeline.Earlier = append(resp.Timeline.Earlier, d.item)
		}
	}
	return resp, nil
}

func preview(content string) string {
	content = strings.TrimSpace(content)
	if len(content) <= recallPreviewChars {
		return content
	}
	return content[:recallPreviewChars]
}
