package memory

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/document"
	"github.com/fyrsmithlabs/recalld/internal/errs"
)

// NoteInput is the save_note surface.
type NoteInput struct {
	Content    string
	Title      string
	Tags       []string
	Repository string
	Initiative string
}

// NoteReceipt confirms a saved note.
type NoteReceipt struct {
	Status     string         `json:"status"`
	NoteID     string         `json:"note_id"`
	Title      string         `json:"title,omitempty"`
	Initiative *InitiativeTag `json:"initiative,omitempty"`
}

// SaveNote persists a free-form note: decision, documentation snippet,
// or learning. The body is the optional title followed by the scrubbed
// content.
func (s *Service) SaveNote(ctx context.Context, in NoteInput) (*NoteReceipt, error) {
	if strings.TrimSpace(in.Content) == "" {
		return nil, errs.New(errs.InvalidArgument, "note content is required")
	}

	sc, err := s.buildContext(ctx, in.Repository, in.Initiative)
	if err != nil {
		return nil, err
	}

	body := ""
	if in.Title != "" {
		body = in.Title + "\n\n"
	}
	body += s.scrub.Scrub(in.Content).Scrubbed

	doc := document.Document{
		ID:      document.NewNoteID(),
		Content: body,
		Metadata: map[string]any{
			document.KeyType:       string(document.TypeNote),
			document.KeyTitle:      in.Title,
			document.KeyTags:       tagsOrEmpty(in.Tags),
			document.KeyRepository: sc.repo,
			document.KeyBranch:     sc.branch,
			document.KeyCreatedAt:  sc.timestamp,
			document.KeyUpdatedAt:  sc.timestamp,
			document.KeyVerifiedAt: sc.timestamp,
			document.KeyStatus:     string(document.StatusActive),
		},
	}
	sc.stamp(doc.Metadata)

	if err := s.put(ctx, doc); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "note saved",
		zap.String("id", doc.ID),
		zap.String("title", in.Title),
		zap.String("repository", sc.repo))

	return &NoteReceipt{
		Status:     StatusSaved,
		NoteID:     doc.ID,
		Title:      in.Title,
		Initiative: sc.tag(),
	}, nil
}
