package memory

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/document"
	"github.com/fyrsmithlabs/recalld/internal/errs"
	"github.com/fyrsmithlabs/recalld/internal/initiative"
	"github.com/fyrsmithlabs/recalld/internal/vectorstore"
)

// SessionInput is the save_session_summary surface.
type SessionInput struct {
	Summary      string
	ChangedFiles []string
	Repository   string
	Initiative   string

	// SessionID is the capture session identifier (transcript filename
	// stem). Autocapture sets it so repeated jobs for the same session
	// can be detected; explicit saves leave it empty.
	SessionID string
}

// SessionInitiative names the initiative a session was tagged with and
// whether the summary reads like that initiative is finished.
type SessionInitiative struct {
	ID                       string `json:"id"`
	Name                     string `json:"name"`
	CompletionSignalDetected bool   `json:"completion_signal_detected"`
	Prompt                   string `json:"prompt,omitempty"`
}

// SessionReceipt confirms a saved session summary.
type SessionReceipt struct {
	Status        string             `json:"status"`
	SessionID     string             `json:"session_id"`
	SummarySaved  bool               `json:"summary_saved"`
	FilesRecorded int                `json:"files_recorded"`
	Initiative    *SessionInitiative `json:"initiative,omitempty"`
}

// ConcludeSession persists an end-of-session narrative together with
// the files it changed. When the summary sounds like the tagged
// initiative finished, the receipt prompts the caller to confirm with
// complete_initiative instead of completing anything itself.
func (s *Service) ConcludeSession(ctx context.Context, in SessionInput) (*SessionReceipt, error) {
	if strings.TrimSpace(in.Summary) == "" {
		return nil, errs.New(errs.InvalidArgument, "session summary is required")
	}

	sc, err := s.buildContext(ctx, in.Repository, in.Initiative)
	if err != nil {
		return nil, err
	}

	files := in.ChangedFiles
	if files == nil {
		files = []string{}
	}

	body := "Session Summary:\n\n" + s.scrub.Scrub(in.Summary).Scrubbed +
		"\n\nChanged files: " + strings.Join(files, ", ")

	doc := document.Document{
		ID:      document.NewSessionSummaryID(),
		Content: body,
		Metadata: map[string]any{
			document.KeyType:       string(document.TypeSessionSummary),
			document.KeyRepository: sc.repo,
			document.KeyBranch:     sc.branch,
			document.KeyFiles:      files,
			document.KeyCreatedAt:  sc.timestamp,
			document.KeyUpdatedAt:  sc.timestamp,
			document.KeyStatus:     string(document.StatusActive),
		},
	}
	if in.SessionID != "" {
		doc.Metadata[document.KeySessionID] = in.SessionID
	}
	sc.stamp(doc.Metadata)

	if err := s.put(ctx, doc); err != nil {
		return nil, err
	}
	if sc.initiativeID != "" {
		s.initiatives.Touch(ctx, sc.initiativeID)
	}

	s.logger.Info(ctx, "session summary saved",
		zap.String("id", doc.ID),
		zap.Int("files", len(files)),
		zap.String("repository", sc.repo))

	receipt := &SessionReceipt{
		Status:        StatusSuccess,
		SessionID:     doc.ID,
		SummarySaved:  true,
		FilesRecorded: len(files),
	}
	if sc.initiativeID != "" {
		detected := initiative.DetectCompletionSignals(in.Summary)
		receipt.Initiative = &SessionInitiative{
			ID:                       sc.initiativeID,
			Name:                     sc.initiativeName,
			CompletionSignalDetected: detected,
		}
		if detected {
			receipt.Initiative.Prompt = "mark_complete"
		}
	}
	return receipt, nil
}

// SessionCaptured reports whether a summary tagged with the given
// capture session id has already been persisted. Autocapture consults
// it so a session is summarized at most once.
func (s *Service) SessionCaptured(ctx context.Context, sessionID string) (bool, error) {
	if sessionID == "" {
		return false, nil
	}
	records, err := s.store.Get(ctx, nil, vectorstore.Where{"$and": []vectorstore.Where{
		{document.KeyType: string(document.TypeSessionSummary)},
		{document.KeySessionID: sessionID},
	}})
	if err != nil {
		return false, errs.Wrap(errs.Unavailable, "looking up captured session", err)
	}
	return len(records) > 0, nil
}
