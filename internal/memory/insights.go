package memory

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/document"
	"github.com/fyrsmithlabs/recalld/internal/errs"
)

// InsightInput is the save_insight surface. Files is required: an
// insight is analysis anchored to code, and the file list is what
// staleness detection keys off.
type InsightInput struct {
	Content    string
	Files      []string
	Title      string
	Tags       []string
	Repository string
	Initiative string
}

// InsightReceipt confirms a saved insight.
type InsightReceipt struct {
	Status         string         `json:"status"`
	InsightID      string         `json:"insight_id"`
	Type           string         `json:"type"`
	Title          string         `json:"title,omitempty"`
	Files          []string       `json:"files"`
	Tags           []string       `json:"tags"`
	Initiative     *InitiativeTag `json:"initiative,omitempty"`
	InitiativeName string         `json:"initiative_name,omitempty"`
}

// ValidateInput is the validate_insight surface.
type ValidateInput struct {
	InsightID   string
	Result      string
	Notes       string
	Deprecate   bool
	Replacement string
	Repository  string
}

// ValidationReceipt reports a validation and any actions it took.
type ValidationReceipt struct {
	Status              string `json:"status"`
	InsightID           string `json:"insight_id"`
	ValidationResult    string `json:"validation_result"`
	VerifiedAt          string `json:"verified_at"`
	Deprecated          bool   `json:"deprecated,omitempty"`
	ReplacementID       string `json:"replacement_id,omitempty"`
	FileHashesRefreshed bool   `json:"file_hashes_refreshed,omitempty"`
}

// SaveInsight persists analysis linked to specific files. Each linked
// file that exists is hashed now so later validation can tell whether
// the code the insight describes has moved on.
func (s *Service) SaveInsight(ctx context.Context, in InsightInput) (*InsightReceipt, error) {
	if strings.TrimSpace(in.Content) == "" {
		return nil, errs.New(errs.InvalidArgument, "insight content is required")
	}
	if len(in.Files) == 0 {
		return nil, errs.New(errs.InvalidArgument, "insight requires at least one linked file")
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
	body += "\n\nLinked files: " + strings.Join(in.Files, ", ")

	doc := document.Document{
		ID:      document.NewInsightID(),
		Content: body,
		Metadata: map[string]any{
			document.KeyType:       string(document.TypeInsight),
			document.KeyTitle:      in.Title,
			document.KeyFiles:      in.Files,
			document.KeyTags:       tagsOrEmpty(in.Tags),
			document.KeyRepository: sc.repo,
			document.KeyBranch:     sc.branch,
			document.KeyCreatedAt:  sc.timestamp,
			document.KeyUpdatedAt:  sc.timestamp,
			document.KeyVerifiedAt: sc.timestamp,
			document.KeyStatus:     string(document.StatusActive),
			document.KeyFileHashes: s.hashFiles(ctx, in.Files),
		},
	}
	sc.stamp(doc.Metadata)

	if err := s.put(ctx, doc); err != nil {
		return nil, err
	}
	if sc.initiativeID != "" {
		s.initiatives.Touch(ctx, sc.initiativeID)
	}

	s.logger.Info(ctx, "insight saved",
		zap.String("id", doc.ID),
		zap.String("title", in.Title),
		zap.Int("files", len(in.Files)),
		zap.String("repository", sc.repo))

	return &InsightReceipt{
		Status:         StatusSaved,
		InsightID:      doc.ID,
		Type:           string(document.TypeInsight),
		Title:          in.Title,
		Files:          in.Files,
		Tags:           tagsOrEmpty(in.Tags),
		Initiative:     sc.tag(),
		InitiativeName: sc.initiativeName,
	}, nil
}

// ValidateInsight records the outcome of re-reading an insight's
// linked files. still_valid refreshes the stored hashes and commit;
// no_longer_valid with deprecate retires the insight and optionally
// saves a replacement that supersedes it.
func (s *Service) ValidateInsight(ctx context.Context, in ValidateInput) (*ValidationReceipt, error) {
	switch document.ValidationResult(in.Result) {
	case document.StillValid, document.PartiallyValid, document.NoLongerValid:
	default:
		return nil, errs.Newf(errs.InvalidArgument, "invalid validation result %q", in.Result)
	}

	records, err := s.store.Get(ctx, []string{in.InsightID}, nil)
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "fetching insight", err)
	}
	if len(records) == 0 {
		return nil, errs.Newf(errs.NotFound, "insight %q not found", in.InsightID)
	}
	doc := recordDocument(records[0])
	if doc.Type() != document.TypeInsight {
		return nil, errs.Newf(errs.PreconditionFailed, "document %s is not an insight (type=%s)", in.InsightID, doc.Type())
	}

	// A second replacement would orphan the chain recorded by the
	// first; refuse before mutating anything.
	if in.Replacement != "" {
		if prior := document.StringField(doc.Metadata, document.KeySupersededBy); prior != "" {
			return nil, errs.Newf(errs.Conflict, "insight %s is already superseded by %s", in.InsightID, prior)
		}
	}

	now := timeNow().UTC().Format(time.RFC3339)
	doc.Metadata[document.KeyVerifiedAt] = now
	doc.Metadata[document.KeyUpdatedAt] = now
	doc.Metadata[document.KeyLastValidation] = in.Result
	if document.StringField(doc.Metadata, document.KeyCreatedAt) == "" {
		doc.Metadata[document.KeyCreatedAt] = now
	}
	if in.Notes != "" {
		doc.Metadata[document.KeyValidationNotes] = in.Notes
	}

	receipt := &ValidationReceipt{
		Status:           StatusValidated,
		InsightID:        in.InsightID,
		ValidationResult: in.Result,
		VerifiedAt:       now,
	}

	switch {
	case document.ValidationResult(in.Result) == document.NoLongerValid && in.Deprecate:
		doc.Metadata[document.KeyStatus] = string(document.StatusDeprecated)
		doc.Metadata[document.KeyDeprecatedAt] = now
		reason := in.Notes
		if reason == "" {
			reason = "Marked invalid during validation"
		}
		doc.Metadata[document.KeyDeprecationReason] = reason
		receipt.Deprecated = true

		if in.Replacement != "" {
			title := document.StringField(doc.Metadata, document.KeyTitle)
			if title != "" {
				title += " (Updated)"
			}
			repl, err := s.SaveInsight(ctx, InsightInput{
				Content:    in.Replacement,
				Files:      document.StringsField(doc.Metadata, document.KeyFiles),
				Title:      title,
				Tags:       document.StringsField(doc.Metadata, document.KeyTags),
				Repository: doc.Repository(),
			})
			if err != nil {
				return nil, err
			}
			doc.Metadata[document.KeySupersededBy] = repl.InsightID
			receipt.ReplacementID = repl.InsightID
		}

	case document.ValidationResult(in.Result) == document.StillValid:
		files := document.StringsField(doc.Metadata, document.KeyFiles)
		if len(files) > 0 {
			if hashes := s.hashFiles(ctx, files); len(hashes) > 0 {
				doc.Metadata[document.KeyFileHashes] = hashes
				receipt.FileHashesRefreshed = true
			}
		}
		if commit := s.headCommit(); commit != "" {
			doc.Metadata[document.KeyValidatedCommit] = commit
		}
	}

	if err := s.put(ctx, doc); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "insight validated",
		zap.String("id", in.InsightID),
		zap.String("result", in.Result),
		zap.Bool("deprecated", receipt.Deprecated))
	return receipt, nil
}
