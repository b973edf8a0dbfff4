package memory

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/document"
	"github.com/fyrsmithlabs/recalld/internal/errs"
	"github.com/fyrsmithlabs/recalld/internal/initiative"
)

// TechStackInput is the set_tech_stack surface.
type TechStackInput struct {
	Repository string
	TechStack  string
}

// TechStackReceipt confirms the upserted repository context.
type TechStackReceipt struct {
	Status     string `json:"status"`
	DocumentID string `json:"document_id"`
	Repository string `json:"repository"`
}

// RepoContext is the get_repo_context payload: the stored tech stack
// plus whichever initiative the repository currently focuses.
type RepoContext struct {
	Repository string                 `json:"repository"`
	TechStack  string                 `json:"tech_stack,omitempty"`
	UpdatedAt  string                 `json:"updated_at,omitempty"`
	Initiative *initiative.Initiative `json:"initiative,omitempty"`
}

// SetTechStack upserts the repository's singleton tech-stack document:
// languages, frameworks, and architecture notes stable enough to orient
// a fresh session. Setting it again replaces the previous content.
func (s *Service) SetTechStack(ctx context.Context, in TechStackInput) (*TechStackReceipt, error) {
	if strings.TrimSpace(in.TechStack) == "" {
		return nil, errs.New(errs.InvalidArgument, "tech stack content is required")
	}

	sc, err := s.buildContext(ctx, in.Repository, "")
	if err != nil {
		return nil, err
	}

	doc := document.Document{
		ID:      document.TechStackID(sc.repo),
		Content: s.scrub.Scrub(in.TechStack).Scrubbed,
		Metadata: map[string]any{
			document.KeyType:       string(document.TypeTechStack),
			document.KeyRepository: sc.repo,
			document.KeyBranch:     sc.branch,
			document.KeyCreatedAt:  sc.timestamp,
			document.KeyUpdatedAt:  sc.timestamp,
			document.KeyStatus:     string(document.StatusActive),
		},
	}

	if err := s.put(ctx, doc); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "tech stack set",
		zap.String("id", doc.ID),
		zap.String("repository", sc.repo))

	return &TechStackReceipt{
		Status:     StatusSaved,
		DocumentID: doc.ID,
		Repository: sc.repo,
	}, nil
}

// RepoContext loads the context saved by SetTechStack. A repository
// with nothing stored still resolves; the payload just stays empty.
func (s *Service) RepoContext(ctx context.Context, repository string) (*RepoContext, error) {
	repo := s.initiatives.ResolveRepository(ctx, repository)
	out := &RepoContext{Repository: repo}

	records, err := s.store.Get(ctx, []string{document.TechStackID(repo)}, nil)
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "fetching tech stack", err)
	}
	if len(records) > 0 {
		meta := document.Expand(records[0].Metadata)
		out.TechStack = records[0].Content
		out.UpdatedAt = document.StringField(meta, document.KeyUpdatedAt)
	}

	focused, err := s.initiatives.Focused(ctx, repo)
	if err != nil {
		return nil, err
	}
	out.Initiative = focused
	return out, nil
}
