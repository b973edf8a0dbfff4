package document

import (
	"github.com/fyrsmithlabs/recalld/internal/errs"
)

// Validate checks the invariants a document must satisfy before it is
// persisted. It returns an InvalidArgument error naming the first
// violation found.
func Validate(d Document) error {
	if d.ID == "" {
		return errs.New(errs.InvalidArgument, "document id is required")
	}
	if d.Metadata == nil {
		return errs.New(errs.InvalidArgument, "document metadata is required")
	}

	typ := d.Type()
	if typ == "" {
		return errs.New(errs.InvalidArgument, "document type is required")
	}
	if !KnownType(typ) {
		return errs.Newf(errs.InvalidArgument, "unknown document type %q", typ)
	}

	switch d.Status() {
	case StatusActive, StatusDeprecated:
	case StatusCompleted:
		// Soft completion exists only for initiatives.
		if typ != TypeInitiative {
			return errs.Newf(errs.InvalidArgument, "status %q is only valid on initiatives", StatusCompleted)
		}
	default:
		return errs.Newf(errs.InvalidArgument, "invalid status %q", StringField(d.Metadata, KeyStatus))
	}

	if d.Repository() == "" {
		return errs.New(errs.InvalidArgument, "repository is required")
	}
	if d.Branch() == "" {
		return errs.New(errs.InvalidArgument, "branch is required; use \"unknown\" when undetectable")
	}

	switch typ {
	case TypeInsight:
		if len(StringsField(d.Metadata, KeyFiles)) == 0 {
			return errs.New(errs.InvalidArgument, "insight requires at least one linked file")
		}
	case TypeInitiative:
		if StringField(d.Metadata, KeyName) == "" {
			return errs.New(errs.InvalidArgument, "initiative requires a name")
		}
	case TypeFileMetadata, TypeDependency:
		if StringField(d.Metadata, KeyFilePath) == "" {
			return errs.Newf(errs.InvalidArgument, "%s requires file_path", typ)
		}
	}

	if sup := StringField(d.Metadata, KeySupersededBy); sup != "" && d.Status() != StatusDeprecated {
		return errs.New(errs.InvalidArgument, "superseded_by is only valid on deprecated documents")
	}

	return nil
}
