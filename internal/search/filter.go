package search

import (
	"github.com/fyrsmithlabs/recalld/internal/document"
	"github.com/fyrsmithlabs/recalld/internal/gitx"
	"github.com/fyrsmithlabs/recalld/internal/vectorstore"
)

// resolveBranches expands the effective branch into the branch set the
// where-filter scopes structural documents to. Work on a feature branch
// also sees main's structure; on main/master there is nothing to add.
// The unknown sentinel disables branch filtering entirely.
func resolveBranches(effective string) []string {
	if effective == gitx.UnknownBranch {
		return nil
	}
	branches := []string{effective}
	if effective != "main" && effective != "master" {
		branches = append(branches, "main")
	}
	return branches
}

// whereParams carries the resolved inputs of buildWhere.
type whereParams struct {
	repository       string
	branches         []string
	types            []document.Type
	initiative       string
	excludeCompleted bool
}

// buildWhere assembles the metadata filter both retrieval legs share.
// Branch-scoped types must match one of the resolved branches; every
// other type passes regardless of branch. The remaining clauses conjoin.
func buildWhere(p whereParams) vectorstore.Where {
	var clauses []vectorstore.Where

	if len(p.branches) > 0 {
		clauses = append(clauses, vectorstore.Where{
			"$or": []vectorstore.Where{
				{"$and": []vectorstore.Where{
					{document.KeyType: typeIn(document.BranchFilteredTypes())},
					{document.KeyBranch: map[string]any{"$in": p.branches}},
				}},
				{document.KeyType: typeIn(document.CrossBranchTypes())},
			},
		})
	}

	if p.repository != "" {
		clauses = append(clauses, vectorstore.Where{document.KeyRepository: p.repository})
	}

	if len(p.types) > 0 {
		clauses = append(clauses, vectorstore.Where{document.KeyType: typeIn(p.types)})
	}

	if p.initiative != "" {
		clauses = append(clauses, vectorstore.Where{document.KeyInitiativeID: p.initiative})
	}

	// Only initiative documents ever carry status=completed, and $ne
	// holds for documents without the key, so the clause is global.
	if p.excludeCompleted {
		clauses = append(clauses, vectorstore.Where{
			document.KeyStatus: map[string]any{"$ne": string(document.StatusCompleted)},
		})
	}

	switch len(clauses) {
	case 0:
		return nil
	case 1:
		return clauses[0]
	default:
		return vectorstore.Where{"$and": clauses}
	}
}

func typeIn(types []document.Type) map[string]any {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return map[string]any{"$in": names}
}
