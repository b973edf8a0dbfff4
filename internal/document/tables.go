package document

// TypeMultipliers shape final search scores by document type.
// Code can be grepped; understanding cannot, so memory types outrank
// structural ones.
var TypeMultipliers = map[Type]float64{
	// Understanding (highest value)
	TypeInsight:        2.0,
	TypeNote:           1.5,
	TypeSessionSummary: 1.5,
	// Usage
	TypeEntryPoint:   1.4,
	TypeFileMetadata: 1.3,
	TypeDataContract: 1.3,
	TypeIdiom:        1.3,
	// Context
	TypeTechStack: 1.2,
	// Standard
	TypeDependency: 1.0,
	TypeSkeleton:   1.0,
	TypeInitiative: 1.0,
}

// Multiplier returns the score multiplier for a type, 1.0 when unlisted.
func Multiplier(t Type) float64 {
	if m, ok := TypeMultipliers[t]; ok {
		return m
	}
	return 1.0
}

// SearchPresets name type bundles for common query intents.
var SearchPresets = map[string][]Type{
	// "Why did we...?" / "What was decided...?"
	"understanding": {TypeInsight, TypeNote, TypeSessionSummary},
	// "How do I...?" / "Where is...?"
	"navigation": {TypeFileMetadata, TypeEntryPoint, TypeDataContract, TypeIdiom},
	// "What's the architecture...?"
	"structure": {TypeFileMetadata, TypeDependency, TypeSkeleton},
	// "What calls...?" / "What breaks if...?"
	"trace": {TypeEntryPoint, TypeDependency, TypeDataContract},
	// Combined understanding + navigation
	"memory": {TypeInsight, TypeNote, TypeSessionSummary, TypeFileMetadata},
}

// PresetTypes resolves a preset name; ok is false for unknown names.
func PresetTypes(name string) ([]Type, bool) {
	types, ok := SearchPresets[name]
	return types, ok
}

// branchFiltered holds the types scoped to the branch they were indexed
// on. Everything else is visible across branches.
var branchFiltered = map[Type]bool{
	TypeSkeleton:     true,
	TypeFileMetadata: true,
	TypeDataContract: true,
	TypeEntryPoint:   true,
	TypeDependency:   true,
}

// BranchFiltered reports whether search scopes this type by branch.
func BranchFiltered(t Type) bool {
	return branchFiltered[t]
}

// BranchFilteredTypes returns the branch-scoped types in stable order.
func BranchFilteredTypes() []Type {
	return []Type{TypeSkeleton, TypeFileMetadata, TypeDataContract, TypeEntryPoint, TypeDependency}
}

// CrossBranchTypes returns every type search treats as branch-agnostic.
func CrossBranchTypes() []Type {
	out := make([]Type, 0, len(AllTypes()))
	for _, t := range AllTypes() {
		if !branchFiltered[t] {
			out = append(out, t)
		}
	}
	return out
}

// recencyBoosted holds the types whose relevance decays with age.
var recencyBoosted = map[Type]bool{
	TypeNote:           true,
	TypeSessionSummary: true,
}

// RecencyBoosted reports whether the type receives recency boosting.
func RecencyBoosted(t Type) bool {
	return recencyBoosted[t]
}

// structuralTypes are owned by ingestion and never initiative-tagged.
var structuralTypes = map[Type]bool{
	TypeFileMetadata: true,
	TypeDataContract: true,
	TypeEntryPoint:   true,
	TypeDependency:   true,
	TypeSkeleton:     true,
}

// Structural reports whether the type is ingestion-owned metadata that
// stays out of initiative scoping.
func Structural(t Type) bool {
	return structuralTypes[t]
}

// ImpactTier classifies a dependency by how many files import it.
type ImpactTier string

const (
	ImpactHigh   ImpactTier = "High"
	ImpactMedium ImpactTier = "Medium"
	ImpactLow    ImpactTier = "Low"
)

// TierForCount maps an imported-by count to its impact tier:
// more than 5 is High, 2 through 5 is Medium, below 2 is Low.
func TierForCount(importedBy int) ImpactTier {
	switch {
	case importedBy > 5:
		return ImpactHigh
	case importedBy >= 2:
		return ImpactMedium
	default:
		return ImpactLow
	}
}
