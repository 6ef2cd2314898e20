package engine

import "eventline/internal/domain"

// Route picks the phase to run for doc. It depends only on which of the
// four plan fields are present; the first match wins.
func Route(doc *domain.Document) Phase {
	switch {
	case doc.HasFinalDraftWithSuppliers():
		return PhaseFindSuppliers
	case doc.HasFinalDraft():
		return PhaseFindSuppliers
	case doc.HasApprovedTimeline():
		return PhaseFinalDraft
	case doc.HasRequirements():
		return PhaseDraftTimeline
	default:
		return PhaseGatherRequirements
	}
}

// Advanced reports whether running phase produced the field that lets the
// router move on. FindSuppliers has no forward edge.
func Advanced(phase Phase, doc *domain.Document) bool {
	switch phase {
	case PhaseGatherRequirements:
		return doc.HasRequirements()
	case PhaseDraftTimeline:
		return doc.HasApprovedTimeline()
	case PhaseFinalDraft:
		return doc.HasFinalDraft()
	default:
		return false
	}
}
