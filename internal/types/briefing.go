package types

import "fmt"

// BriefingState is a state of the quality-review state machine
type BriefingState string

const (
	BriefingDrafted           BriefingState = "drafted"
	BriefingUnderReview       BriefingState = "under_review"
	BriefingRevisionRequested BriefingState = "revision_requested"
	BriefingRevising          BriefingState = "revising"
	BriefingApproved          BriefingState = "approved"
)

// IsValid checks if the briefing state value is valid
func (s BriefingState) IsValid() bool {
	switch s {
	case BriefingDrafted, BriefingUnderReview, BriefingRevisionRequested, BriefingRevising, BriefingApproved:
		return true
	}
	return false
}

// Briefing is the narrative aggregated from an ordered set of summaries.
// Only the aggregation stage and the review loop mutate it, and never after Approved.
type Briefing struct {
	RunID         string        `json:"run_id"`
	Text          string        `json:"text"`
	RevisionCount int           `json:"revision_count"`
	State         BriefingState `json:"state"`

	// ForcedApproval is set when the loop approved without a positive judgment:
	// the revision cap was hit, the judge call failed, or a revision failed.
	ForcedApproval bool     `json:"forced_approval,omitempty"`
	Feedback       []string `json:"feedback,omitempty"`
	SummaryCount   int      `json:"summary_count"`
}

// Transition moves the briefing to the next state, rejecting moves the
// review state machine does not allow.
func (b *Briefing) Transition(to BriefingState) error {
	if b.State == BriefingApproved {
		return fmt.Errorf("briefing %s is approved and immutable", b.RunID)
	}
	if !validTransition(b.State, to) {
		return fmt.Errorf("invalid briefing transition %s -> %s", b.State, to)
	}
	if b.State == BriefingRevising && to == BriefingDrafted {
		b.RevisionCount++
	}
	b.State = to
	return nil
}

func validTransition(from, to BriefingState) bool {
	switch from {
	case BriefingDrafted:
		// Drafted -> Approved is the forced path once the revision cap is reached
		return to == BriefingUnderReview || to == BriefingApproved
	case BriefingUnderReview:
		return to == BriefingApproved || to == BriefingRevisionRequested
	case BriefingRevisionRequested:
		return to == BriefingRevising
	case BriefingRevising:
		return to == BriefingDrafted
	}
	return false
}
