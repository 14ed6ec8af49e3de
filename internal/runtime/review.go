package runtime

import (
	"github.com/aretw0/foundry/pkg/domain"
)

// reconcileReview derives the Human Decision Buffer after a status/draft change.
func reconcileReview(prev, next domain.SessionState) domain.ReviewBuffer {
	if next.Status != domain.StatusAwaitingReview {
		// Leaving review discards unconfirmed edits.
		return domain.ReviewBuffer{}
	}
	if prev.Status != domain.StatusAwaitingReview {
		return domain.ReviewBuffer{Base: next.CurrentDraft, Text: next.CurrentDraft}
	}

	buf := next.Review
	if next.CurrentDraft != buf.Base {
		// Fresh canonical text during review: rebase, and follow it unless the human has edited.
		if !buf.Dirty() {
			buf.Text = next.CurrentDraft
		}
		buf.Base = next.CurrentDraft
	}
	return buf
}

// Edit replaces the buffer text. Canonical state is untouched.
func Edit(prev domain.SessionState, text string) (domain.SessionState, error) {
	if !prev.Reviewing() {
		return prev, domain.ErrNotAwaitingReview
	}
	next := prev
	base := prev.Review.Base
	if prev.Review.IsEmpty() {
		base = prev.CurrentDraft
	}
	next.Review = domain.ReviewBuffer{Base: base, Text: text}
	return next, nil
}

// DiscardEdits resets the buffer to the canonical draft.
func DiscardEdits(prev domain.SessionState) domain.SessionState {
	next := prev
	if prev.Reviewing() {
		next.Review = domain.ReviewBuffer{Base: prev.CurrentDraft, Text: prev.CurrentDraft}
	}
	return next
}
