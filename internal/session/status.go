// Package session runs capture sessions end to end and moves them through
// review.
//
// A session starts active, becomes pending_review once its audio has been
// segmented and its memories proposed, and from then on its status is a roll
// up of its memories' approval statuses, recomputed on every review.
package session

import "github.com/MrWong99/mnemo/pkg/store"

// DeriveStatus computes the session status from memory status counts. It
// depends on nothing but the counts, so calling it again on the same counts
// yields the same status.
func DeriveStatus(c store.StatusCounts) store.SessionStatus {
	switch {
	case c.Approved > 0 && c.Pending == 0 && c.Rejected == 0:
		return store.SessionFullyApproved
	case c.Approved > 0:
		return store.SessionPartiallyApproved
	case c.Rejected > 0 && c.Pending == 0:
		return store.SessionRejected
	default:
		return store.SessionPendingReview
	}
}
