package ledger

import (
	"context"
	"time"
)

// =============================================================================
// CHANGE NOTIFICATIONS - Advisory only
// =============================================================================

type ChangeKind string

const (
	ChangeMovementRecorded ChangeKind = "movement_recorded"
	ChangeMovementReplaced ChangeKind = "movement_replaced"
	ChangeMovementUpdated  ChangeKind = "movement_updated"
	ChangeMovementDeleted  ChangeKind = "movement_deleted"
	ChangeCategoryAdded    ChangeKind = "category_added"
	ChangeCategoryRenamed  ChangeKind = "category_renamed"
	ChangeCategoryDeleted  ChangeKind = "category_deleted"
	ChangeDayClosed        ChangeKind = "day_closed"
)

// Change describes a committed write. Receivers must treat it as a hint to
// re-read the store, never as the state itself.
type Change struct {
	Kind       ChangeKind `json:"kind"`
	MovementID MovementID `json:"movement_id,omitempty"`
	ClosingID  ClosingID  `json:"closing_id,omitempty"`
	Category   string     `json:"category,omitempty"`
	Date       Date       `json:"date,omitempty"`
	At         time.Time  `json:"at"`
}

// Notifier delivers changes best-effort. Errors are logged by the caller.
type Notifier interface {
	Notify(ctx context.Context, c Change) error
}

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Change) error { return nil }
