// Package events holds the types that cross the core's boundaries: membership
// events coming in from the chat platform and cycle reports going out to
// whoever notifies operators.
package events

import (
	"context"
	"time"

	"github.com/lojf/rostersync/internal/models"
)

// MemberEvent is one platform-reported user, from a join, an update or a
// full participant listing. Nil fields carry no information.
type MemberEvent struct {
	ChatID             *int64  `json:"chat_id"`
	UserID             int64   `json:"user_id"`
	AccessHash         *int64  `json:"access_hash"`
	FirstName          *string `json:"first_name"`
	LastName           *string `json:"last_name"`
	DisplayName        *string `json:"display_name"`
	IsAutomatedAccount bool    `json:"is_automated_account"`
}

// Ambiguity reasons.
const (
	// AmbiguityMultipleCodes: the display name contains more than one enrollment code.
	AmbiguityMultipleCodes = "multiple_codes"
	// AmbiguityCodeTaken: a matching code already belongs to another member.
	AmbiguityCodeTaken = "code_taken"
)

// Ambiguity flags a correlation an operator should review.
type Ambiguity struct {
	UserID      int64    `json:"user_id"`
	DisplayName string   `json:"display_name"`
	Candidates  []string `json:"candidates"`
	Chosen      string   `json:"chosen,omitempty"` // empty when nothing was assigned
	Reason      string   `json:"reason"`
}

// CycleReport is the complete, consistent output of one reconciliation cycle.
type CycleReport struct {
	CycleID      string          `json:"cycle_id"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
	Today        time.Time       `json:"today"`
	Records      int             `json:"records"`
	Issues       int             `json:"issues"`
	Assigned     int             `json:"assigned"`
	Unidentified []models.Member `json:"unidentified"`
	Lapsed       []models.Member `json:"lapsed"`
	Ambiguities  []Ambiguity     `json:"ambiguities"`
}

// Notifier receives cycle reports. It is only called with reports from
// cycles that completed.
type Notifier interface {
	Notify(ctx context.Context, r CycleReport) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, r CycleReport) error

func (f NotifierFunc) Notify(ctx context.Context, r CycleReport) error { return f(ctx, r) }
