package wager

import (
	"context"
	"time"

	"github.com/kapu/chess-arena-server/internal/domain"
	"github.com/kapu/chess-arena-server/internal/events"
)

// Kind picks what a wager puts on the line.
type Kind string

const (
	KindRatingStake    Kind = "rating_stake"
	KindProfileControl Kind = "profile_control"
	KindProfileLock    Kind = "profile_lock"
)

func validKind(k Kind) bool {
	switch k {
	case KindRatingStake, KindProfileControl, KindProfileLock:
		return true
	}
	return false
}

// Status is the challenge lifecycle state. pending is the only non-terminal
// pre-game status; accepted moves to completed when the linked session ends.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
	StatusCompleted Status = "completed"
)

// Challenge is one proposed wager between two identified players.
// ResultApplied may only be set once, and only while moving to completed.
type Challenge struct {
	ID               string    `json:"id"`
	ChallengerID     string    `json:"challenger_id"`
	ChallengerConn   string    `json:"-"`
	ChallengerName   string    `json:"challenger_name"`
	ChallengerRating int       `json:"challenger_rating"`
	OpponentID       string    `json:"opponent_id"`
	OpponentConn     string    `json:"-"`
	OpponentName     string    `json:"opponent_name"`
	OpponentRating   int       `json:"opponent_rating"`
	Kind             Kind      `json:"kind"`
	Stake            int       `json:"stake,omitempty"`
	Mode             string    `json:"mode"`
	TimeControl      string    `json:"time_control"`
	Side             string    `json:"side"`
	Status           Status    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	ExpiresAt        time.Time `json:"expires_at"`
	SessionID        string    `json:"session_id,omitempty"`
	WinnerID         string    `json:"winner_id,omitempty"`
	ResultApplied    bool      `json:"result_applied"`
}

// CreateParams describe a new challenge from the challenger's side.
type CreateParams struct {
	ChallengerID     string
	ChallengerConn   string
	ChallengerName   string
	ChallengerRating int
	OpponentID       string
	Kind             Kind
	Stake            int
	Mode             string
	TimeControl      string
	Side             string
}

// Notifier routes wager events: by socket for the parties of a live
// exchange, by durable identity for settlement notices that may arrive
// after sockets changed.
type Notifier interface {
	Notify(connID, event string, payload any)
	NotifyUser(userID, event string, payload any)
}

// Store covers the durable profile effects a settled wager applies.
type Store interface {
	FindUserByAnyIdentifier(ctx context.Context, ident string) (*domain.Profile, error)
	UpdateRating(ctx context.Context, userID string, newRating int) error
	SetProfileControl(ctx context.Context, controllerID, controlledID string, until time.Time) error
	ClearProfileControl(ctx context.Context, controlledID string) error
	SetProfileLock(ctx context.Context, userID string, until time.Time) error
	ClearProfileLock(ctx context.Context, userID string) error
}

// Mirror shadows challenge state into Redis; nil-safe, best-effort.
type Mirror interface {
	SaveChallenge(ctx context.Context, id string, v any) error
	DropChallenge(ctx context.Context, id string) error
}

// Publisher emits settlement events; nil-safe.
type Publisher interface {
	WagerSettled(ctx context.Context, ev events.WagerSettled)
}
