package session

import (
	"context"
	"time"

	nchess "github.com/corentings/chess/v2"

	"github.com/kapu/chess-arena-server/internal/domain"
	"github.com/kapu/chess-arena-server/internal/events"
)

// Player is one slot of a session. UserID is empty for anonymous guests.
// Invariant: Connected implies DisconnectedAt is zero and vice versa.
type Player struct {
	ConnID         string
	UserID         string
	Name           string
	Rating         int
	Connected      bool
	DisconnectedAt time.Time
}

func (p *Player) Identified() bool { return p.UserID != "" }

// Session is one live game. The manager's mutex guards all mutation;
// Result and Reason are set together exactly once, when Ended flips.
type Session struct {
	ID          string
	White       Player
	Black       Player
	Mode        string
	TimeControl string
	Rated       bool
	WagerID     string

	game     *nchess.Game
	MovesUCI []string
	MovesSAN []string

	WhiteMs     int64
	BlackMs     int64
	IncrementMs int64
	Turn        domain.Color

	FirstMovePending bool
	DrawOfferFrom    domain.Color

	LastMoveAt time.Time
	PausedAt   time.Time

	Ended   bool
	Result  domain.Result
	Reason  domain.Reason
	EndedAt time.Time

	CreatedAt time.Time
}

func (s *Session) player(c domain.Color) *Player {
	if c == domain.White {
		return &s.White
	}
	return &s.Black
}

// colorOf resolves turn ownership by socket identity first, falling back to
// durable user identity for sockets replaced by reconnection.
func (s *Session) colorOf(connID, userID string) domain.Color {
	if connID != "" {
		if s.White.ConnID == connID {
			return domain.White
		}
		if s.Black.ConnID == connID {
			return domain.Black
		}
	}
	if userID != "" {
		if s.White.UserID == userID {
			return domain.White
		}
		if s.Black.UserID == userID {
			return domain.Black
		}
	}
	return ""
}

// clockNow is the instant used for clock arithmetic; while the session clock
// is paused it is frozen at the pause time.
func (s *Session) clockNow(now time.Time) time.Time {
	if !s.PausedAt.IsZero() && s.PausedAt.Before(now) {
		return s.PausedAt
	}
	return now
}

// remainingMs is the live clock for one color, never negative: a fallen flag
// reads zero. Only the side to move burns time, and nothing burns before the
// first move.
func (s *Session) remainingMs(c domain.Color, now time.Time) int64 {
	rem := s.WhiteMs
	if c == domain.Black {
		rem = s.BlackMs
	}
	if !s.Ended && !s.FirstMovePending && c == s.Turn {
		if elapsed := s.clockNow(now).Sub(s.LastMoveAt).Milliseconds(); elapsed > 0 {
			rem -= elapsed
		}
	}
	if rem < 0 {
		rem = 0
	}
	return rem
}

// CreateParams describe a session to open.
type CreateParams struct {
	ID          string // allocated when empty
	White       Player
	Black       Player
	Mode        string
	TimeControl string
	Rated       bool
	WagerID     string

	// RequirePersist makes the durable create gate the in-memory create.
	// Used by the wager accept+create atomic unit; pool matches keep the
	// usual best-effort semantics.
	RequirePersist bool
}

// Result describes a settled session to callers that raced termination.
type EndState struct {
	Result   domain.Result
	Reason   domain.Reason
	WinnerID string
	LoserID  string
}

// Notifier delivers a server event to one connection.
type Notifier interface {
	Notify(connID, event string, payload any)
}

// Store is the durable boundary the manager uses; all calls best-effort.
type Store interface {
	CreateGameRecord(ctx context.Context, rec *domain.GameRecord) error
	EndGameRecord(ctx context.Context, rec *domain.GameRecord) error
	UpdateRating(ctx context.Context, userID string, newRating int) error
	IncrementGameStats(ctx context.Context, userID string, result domain.Result, color domain.Color) error
}

// Mirror shadows live state into Redis; nil-safe, best-effort.
type Mirror interface {
	SaveSession(ctx context.Context, id string, v any) error
	DropSession(ctx context.Context, id string) error
}

// Publisher emits result events; nil-safe.
type Publisher interface {
	GameFinished(ctx context.Context, ev events.GameFinished)
}

// WagerResolver settles a wager linked to a terminated session.
type WagerResolver interface {
	Resolve(ctx context.Context, sessionID, winnerUserID string, draw bool)
}

// snapshot is the mirror's JSON view of a live session.
type snapshot struct {
	ID        string        `json:"id"`
	FEN       string        `json:"fen"`
	MovesUCI  []string      `json:"moves_uci"`
	MovesSAN  []string      `json:"moves_san"`
	Turn      domain.Color  `json:"turn"`
	WhiteID   string        `json:"white_id"`
	WhiteName string        `json:"white_name"`
	BlackID   string        `json:"black_id"`
	BlackName string        `json:"black_name"`
	WhiteMs   int64         `json:"white_ms"`
	BlackMs   int64         `json:"black_ms"`
	Rated     bool          `json:"rated"`
	Ended     bool          `json:"ended"`
	Result    domain.Result `json:"result,omitempty"`
	Reason    domain.Reason `json:"reason,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

func (s *Session) snapshot() snapshot {
	return snapshot{
		ID:        s.ID,
		FEN:       s.game.FEN(),
		MovesUCI:  append([]string(nil), s.MovesUCI...),
		MovesSAN:  append([]string(nil), s.MovesSAN...),
		Turn:      s.Turn,
		WhiteID:   s.White.UserID,
		WhiteName: s.White.Name,
		BlackID:   s.Black.UserID,
		BlackName: s.Black.Name,
		WhiteMs:   s.WhiteMs,
		BlackMs:   s.BlackMs,
		Rated:     s.Rated,
		Ended:     s.Ended,
		Result:    s.Result,
		Reason:    s.Reason,
		CreatedAt: s.CreatedAt,
	}
}
