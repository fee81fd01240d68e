package domain

import "time"

// Color identifies a chess side.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

func (c Color) Other() Color {
	if c == White {
		return Black
	}
	return White
}

// Result is the terminal outcome of a session.
type Result string

const (
	ResultWhiteWins Result = "white"
	ResultBlackWins Result = "black"
	ResultDraw      Result = "draw"
	ResultAborted   Result = "aborted"
)

// Reason is the machine-checkable cause behind a Result.
type Reason string

const (
	ReasonCheckmate       Reason = "checkmate"
	ReasonStalemate       Reason = "stalemate"
	ReasonInsufficientMat Reason = "insufficient_material"
	ReasonThreefold       Reason = "threefold_repetition"
	ReasonFiftyMove       Reason = "fifty_move_rule"
	ReasonTimeout         Reason = "timeout"
	ReasonResignation     Reason = "resignation"
	ReasonDrawAgreement   Reason = "draw_agreement"
	ReasonAbandonment     Reason = "abandonment"
	ReasonAbort           Reason = "abort"
)

// GameRecord is the durable-storage row for a finished or in-flight session.
type GameRecord struct {
	SessionID   string
	WhiteID     string
	WhiteName   string
	BlackID     string
	BlackName   string
	Mode        string
	TimeControl string
	Rated       bool
	Result      Result
	Reason      Reason
	MovesUCI    []string
	MovesSAN    []string
	PGN         string
	StartedAt   time.Time
	EndedAt     time.Time
	Duration    time.Duration
}

// Profile is the persistent per-user competitive record.
type Profile struct {
	UserID      string
	DisplayName string
	Rating      int
	GamesPlayed int
	Wins        int
	Losses      int
	Draws       int
	UpdatedAt   time.Time
	CreatedAt   time.Time
}
