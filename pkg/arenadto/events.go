package arenadto

import "time"

// Wire event names, one logical event per message.
const (
	// client → server
	EvCreateChallenge  = "challenge.create"
	EvRespondChallenge = "challenge.respond"
	EvCancelChallenge  = "challenge.cancel"
	EvJoinQueue        = "queue.join"
	EvLeaveQueue       = "queue.leave"
	EvMakeMove         = "game.move"
	EvResign           = "game.resign"
	EvOfferDraw        = "game.offer_draw"
	EvAcceptDraw       = "game.accept_draw"
	EvFlagTimeout      = "game.flag"

	// server → client
	EvChallengeCreated  = "challenge.created"
	EvChallengeReceived = "challenge.received"
	EvChallengeDecided  = "challenge.decided"
	EvSessionReady      = "session.ready"
	EvMoveApplied       = "game.move_applied"
	EvDrawOffered       = "game.draw_offered"
	EvSessionEnded      = "session.ended"
	EvWagerResult       = "wager.result"
	EvError             = "error"
)

type CreateChallengeReq struct {
	OpponentID  string `json:"opponent_id"`
	Kind        string `json:"kind"`
	Stake       int    `json:"stake,omitempty"`
	Mode        string `json:"mode"`
	TimeControl string `json:"time_control"`
	Side        string `json:"side"`
}

type RespondChallengeReq struct {
	ChallengeID string `json:"challenge_id"`
	Accepted    bool   `json:"accepted"`
}

type CancelChallengeReq struct {
	ChallengeID string `json:"challenge_id"`
}

type JoinQueueReq struct {
	Mode        string `json:"mode"`
	TimeControl string `json:"time_control"`
	Rated       bool   `json:"rated"`
	Side        string `json:"side"`
}

type GameReq struct {
	SessionID string `json:"session_id"`
	Move      string `json:"move,omitempty"`
	Color     string `json:"color,omitempty"`
}

type ChallengeCreatedNotice struct {
	ChallengeID string    `json:"challenge_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type ChallengeReceivedNotice struct {
	ChallengeID  string    `json:"challenge_id"`
	SenderID     string    `json:"sender_id"`
	SenderName   string    `json:"sender_name"`
	SenderRating int       `json:"sender_rating"`
	Kind         string    `json:"kind"`
	Stake        int       `json:"stake,omitempty"`
	Mode         string    `json:"mode"`
	TimeControl  string    `json:"time_control"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type ChallengeDecidedNotice struct {
	ChallengeID string `json:"challenge_id"`
	Accepted    bool   `json:"accepted"`
	ResponderID string `json:"responder_id"`
}

type SessionReadyNotice struct {
	SessionID   string `json:"session_id"`
	Color       string `json:"color"`
	OpponentID  string `json:"opponent_id,omitempty"`
	Opponent    string `json:"opponent"`
	Mode        string `json:"mode"`
	TimeControl string `json:"time_control"`
	Rated       bool   `json:"rated"`
}

type MoveAppliedNotice struct {
	SessionID string `json:"session_id"`
	MoveSAN   string `json:"move_san"`
	MoveUCI   string `json:"move_uci"`
	Turn      string `json:"turn"`
	WhiteMs   int64  `json:"white_ms"`
	BlackMs   int64  `json:"black_ms"`
}

type RatingChange struct {
	UserID    string `json:"user_id"`
	NewRating int    `json:"new_rating"`
	Delta     int    `json:"delta"`
}

type SessionEndedNotice struct {
	SessionID string         `json:"session_id"`
	Result    string         `json:"result"`
	Reason    string         `json:"reason"`
	WinnerID  string         `json:"winner_id,omitempty"`
	LoserID   string         `json:"loser_id,omitempty"`
	Ratings   []RatingChange `json:"ratings,omitempty"`
	PGN       string         `json:"pgn,omitempty"`
}

type WagerResultNotice struct {
	ChallengeID string `json:"challenge_id"`
	Kind        string `json:"kind"`
	WinnerID    string `json:"winner_id,omitempty"`
	LoserID     string `json:"loser_id,omitempty"`
	Stake       int    `json:"stake,omitempty"`
	Draw        bool   `json:"draw"`
}

type ErrorNotice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
