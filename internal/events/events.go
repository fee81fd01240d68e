package events

import "time"

// Topics carrying arena result events for downstream consumers.
const (
	TopicGameFinished = "arena.game.finished"
	TopicWagerSettled = "arena.wager.settled"
)

// GameFinished is emitted once per session termination.
type GameFinished struct {
	SessionID string    `json:"sessionId"`
	Result    string    `json:"result"`
	Reason    string    `json:"reason"`
	WinnerID  string    `json:"winnerId,omitempty"`
	LoserID   string    `json:"loserId,omitempty"`
	Rated     bool      `json:"rated"`
	Moves     int       `json:"moves"`
	Ts        time.Time `json:"ts"`
}

// WagerSettled is emitted once per applied wager effect.
type WagerSettled struct {
	ChallengeID string    `json:"challengeId"`
	SessionID   string    `json:"sessionId"`
	Kind        string    `json:"kind"`
	WinnerID    string    `json:"winnerId,omitempty"`
	LoserID     string    `json:"loserId,omitempty"`
	Stake       int       `json:"stake,omitempty"`
	Draw        bool      `json:"draw"`
	Ts          time.Time `json:"ts"`
}
