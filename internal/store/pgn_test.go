package store

import (
	"strings"
	"testing"
	"time"

	"github.com/kapu/chess-arena-server/internal/domain"
)

func TestBuildPGN(t *testing.T) {
	rec := &domain.GameRecord{
		SessionID:   "s1",
		WhiteName:   `Ann "the Rook"`,
		BlackName:   "Bo",
		TimeControl: "5+3",
		Result:      domain.ResultBlackWins,
		Reason:      domain.ReasonCheckmate,
		MovesSAN:    []string{"f3", "e5", "g4", "Qh4#"},
		EndedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	pgn := BuildPGN(rec)
	for _, want := range []string{
		`[White "Ann 'the Rook'"]`,
		`[Result "0-1"]`,
		`[Termination "checkmate"]`,
		"1. f3 e5 2. g4 Qh4# 0-1",
	} {
		if !strings.Contains(pgn, want) {
			t.Fatalf("pgn missing %q:\n%s", want, pgn)
		}
	}
}

func TestBuildPGNUnfinished(t *testing.T) {
	pgn := BuildPGN(&domain.GameRecord{MovesSAN: []string{"e4"}})
	if !strings.Contains(pgn, `[Result "*"]`) {
		t.Fatalf("expected open result marker:\n%s", pgn)
	}
}
