package rating

import "math"

const (
	// KFactor is applied uniformly; per-experience K tiers were considered
	// and rejected to keep the two deltas of one game symmetric.
	KFactor = 32

	// DefaultRating stands in for guests and fresh accounts. A guest's
	// stored rating is never mutated.
	DefaultRating = 1200
)

// Score is the actual result from one player's perspective.
type Score float64

const (
	Win  Score = 1.0
	Draw Score = 0.5
	Loss Score = 0.0
)

// Change is the outcome of one resolved game for one player.
type Change struct {
	NewRating int
	Delta     int
}

// expected computes E = 1 / (1 + 10^((opponent-player)/400)).
func expected(player, opponent int) float64 {
	return 1.0 / (1.0 + math.Pow(10, float64(opponent-player)/400.0))
}

// Delta returns the rating change for a player against an opponent given the
// actual score. The resulting rating is floored at zero.
func Delta(player, opponent int, score Score) Change {
	d := int(math.Round(KFactor * (float64(score) - expected(player, opponent))))
	nr := player + d
	if nr < 0 {
		nr = 0
		d = -player
	}
	return Change{NewRating: nr, Delta: d}
}

// GameDeltas resolves both sides of one game from white's score. Black's
// score is the complement, so the two deltas are equal in magnitude and
// opposite in sign.
func GameDeltas(white, black int, whiteScore Score) (Change, Change) {
	w := Delta(white, black, whiteScore)
	b := Delta(black, white, 1.0-whiteScore)
	return w, b
}
