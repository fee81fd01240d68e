package queue

import (
	"context"
	crand "crypto/rand"
	"math/big"
	"sort"

	"go.uber.org/zap"

	"github.com/kapu/chess-arena-server/internal/metrics"
	"github.com/kapu/chess-arena-server/internal/obslog"
)

const (
	SideWhite  = "white"
	SideBlack  = "black"
	SideRandom = "random"
)

// compatible reports whether two entries can be pool-matched: identical game
// parameters and a rating gap inside the threshold. Entries carrying the
// same wager challenge pair unconditionally.
func (q *Queue) compatible(a, b *Entry) bool {
	if a.WagerID != "" && a.WagerID == b.WagerID {
		return true
	}
	if a.WagerID != "" || b.WagerID != "" {
		// Wager entries only pair with their counterpart.
		return false
	}
	if a.Mode != b.Mode || a.TimeControl != b.TimeControl || a.Rated != b.Rated {
		return false
	}
	diff := a.Rating - b.Rating
	if diff < 0 {
		diff = -diff
	}
	return diff <= q.cfg.RatingThreshold
}

// PairPass runs one matching sweep: entries ordered by join time, the first
// compatible counterpart wins. Matched pairs leave the pool before the
// Starter is called; a failed start restores both.
func (q *Queue) PairPass(ctx context.Context) {
	q.mu.Lock()
	ordered := make([]*Entry, 0, len(q.entries))
	for _, e := range q.entries {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].JoinedAt.Equal(ordered[j].JoinedAt) {
			return ordered[i].JoinedAt.Before(ordered[j].JoinedAt)
		}
		return ordered[i].ConnID < ordered[j].ConnID
	})

	taken := make(map[string]bool)
	var pairs [][2]Entry
	for i, a := range ordered {
		if taken[a.ConnID] {
			continue
		}
		if q.Alive != nil && !q.Alive(a.ConnID) {
			q.removeLocked(a)
			taken[a.ConnID] = true
			obslog.L().Warn("queue_purge_stale", zap.String("conn_id", a.ConnID))
			continue
		}
		for _, b := range ordered[i+1:] {
			if taken[b.ConnID] || !q.compatible(a, b) {
				continue
			}
			if q.Alive != nil && !q.Alive(b.ConnID) {
				q.removeLocked(b)
				taken[b.ConnID] = true
				obslog.L().Warn("queue_purge_stale", zap.String("conn_id", b.ConnID))
				continue
			}
			q.removeLocked(a)
			q.removeLocked(b)
			taken[a.ConnID] = true
			taken[b.ConnID] = true
			pairs = append(pairs, [2]Entry{*a, *b})
			break
		}
	}
	depth := len(q.entries)
	q.mu.Unlock()

	metrics.QueueDepth.Set(float64(depth))
	for _, p := range pairs {
		q.startMatch(ctx, p[0], p[1])
	}
}

func (q *Queue) removeLocked(e *Entry) {
	delete(q.entries, e.ConnID)
	if e.UserID != "" {
		delete(q.byUser, e.UserID)
	}
}

func (q *Queue) startMatch(ctx context.Context, a, b Entry) {
	white, black := ResolveSides(a, b, coinFlip)
	if q.starter == nil {
		return
	}
	if err := q.starter.StartMatch(ctx, white, black); err != nil {
		obslog.L().Warn("queue_match_abort",
			zap.String("white_conn", white.ConnID),
			zap.String("black_conn", black.ConnID),
			zap.Error(err),
		)
		// Pool matches silently regain their place in line. A failed wager
		// match is settled by the escrow's own rollback, not by requeueing.
		if a.WagerID == "" {
			q.restore(a)
			q.restore(b)
		}
		return
	}
	metrics.PairsMatched.Inc()
	obslog.L().Info("queue_match",
		zap.String("white_conn", white.ConnID),
		zap.String("black_conn", black.ConnID),
		zap.String("mode", a.Mode),
		zap.String("time_control", a.TimeControl),
		zap.String("wager_id", a.WagerID),
	)
}

func (q *Queue) restore(e Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, dup := q.entries[e.ConnID]; dup {
		return
	}
	ent := e
	q.entries[e.ConnID] = &ent
	if e.UserID != "" {
		q.byUser[e.UserID] = e.ConnID
	}
}

// ResolveSides assigns colors. Opposite preferences are honored, a fixed
// preference beats a random one, and a same-side clash or double-random is
// settled by coin flip. The outcome does not depend on argument order
// beyond the flip itself.
func ResolveSides(a, b Entry, flip func() bool) (white, black Entry) {
	switch {
	case a.Side == SideWhite && b.Side == SideBlack:
		return a, b
	case a.Side == SideBlack && b.Side == SideWhite:
		return b, a
	case a.Side == SideWhite && b.Side == SideRandom:
		return a, b
	case a.Side == SideRandom && b.Side == SideWhite:
		return b, a
	case a.Side == SideBlack && b.Side == SideRandom:
		return b, a
	case a.Side == SideRandom && b.Side == SideBlack:
		return a, b
	}
	if flip() {
		return a, b
	}
	return b, a
}

func coinFlip() bool {
	n, err := crand.Int(crand.Reader, big.NewInt(2))
	return err == nil && n.Int64() == 0
}
