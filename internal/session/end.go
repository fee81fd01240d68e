package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/chess-arena-server/internal/domain"
	"github.com/kapu/chess-arena-server/internal/events"
	"github.com/kapu/chess-arena-server/internal/metrics"
	"github.com/kapu/chess-arena-server/internal/obslog"
	"github.com/kapu/chess-arena-server/internal/outcome"
	"github.com/kapu/chess-arena-server/internal/rating"
	"github.com/kapu/chess-arena-server/internal/store"
	"github.com/kapu/chess-arena-server/pkg/arenadto"
)

type ratingUpdate struct {
	userID    string
	newRating int
	result    domain.Result
	color     domain.Color
}

// endEffects is everything termination defers to after the lock is released.
type endEffects struct {
	sessionID string
	rec       *domain.GameRecord
	ratings   []ratingUpdate
	notice    arenadto.SessionEndedNotice
	whiteConn string
	blackConn string
	ev        events.GameFinished
	wagerID   string
	winnerID  string
	draw      bool
	snap      snapshot
}

// terminateLocked settles the session exactly once. Caller holds the lock
// and must pass a non-nil verdict. Indexes are released immediately so
// neither player can act on the dead game; the session row itself stays
// queryable until GC.
func (m *Manager) terminateLocked(s *Session, v *outcome.Verdict) *endEffects {
	if s.Ended || v == nil {
		return nil
	}
	now := time.Now()
	s.Ended = true
	s.Result = v.Result
	s.Reason = v.Reason
	s.EndedAt = now
	s.PausedAt = time.Time{}

	if m.timers != nil {
		m.timers.Cancel(clockTimerID(s.ID))
		m.timers.Cancel(firstMoveTimerID(s.ID))
		m.timers.Cancel(graceTimerID(s.ID, domain.White))
		m.timers.Cancel(graceTimerID(s.ID, domain.Black))
	}

	delete(m.byConn, s.White.ConnID)
	delete(m.byConn, s.Black.ConnID)
	if s.White.Identified() {
		delete(m.byUser, s.White.UserID)
	}
	if s.Black.Identified() {
		delete(m.byUser, s.Black.UserID)
	}
	id := s.ID
	if m.timers != nil {
		m.timers.Schedule(gcTimerID(id), retention, func() { m.gc(id) })
	}

	st := endStateOf(s)
	eff := &endEffects{
		sessionID: id,
		whiteConn: s.White.ConnID,
		blackConn: s.Black.ConnID,
		wagerID:   s.WagerID,
		winnerID:  st.WinnerID,
		draw:      v.Result == domain.ResultDraw,
		snap:      s.snapshot(),
		ev: events.GameFinished{
			SessionID: id,
			Result:    string(v.Result),
			Reason:    string(v.Reason),
			WinnerID:  st.WinnerID,
			LoserID:   st.LoserID,
			Rated:     s.Rated,
			Moves:     len(s.MovesUCI),
			Ts:        now,
		},
	}

	notice := arenadto.SessionEndedNotice{
		SessionID: id,
		Result:    string(v.Result),
		Reason:    string(v.Reason),
		WinnerID:  st.WinnerID,
		LoserID:   st.LoserID,
	}

	// Rating applies only to rated games between two identified players,
	// and never to aborts.
	if s.Rated && s.White.Identified() && s.Black.Identified() && v.Result != domain.ResultAborted {
		score := rating.Draw
		switch v.Result {
		case domain.ResultWhiteWins:
			score = rating.Win
		case domain.ResultBlackWins:
			score = rating.Loss
		}
		wc, bc := rating.GameDeltas(s.White.Rating, s.Black.Rating, score)
		eff.ratings = []ratingUpdate{
			{userID: s.White.UserID, newRating: wc.NewRating, result: v.Result, color: domain.White},
			{userID: s.Black.UserID, newRating: bc.NewRating, result: v.Result, color: domain.Black},
		}
		notice.Ratings = []arenadto.RatingChange{
			{UserID: s.White.UserID, NewRating: wc.NewRating, Delta: wc.Delta},
			{UserID: s.Black.UserID, NewRating: bc.NewRating, Delta: bc.Delta},
		}
	}

	rec := m.record(s)
	rec.Duration = now.Sub(s.CreatedAt)
	rec.PGN = store.BuildPGN(rec)
	notice.PGN = rec.PGN
	eff.rec = rec
	eff.notice = notice

	metrics.SessionsActive.Dec()
	metrics.GamesFinished.WithLabelValues(string(v.Reason)).Inc()
	obslog.L().Info("session_end",
		zap.String("session_id", id),
		zap.String("result", string(v.Result)),
		zap.String("reason", string(v.Reason)),
		zap.Int("moves", len(s.MovesUCI)),
	)
	return eff
}

// runEffects flushes the deferred side effects of a termination: durable
// record, rating rows, mirror, result event, wager settlement, and player
// notifications. Ordering matters only in that the wager settles after
// ratings are applied. Never called with the lock held.
func (m *Manager) runEffects(ctx context.Context, eff *endEffects) {
	if eff == nil {
		return
	}
	if m.store != nil {
		if err := m.store.EndGameRecord(ctx, eff.rec); err != nil {
			obslog.L().Warn("session_persist_error",
				zap.String("session_id", eff.sessionID), zap.Error(err))
		}
		for _, ru := range eff.ratings {
			if err := m.store.UpdateRating(ctx, ru.userID, ru.newRating); err != nil {
				obslog.L().Warn("rating_persist_error",
					zap.String("user_id", ru.userID), zap.Error(err))
			}
			if err := m.store.IncrementGameStats(ctx, ru.userID, ru.result, ru.color); err != nil {
				obslog.L().Warn("stats_persist_error",
					zap.String("user_id", ru.userID), zap.Error(err))
			}
		}
	}
	if m.mirror != nil {
		_ = m.mirror.SaveSession(ctx, eff.sessionID, eff.snap)
	}
	if m.pub != nil {
		m.pub.GameFinished(ctx, eff.ev)
	}
	if m.wagers != nil && eff.wagerID != "" {
		m.wagers.Resolve(ctx, eff.sessionID, eff.winnerID, eff.draw)
	}
	m.notify(eff.whiteConn, arenadto.EvSessionEnded, eff.notice)
	m.notify(eff.blackConn, arenadto.EvSessionEnded, eff.notice)
}

// gc drops a settled session from the table once racing triggers have had
// their window to observe the recorded result.
func (m *Manager) gc(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok && s.Ended {
		delete(m.sessions, id)
	}
}
