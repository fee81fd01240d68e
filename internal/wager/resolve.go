package wager

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/chess-arena-server/internal/events"
	"github.com/kapu/chess-arena-server/internal/metrics"
	"github.com/kapu/chess-arena-server/internal/obslog"
	"github.com/kapu/chess-arena-server/internal/queue"
	"github.com/kapu/chess-arena-server/internal/session"
	"github.com/kapu/chess-arena-server/pkg/arenadto"
)

// StartMatch implements the queue's starter. Pool pairs open a plain
// session. Wager pairs run the atomic accept-and-create unit: the session's
// durable record must be written before the game exists, and a failure rolls
// the challenge back to pending instead of leaving it accepted with no game.
func (m *Manager) StartMatch(ctx context.Context, white, black queue.Entry) error {
	if m.sessions == nil {
		return arenadto.StateConflict("session manager unavailable")
	}
	p := session.CreateParams{
		White:       playerOf(white),
		Black:       playerOf(black),
		Mode:        white.Mode,
		TimeControl: white.TimeControl,
		Rated:       white.Rated,
	}
	if white.WagerID == "" {
		_, err := m.sessions.Create(ctx, p)
		return err
	}

	m.mu.Lock()
	ch, ok := m.challenges[white.WagerID]
	if !ok || ch.Status != StatusAccepted {
		m.mu.Unlock()
		return arenadto.StateConflict("challenge is not accepted")
	}
	m.mu.Unlock()

	p.Rated = true
	p.WagerID = white.WagerID
	p.RequirePersist = true
	sessionID, err := m.sessions.Create(ctx, p)
	if err != nil {
		m.rollback(white.WagerID, err)
		return err
	}
	if lerr := m.LinkToSession(white.WagerID, sessionID); lerr != nil {
		obslog.L().Error("wager_link_error",
			zap.String("challenge_id", white.WagerID),
			zap.String("session_id", sessionID),
			zap.Error(lerr),
		)
	}
	return nil
}

func playerOf(e queue.Entry) session.Player {
	return session.Player{
		ConnID: e.ConnID,
		UserID: e.UserID,
		Name:   e.Name,
		Rating: e.Rating,
	}
}

// rollback reverts a challenge to pending after a failed atomic create and
// re-arms its expiry from scratch.
func (m *Manager) rollback(challengeID string, cause error) {
	m.mu.Lock()
	ch, ok := m.challenges[challengeID]
	if !ok || ch.Status != StatusAccepted {
		m.mu.Unlock()
		return
	}
	ch.Status = StatusPending
	ch.ExpiresAt = time.Now().Add(m.cfg.ChallengeTTL)
	snap := *ch
	m.mu.Unlock()

	m.timers.Schedule(challengeTimerID(challengeID), m.cfg.ChallengeTTL, func() {
		m.expire(challengeID)
	})
	m.saveMirror(context.Background(), &snap)
	obslog.L().Warn("wager_start_rollback",
		zap.String("challenge_id", challengeID),
		zap.Error(cause),
	)
	notice := arenadto.ErrorNotice{Code: arenadto.CodePersistence, Message: "wager game could not be created"}
	m.notifyUser(snap.ChallengerID, arenadto.EvError, notice)
	m.notifyUser(snap.OpponentID, arenadto.EvError, notice)
}

// LinkToSession stamps an accepted challenge with the session it spawned.
// Idempotent for the same session, an error for a different one.
func (m *Manager) LinkToSession(challengeID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.challenges[challengeID]
	if !ok {
		return arenadto.NotFound("no such challenge")
	}
	if ch.SessionID == sessionID {
		return nil
	}
	if ch.SessionID != "" {
		return arenadto.StateConflict("challenge already linked to another session")
	}
	ch.SessionID = sessionID
	m.bySession[sessionID] = challengeID
	return nil
}

// Resolve settles the wager linked to a finished session. No-ops when no
// challenge is linked or it is not accepted, so racing triggers and
// wager-free sessions are both safe. The stake effect runs exactly once,
// guarded by the accepted-to-completed transition.
func (m *Manager) Resolve(ctx context.Context, sessionID, winnerUserID string, draw bool) {
	m.mu.Lock()
	cid, ok := m.bySession[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	ch, ok := m.challenges[cid]
	if !ok || ch.Status != StatusAccepted {
		m.mu.Unlock()
		return
	}
	ch.Status = StatusCompleted
	ch.WinnerID = winnerUserID
	snap := *ch
	m.mu.Unlock()

	loserID := ""
	if !draw && winnerUserID != "" {
		if winnerUserID == snap.ChallengerID {
			loserID = snap.OpponentID
		} else if winnerUserID == snap.OpponentID {
			loserID = snap.ChallengerID
		}
	}
	m.applyEffect(ctx, &snap, winnerUserID, loserID, draw)

	m.mu.Lock()
	if cur, ok := m.challenges[cid]; ok {
		cur.ResultApplied = true
		snap = *cur
	}
	m.mu.Unlock()

	m.saveMirror(ctx, &snap)
	metrics.WagerTransitions.WithLabelValues(string(StatusCompleted)).Inc()
	obslog.L().Info("wager_settle",
		zap.String("challenge_id", cid),
		zap.String("session_id", sessionID),
		zap.String("kind", string(snap.Kind)),
		zap.String("winner_id", winnerUserID),
		zap.Bool("draw", draw),
	)

	if m.pub != nil {
		m.pub.WagerSettled(ctx, events.WagerSettled{
			ChallengeID: cid,
			SessionID:   sessionID,
			Kind:        string(snap.Kind),
			WinnerID:    winnerUserID,
			LoserID:     loserID,
			Stake:       snap.Stake,
			Draw:        draw,
			Ts:          time.Now(),
		})
	}
	notice := arenadto.WagerResultNotice{
		ChallengeID: cid,
		Kind:        string(snap.Kind),
		WinnerID:    winnerUserID,
		LoserID:     loserID,
		Stake:       snap.Stake,
		Draw:        draw,
	}
	m.notifyUser(snap.ChallengerID, arenadto.EvWagerResult, notice)
	m.notifyUser(snap.OpponentID, arenadto.EvWagerResult, notice)
	m.scheduleGC(cid)
}

// applyEffect runs the wager-kind-specific payoff. Draws carry no effect.
// Persistence failures are logged and swallowed; the in-memory settlement
// stands.
func (m *Manager) applyEffect(ctx context.Context, ch *Challenge, winnerID, loserID string, draw bool) {
	if draw || loserID == "" || m.store == nil {
		return
	}
	switch ch.Kind {
	case KindRatingStake:
		// Only the loser pays the stake; the winner's rating moved with the
		// game itself.
		prof, err := m.store.FindUserByAnyIdentifier(ctx, loserID)
		if err != nil || prof == nil {
			obslog.L().Warn("wager_effect_error",
				zap.String("challenge_id", ch.ID), zap.Error(err))
			return
		}
		newRating := prof.Rating - ch.Stake
		if newRating < 0 {
			newRating = 0
		}
		if err := m.store.UpdateRating(ctx, loserID, newRating); err != nil {
			obslog.L().Warn("wager_effect_error",
				zap.String("challenge_id", ch.ID), zap.Error(err))
		}
	case KindProfileControl:
		until := time.Now().Add(m.cfg.ControlDuration)
		if err := m.store.SetProfileControl(ctx, winnerID, loserID, until); err != nil {
			obslog.L().Warn("wager_effect_error",
				zap.String("challenge_id", ch.ID), zap.Error(err))
			return
		}
		// Winning a control wager frees the winner from any control they
		// were under themselves.
		if err := m.store.ClearProfileControl(ctx, winnerID); err != nil {
			obslog.L().Warn("wager_effect_error",
				zap.String("challenge_id", ch.ID), zap.Error(err))
		}
	case KindProfileLock:
		until := time.Now().Add(m.cfg.ControlDuration)
		if err := m.store.SetProfileLock(ctx, loserID, until); err != nil {
			obslog.L().Warn("wager_effect_error",
				zap.String("challenge_id", ch.ID), zap.Error(err))
		}
	}
}

// Get returns a copy of a challenge, for inspection.
func (m *Manager) Get(challengeID string) (Challenge, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.challenges[challengeID]
	if !ok {
		return Challenge{}, false
	}
	return *ch, true
}

// Stop cancels all pending challenge timers.
func (m *Manager) Stop() {
	if m.timers != nil {
		m.timers.Stop()
	}
}
