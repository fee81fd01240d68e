package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/chess-arena-server/internal/domain"
	"github.com/kapu/chess-arena-server/internal/obslog"
	"github.com/kapu/chess-arena-server/internal/outcome"
	"github.com/kapu/chess-arena-server/pkg/arenadto"
)

// Disconnect marks a socket as gone. The session clock pauses and a grace
// timer is armed, capped at the leaver's remaining clock. Sockets that are
// not in any live session are ignored; the queue tracks those separately.
func (m *Manager) Disconnect(connID string) {
	now := time.Now()

	m.mu.Lock()
	id, ok := m.byConn[connID]
	if !ok {
		m.mu.Unlock()
		return
	}
	s := m.sessions[id]
	if s == nil || s.Ended {
		m.mu.Unlock()
		return
	}
	c := s.colorOf(connID, "")
	if c == "" {
		m.mu.Unlock()
		return
	}
	slot := s.player(c)
	if !slot.Connected {
		m.mu.Unlock()
		return
	}

	// Remaining time is captured before the pause freezes the clock.
	rem := s.remainingMs(c, now)
	slot.Connected = false
	slot.DisconnectedAt = now
	if s.PausedAt.IsZero() {
		s.PausedAt = now
	}
	delete(m.byConn, connID)
	m.timers.Cancel(clockTimerID(id))

	grace := m.cfg.DisconnectGrace
	if rc := time.Duration(rem) * time.Millisecond; rc < grace {
		grace = rc
	}
	color := c
	m.timers.Schedule(graceTimerID(id, color), grace, func() {
		m.graceExpired(id, color)
	})
	opp := s.player(c.Other()).ConnID
	m.mu.Unlock()

	obslog.L().Info("presence_disconnect",
		zap.String("session_id", id),
		zap.String("color", string(c)),
		zap.Duration("grace", grace),
	)
	m.notify(opp, arenadto.EvError, arenadto.ErrorNotice{
		Code:    "opponent_disconnected",
		Message: "opponent disconnected, waiting for reconnection",
	})
}

// graceExpired settles the game against a player whose grace window ran out.
// A clock that was already flat at disconnect time makes this a timeout, not
// an abandonment.
func (m *Manager) graceExpired(sessionID string, color domain.Color) {
	ctx := context.Background()
	now := time.Now()

	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok || s.Ended {
		m.mu.Unlock()
		return
	}
	slot := s.player(color)
	if slot.Connected {
		// Stale fire after a reconnection.
		m.mu.Unlock()
		return
	}
	sig := outcome.Signals{DisconnectColor: color, FirstMovePending: s.FirstMovePending}
	if !s.FirstMovePending && s.Turn == color && s.remainingMs(color, now) <= 0 {
		sig = outcome.Signals{TimeoutColor: color}
	}
	eff := m.terminateLocked(s, outcome.Evaluate(s.game, sig))
	m.mu.Unlock()
	m.runEffects(ctx, eff)
}

// Reconnect rebinds an identified player to a fresh socket. When both sides
// are connected again the clock resumes from where the pause froze it.
// Anonymous guests carry no durable identity and cannot reconnect.
func (m *Manager) Reconnect(userID, connID string) (string, error) {
	now := time.Now()

	m.mu.Lock()
	id, ok := m.byUser[userID]
	if !ok {
		m.mu.Unlock()
		return "", arenadto.NotFound("no live session for user")
	}
	s := m.sessions[id]
	if s == nil || s.Ended {
		m.mu.Unlock()
		return "", arenadto.StateConflict("session already ended")
	}
	c := s.colorOf("", userID)
	if c == "" {
		m.mu.Unlock()
		return "", arenadto.NotFound("no live session for user")
	}
	slot := s.player(c)

	delete(m.byConn, slot.ConnID)
	slot.ConnID = connID
	slot.Connected = true
	slot.DisconnectedAt = time.Time{}
	m.byConn[connID] = id
	m.timers.Cancel(graceTimerID(id, c))

	if s.White.Connected && s.Black.Connected && !s.PausedAt.IsZero() {
		// Shift the move anchor by the pause so no elapsed time is charged
		// for the gap.
		s.LastMoveAt = s.LastMoveAt.Add(now.Sub(s.PausedAt))
		s.PausedAt = time.Time{}
		m.scheduleFlagLocked(s)
	}

	ready := arenadto.SessionReadyNotice{
		SessionID:   id,
		Color:       string(c),
		OpponentID:  s.player(c.Other()).UserID,
		Opponent:    s.player(c.Other()).Name,
		Mode:        s.Mode,
		TimeControl: s.TimeControl,
		Rated:       s.Rated,
	}
	opp := s.player(c.Other()).ConnID
	m.mu.Unlock()

	obslog.L().Info("presence_reconnect",
		zap.String("session_id", id),
		zap.String("user_id", userID),
		zap.String("color", string(c)),
	)
	m.notify(connID, arenadto.EvSessionReady, ready)
	m.notify(opp, arenadto.EvError, arenadto.ErrorNotice{
		Code:    "opponent_reconnected",
		Message: "opponent is back",
	})
	return id, nil
}

// SessionFor reports the live session bound to a connection, if any.
func (m *Manager) SessionFor(connID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byConn[connID]
	return id, ok
}

// Stop cancels every pending timer. Used on shutdown and in tests.
func (m *Manager) Stop() {
	if m.timers != nil {
		m.timers.Stop()
	}
}
