package session

import (
	"context"
	"strings"
	"sync"
	"time"

	nchess "github.com/corentings/chess/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kapu/chess-arena-server/internal/domain"
	"github.com/kapu/chess-arena-server/internal/metrics"
	"github.com/kapu/chess-arena-server/internal/obslog"
	"github.com/kapu/chess-arena-server/internal/outcome"
	"github.com/kapu/chess-arena-server/internal/sched"
	"github.com/kapu/chess-arena-server/pkg/arenadto"
)

// retention keeps settled sessions queryable for racing triggers before GC.
const retention = 10 * time.Minute

type Config struct {
	DisconnectGrace  time.Duration
	FirstMoveTimeout time.Duration
	MaxGames         int
}

// Manager owns the table of live sessions and the connection/user indexes.
// One mutex serializes every mutation; durable storage, the Redis mirror and
// event publishing run outside the lock on copied data.
type Manager struct {
	mu       sync.Mutex
	cfg      Config
	sessions map[string]*Session
	byConn   map[string]string
	byUser   map[string]string
	timers   *sched.Timers

	store    Store
	mirror   Mirror
	pub      Publisher
	notifier Notifier
	wagers   WagerResolver
}

func NewManager(cfg Config, timers *sched.Timers) *Manager {
	if cfg.DisconnectGrace <= 0 {
		cfg.DisconnectGrace = 2 * time.Minute
	}
	if cfg.FirstMoveTimeout <= 0 {
		cfg.FirstMoveTimeout = time.Minute
	}
	if cfg.MaxGames <= 0 {
		cfg.MaxGames = 200
	}
	if timers == nil {
		timers = sched.New()
	}
	return &Manager{
		cfg:      cfg,
		sessions: make(map[string]*Session),
		byConn:   make(map[string]string),
		byUser:   make(map[string]string),
		timers:   timers,
	}
}

// AttachStore wires the durable repository; nil keeps persistence off.
func (m *Manager) AttachStore(s Store)           { m.store = s }
func (m *Manager) AttachMirror(mi Mirror)        { m.mirror = mi }
func (m *Manager) AttachPublisher(p Publisher)   { m.pub = p }
func (m *Manager) SetNotifier(n Notifier)        { m.notifier = n }
func (m *Manager) SetWagerResolver(r WagerResolver) { m.wagers = r }

func clockTimerID(id string) string { return "clock:" + id }
func graceTimerID(id string, c domain.Color) string { return "disc:" + id + ":" + string(c) }
func gcTimerID(id string) string { return "gc:" + id }
func firstMoveTimerID(id string) string { return "first:" + id }

// Create opens a session for two paired players. A time-control string that
// fails to parse is fatal and no session is registered.
func (m *Manager) Create(ctx context.Context, p CreateParams) (string, error) {
	baseMs, incMs, err := parseTimeControl(p.TimeControl)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(p.White.ConnID) == "" || strings.TrimSpace(p.Black.ConnID) == "" {
		return "", arenadto.Validation("both players need a live connection")
	}

	id := strings.TrimSpace(p.ID)
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now()
	s := &Session{
		ID:               id,
		White:            p.White,
		Black:            p.Black,
		Mode:             p.Mode,
		TimeControl:      p.TimeControl,
		Rated:            p.Rated,
		WagerID:          p.WagerID,
		game:             nchess.NewGame(),
		WhiteMs:          baseMs,
		BlackMs:          baseMs,
		IncrementMs:      incMs,
		Turn:             domain.White,
		FirstMovePending: true,
		LastMoveAt:       now,
		CreatedAt:        now,
	}
	s.White.Connected = true
	s.Black.Connected = true
	s.White.DisconnectedAt = time.Time{}
	s.Black.DisconnectedAt = time.Time{}

	m.mu.Lock()
	if len(m.sessions) >= m.cfg.MaxGames {
		m.mu.Unlock()
		return "", arenadto.StateConflict("session table full")
	}
	if _, dup := m.sessions[id]; dup {
		m.mu.Unlock()
		return "", arenadto.StateConflict("session id already live")
	}
	// A connection or identified user bound to a live session cannot be
	// seated again; the indexes must never be silently overwritten.
	for _, pl := range []*Player{&s.White, &s.Black} {
		if _, busy := m.byConn[pl.ConnID]; busy {
			m.mu.Unlock()
			return "", arenadto.StateConflict("player already in a live session")
		}
		if pl.Identified() {
			if _, busy := m.byUser[pl.UserID]; busy {
				m.mu.Unlock()
				return "", arenadto.StateConflict("player already in a live session")
			}
		}
	}
	m.sessions[id] = s
	m.byConn[s.White.ConnID] = id
	m.byConn[s.Black.ConnID] = id
	if s.White.Identified() {
		m.byUser[s.White.UserID] = id
	}
	if s.Black.Identified() {
		m.byUser[s.Black.UserID] = id
	}
	snap := s.snapshot()
	m.mu.Unlock()

	rec := m.record(s)
	if err := m.persistCreate(ctx, rec); err != nil {
		if p.RequirePersist {
			// Wager sessions must not exist in memory without a durable row.
			m.unregister(id)
			return "", arenadto.Persistence("create game record: " + err.Error())
		}
		obslog.L().Warn("session_persist_error", zap.String("session_id", id), zap.Error(err))
	}
	if m.mirror != nil {
		_ = m.mirror.SaveSession(ctx, id, snap)
	}

	// Nobody moving at all must not hold a table slot forever.
	m.timers.Schedule(firstMoveTimerID(id), m.cfg.FirstMoveTimeout, func() {
		m.firstMoveExpired(id)
	})

	metrics.SessionsActive.Inc()
	obslog.L().Info("session_create",
		zap.String("session_id", id),
		zap.String("white_id", s.White.UserID),
		zap.String("black_id", s.Black.UserID),
		zap.String("time_control", p.TimeControl),
		zap.Bool("rated", p.Rated),
	)

	m.notify(s.White.ConnID, arenadto.EvSessionReady, arenadto.SessionReadyNotice{
		SessionID: id, Color: string(domain.White), OpponentID: s.Black.UserID,
		Opponent: s.Black.Name, Mode: p.Mode, TimeControl: p.TimeControl, Rated: p.Rated,
	})
	m.notify(s.Black.ConnID, arenadto.EvSessionReady, arenadto.SessionReadyNotice{
		SessionID: id, Color: string(domain.Black), OpponentID: s.White.UserID,
		Opponent: s.White.Name, Mode: p.Mode, TimeControl: p.TimeControl, Rated: p.Rated,
	})
	return id, nil
}

func (m *Manager) persistCreate(ctx context.Context, rec *domain.GameRecord) error {
	if m.store == nil {
		return nil
	}
	return m.store.CreateGameRecord(ctx, rec)
}

func (m *Manager) unregister(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return
	}
	delete(m.sessions, id)
	delete(m.byConn, s.White.ConnID)
	delete(m.byConn, s.Black.ConnID)
	if s.White.Identified() {
		delete(m.byUser, s.White.UserID)
	}
	if s.Black.Identified() {
		delete(m.byUser, s.Black.UserID)
	}
}

// Move applies one move for the given connection. Out-of-turn and illegal
// moves are rejected without mutating state.
func (m *Manager) Move(ctx context.Context, sessionID, connID, userID, moveText string) (*arenadto.MoveAppliedNotice, error) {
	now := time.Now()

	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, arenadto.NotFound("no such session")
	}
	if s.Ended {
		m.mu.Unlock()
		return nil, arenadto.StateConflict("session already ended")
	}
	mover := s.colorOf(connID, userID)
	if mover == "" {
		m.mu.Unlock()
		return nil, arenadto.NotFound("connection not in session")
	}
	if mover != s.Turn {
		m.mu.Unlock()
		return nil, arenadto.StateConflict("not your turn")
	}

	// A move arriving after the mover's flag fell settles the game as a
	// timeout instead.
	if !s.FirstMovePending && s.remainingMs(mover, now) <= 0 {
		eff := m.terminateLocked(s, outcome.Evaluate(s.game, outcome.Signals{TimeoutColor: mover}))
		m.mu.Unlock()
		m.runEffects(ctx, eff)
		return nil, arenadto.StateConflict("time expired")
	}

	pos := s.game.Position()
	raw := strings.TrimSpace(moveText)
	if raw == "" {
		m.mu.Unlock()
		return nil, arenadto.Validation("empty move")
	}
	var uciStr, sanStr string
	if mv, derr := (nchess.UCINotation{}).Decode(pos, strings.ToLower(raw)); derr == nil {
		sanStr = nchess.AlgebraicNotation{}.Encode(pos, mv)
		if err := s.game.Move(mv, nil); err != nil {
			m.mu.Unlock()
			return nil, arenadto.Validation("illegal move: " + raw)
		}
		uciStr = mv.String()
	} else {
		if err := s.game.PushNotationMove(raw, nchess.AlgebraicNotation{}, nil); err != nil {
			m.mu.Unlock()
			return nil, arenadto.Validation("illegal move: " + raw)
		}
		moves := s.game.Moves()
		last := moves[len(moves)-1]
		sanStr = nchess.AlgebraicNotation{}.Encode(pos, last)
		uciStr = last.String()
	}

	if s.FirstMovePending {
		m.timers.Cancel(firstMoveTimerID(s.ID))
	}

	// Bookkeeping: charge elapsed time (plus increment) to the mover.
	if !s.FirstMovePending {
		elapsed := s.clockNow(now).Sub(s.LastMoveAt).Milliseconds()
		if elapsed < 0 {
			elapsed = 0
		}
		if mover == domain.White {
			s.WhiteMs += s.IncrementMs - elapsed
		} else {
			s.BlackMs += s.IncrementMs - elapsed
		}
	}
	s.MovesUCI = append(s.MovesUCI, uciStr)
	s.MovesSAN = append(s.MovesSAN, sanStr)
	s.FirstMovePending = false
	s.DrawOfferFrom = ""
	s.Turn = colorFrom(s.game.Position().Turn())
	s.LastMoveAt = now

	metrics.MovesApplied.Inc()

	notice := &arenadto.MoveAppliedNotice{
		SessionID: s.ID,
		MoveSAN:   sanStr,
		MoveUCI:   uciStr,
		Turn:      string(s.Turn),
		WhiteMs:   s.remainingMs(domain.White, now),
		BlackMs:   s.remainingMs(domain.Black, now),
	}
	whiteConn, blackConn := s.White.ConnID, s.Black.ConnID
	snap := s.snapshot()

	var eff *endEffects
	if v := outcome.Evaluate(s.game, outcome.Signals{}); v != nil {
		eff = m.terminateLocked(s, v)
	} else {
		m.scheduleFlagLocked(s)
	}
	m.mu.Unlock()

	m.notify(whiteConn, arenadto.EvMoveApplied, notice)
	m.notify(blackConn, arenadto.EvMoveApplied, notice)
	if m.mirror != nil && eff == nil {
		_ = m.mirror.SaveSession(ctx, snap.ID, snap)
	}
	m.runEffects(ctx, eff)
	return notice, nil
}

// scheduleFlagLocked arms the flag-fall check for the side to move.
func (m *Manager) scheduleFlagLocked(s *Session) {
	if m.timers == nil || s.Ended || s.FirstMovePending {
		return
	}
	rem := s.remainingMs(s.Turn, time.Now())
	id, color := s.ID, s.Turn
	m.timers.Schedule(clockTimerID(s.ID), time.Duration(rem)*time.Millisecond, func() {
		m.flagExpired(id, color)
	})
}

// flagExpired re-validates before settling: the session may have ended, the
// turn may have passed, or the clock may be paused.
func (m *Manager) flagExpired(sessionID string, color domain.Color) {
	ctx := context.Background()
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok || s.Ended || s.Turn != color || s.FirstMovePending {
		m.mu.Unlock()
		return
	}
	now := time.Now()
	if rem := s.remainingMs(color, now); rem > 0 {
		// Paused or rescheduled in the meantime; push the check out.
		id := s.ID
		m.timers.Schedule(clockTimerID(id), time.Duration(rem)*time.Millisecond, func() {
			m.flagExpired(id, color)
		})
		m.mu.Unlock()
		return
	}
	eff := m.terminateLocked(s, outcome.Evaluate(s.game, outcome.Signals{TimeoutColor: color}))
	m.mu.Unlock()
	m.runEffects(ctx, eff)
}

// firstMoveExpired aborts a session where neither player ever moved.
func (m *Manager) firstMoveExpired(sessionID string) {
	ctx := context.Background()
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok || s.Ended || !s.FirstMovePending {
		m.mu.Unlock()
		return
	}
	eff := m.terminateLocked(s, &outcome.Verdict{Result: domain.ResultAborted, Reason: domain.ReasonAbort})
	m.mu.Unlock()
	m.runEffects(ctx, eff)
}

// Resign settles the session against the resigning player.
func (m *Manager) Resign(ctx context.Context, sessionID, connID, userID string) (*EndState, error) {
	return m.signalFrom(ctx, sessionID, connID, userID, func(c domain.Color) outcome.Signals {
		return outcome.Signals{ResignColor: c}
	})
}

// OfferDraw records a pending draw offer; it is cleared by any move.
func (m *Manager) OfferDraw(sessionID, connID, userID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return arenadto.NotFound("no such session")
	}
	if s.Ended {
		m.mu.Unlock()
		return arenadto.StateConflict("session already ended")
	}
	c := s.colorOf(connID, userID)
	if c == "" {
		m.mu.Unlock()
		return arenadto.NotFound("connection not in session")
	}
	if s.DrawOfferFrom == c {
		m.mu.Unlock()
		return arenadto.StateConflict("draw already offered")
	}
	s.DrawOfferFrom = c
	opp := s.player(c.Other()).ConnID
	id := s.ID
	m.mu.Unlock()

	m.notify(opp, arenadto.EvDrawOffered, arenadto.GameReq{SessionID: id, Color: string(c)})
	return nil
}

// AcceptDraw converts a pending offer from the opponent into an agreed draw.
func (m *Manager) AcceptDraw(ctx context.Context, sessionID, connID, userID string) (*EndState, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, arenadto.NotFound("no such session")
	}
	if s.Ended {
		st := endStateOf(s)
		m.mu.Unlock()
		return st, nil
	}
	c := s.colorOf(connID, userID)
	if c == "" {
		m.mu.Unlock()
		return nil, arenadto.NotFound("connection not in session")
	}
	if s.DrawOfferFrom == "" || s.DrawOfferFrom == c {
		m.mu.Unlock()
		return nil, arenadto.StateConflict("no draw offer to accept")
	}
	eff := m.terminateLocked(s, outcome.Evaluate(s.game, outcome.Signals{DrawAgreed: true}))
	st := endStateOf(s)
	m.mu.Unlock()
	m.runEffects(ctx, eff)
	return st, nil
}

// RegisterTimeout settles a flag fall reported from outside (client-observed
// or the grace-period coordinator). The claim is verified against the
// authoritative clock first.
func (m *Manager) RegisterTimeout(ctx context.Context, sessionID string, color domain.Color) (*EndState, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, arenadto.NotFound("no such session")
	}
	if s.Ended {
		st := endStateOf(s)
		m.mu.Unlock()
		return st, nil
	}
	if s.remainingMs(color, time.Now()) > 0 {
		m.mu.Unlock()
		return nil, arenadto.StateConflict("clock has not expired")
	}
	eff := m.terminateLocked(s, outcome.Evaluate(s.game, outcome.Signals{TimeoutColor: color}))
	st := endStateOf(s)
	m.mu.Unlock()
	m.runEffects(ctx, eff)
	return st, nil
}

// CheckEnd asks the end-condition engine for a board-derived verdict.
func (m *Manager) CheckEnd(ctx context.Context, sessionID string) (*EndState, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, arenadto.NotFound("no such session")
	}
	if s.Ended {
		st := endStateOf(s)
		m.mu.Unlock()
		return st, nil
	}
	v := outcome.Evaluate(s.game, outcome.Signals{})
	if v == nil {
		m.mu.Unlock()
		return nil, nil
	}
	eff := m.terminateLocked(s, v)
	st := endStateOf(s)
	m.mu.Unlock()
	m.runEffects(ctx, eff)
	return st, nil
}

func (m *Manager) signalFrom(ctx context.Context, sessionID, connID, userID string, mk func(domain.Color) outcome.Signals) (*EndState, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, arenadto.NotFound("no such session")
	}
	if s.Ended {
		st := endStateOf(s)
		m.mu.Unlock()
		return st, nil
	}
	c := s.colorOf(connID, userID)
	if c == "" {
		m.mu.Unlock()
		return nil, arenadto.NotFound("connection not in session")
	}
	v := outcome.Evaluate(s.game, mk(c))
	if v == nil {
		m.mu.Unlock()
		return nil, nil
	}
	eff := m.terminateLocked(s, v)
	st := endStateOf(s)
	m.mu.Unlock()
	m.runEffects(ctx, eff)
	return st, nil
}

func endStateOf(s *Session) *EndState {
	st := &EndState{Result: s.Result, Reason: s.Reason}
	switch s.Result {
	case domain.ResultWhiteWins:
		st.WinnerID, st.LoserID = s.White.UserID, s.Black.UserID
	case domain.ResultBlackWins:
		st.WinnerID, st.LoserID = s.Black.UserID, s.White.UserID
	}
	return st
}

func colorFrom(c nchess.Color) domain.Color {
	if c == nchess.White {
		return domain.White
	}
	return domain.Black
}

func (m *Manager) notify(connID, event string, payload any) {
	if m.notifier == nil || connID == "" {
		return
	}
	m.notifier.Notify(connID, event, payload)
}

func (m *Manager) record(s *Session) *domain.GameRecord {
	return &domain.GameRecord{
		SessionID:   s.ID,
		WhiteID:     s.White.UserID,
		WhiteName:   s.White.Name,
		BlackID:     s.Black.UserID,
		BlackName:   s.Black.Name,
		Mode:        s.Mode,
		TimeControl: s.TimeControl,
		Rated:       s.Rated,
		Result:      s.Result,
		Reason:      s.Reason,
		MovesUCI:    append([]string(nil), s.MovesUCI...),
		MovesSAN:    append([]string(nil), s.MovesSAN...),
		StartedAt:   s.CreatedAt,
		EndedAt:     s.EndedAt,
	}
}
