package wager

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kapu/chess-arena-server/internal/metrics"
	"github.com/kapu/chess-arena-server/internal/obslog"
	"github.com/kapu/chess-arena-server/internal/queue"
	"github.com/kapu/chess-arena-server/internal/sched"
	"github.com/kapu/chess-arena-server/internal/session"
	"github.com/kapu/chess-arena-server/pkg/arenadto"
)

// retention keeps settled challenges around for racing resolvers before GC.
const retention = 10 * time.Minute

type Config struct {
	ChallengeTTL    time.Duration
	ControlDuration time.Duration
}

// SessionCreator is the session manager surface the escrow needs.
type SessionCreator interface {
	Create(ctx context.Context, p session.CreateParams) (string, error)
}

// Pool is the matchmaking surface used to stage an accepted wager pair.
type Pool interface {
	Join(e queue.Entry) error
}

// Manager owns wager challenges through their whole lifecycle and applies
// each settled wager's effect exactly once. It doubles as the queue's match
// starter so wager pairs and pool pairs share one session-creation path.
type Manager struct {
	mu         sync.Mutex
	cfg        Config
	challenges map[string]*Challenge
	bySession  map[string]string
	timers     *sched.Timers

	sessions SessionCreator
	pool     Pool
	store    Store
	mirror   Mirror
	pub      Publisher
	notifier Notifier
}

func NewManager(cfg Config, timers *sched.Timers) *Manager {
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = 60 * time.Second
	}
	if cfg.ControlDuration <= 0 {
		cfg.ControlDuration = 24 * time.Hour
	}
	if timers == nil {
		timers = sched.New()
	}
	return &Manager{
		cfg:        cfg,
		challenges: make(map[string]*Challenge),
		bySession:  make(map[string]string),
		timers:     timers,
	}
}

func (m *Manager) AttachSessions(s SessionCreator) { m.sessions = s }
func (m *Manager) AttachPool(p Pool)               { m.pool = p }
func (m *Manager) AttachStore(s Store)             { m.store = s }
func (m *Manager) AttachMirror(mi Mirror)          { m.mirror = mi }
func (m *Manager) AttachPublisher(p Publisher)     { m.pub = p }
func (m *Manager) SetNotifier(n Notifier)          { m.notifier = n }

func challengeTimerID(id string) string { return "challenge:" + id }
func gcTimerID(id string) string        { return "wagergc:" + id }

// CreateChallenge opens a pending challenge and arms its expiry. Both
// parties must be identified users; wager games are never anonymous.
func (m *Manager) CreateChallenge(ctx context.Context, p CreateParams) (*Challenge, error) {
	if p.ChallengerID == "" || strings.TrimSpace(p.OpponentID) == "" {
		return nil, arenadto.Validation("wagers need two identified players")
	}
	if p.OpponentID == p.ChallengerID {
		return nil, arenadto.Validation("cannot challenge yourself")
	}
	if !validKind(p.Kind) {
		return nil, arenadto.Validation("unknown wager kind")
	}
	if p.Kind == KindRatingStake && p.Stake <= 0 {
		return nil, arenadto.Validation("rating stake must be positive")
	}
	if p.Kind != KindRatingStake {
		p.Stake = 0
	}
	if p.Mode == "" || p.TimeControl == "" {
		return nil, arenadto.Validation("mode and time control are required")
	}
	switch p.Side {
	case "", queue.SideRandom:
		p.Side = queue.SideRandom
	case queue.SideWhite, queue.SideBlack:
	default:
		return nil, arenadto.Validation("side must be white, black or random")
	}

	now := time.Now()
	ch := &Challenge{
		ID:               uuid.NewString(),
		ChallengerID:     p.ChallengerID,
		ChallengerConn:   p.ChallengerConn,
		ChallengerName:   p.ChallengerName,
		ChallengerRating: p.ChallengerRating,
		OpponentID:       p.OpponentID,
		Kind:             p.Kind,
		Stake:            p.Stake,
		Mode:             p.Mode,
		TimeControl:      p.TimeControl,
		Side:             p.Side,
		Status:           StatusPending,
		CreatedAt:        now,
		ExpiresAt:        now.Add(m.cfg.ChallengeTTL),
	}

	m.mu.Lock()
	m.challenges[ch.ID] = ch
	snap := *ch
	m.mu.Unlock()

	id := ch.ID
	m.timers.Schedule(challengeTimerID(id), m.cfg.ChallengeTTL, func() { m.expire(id) })
	m.saveMirror(ctx, &snap)
	metrics.WagerTransitions.WithLabelValues(string(StatusPending)).Inc()
	obslog.L().Info("wager_challenge_create",
		zap.String("challenge_id", id),
		zap.String("challenger_id", p.ChallengerID),
		zap.String("opponent_id", p.OpponentID),
		zap.String("kind", string(p.Kind)),
		zap.Int("stake", p.Stake),
	)

	m.notify(snap.ChallengerConn, arenadto.EvChallengeCreated, arenadto.ChallengeCreatedNotice{
		ChallengeID: id,
		ExpiresAt:   snap.ExpiresAt,
	})
	m.notifyUser(snap.OpponentID, arenadto.EvChallengeReceived, arenadto.ChallengeReceivedNotice{
		ChallengeID:  id,
		SenderID:     snap.ChallengerID,
		SenderName:   snap.ChallengerName,
		SenderRating: snap.ChallengerRating,
		Kind:         string(snap.Kind),
		Stake:        snap.Stake,
		Mode:         snap.Mode,
		TimeControl:  snap.TimeControl,
		ExpiresAt:    snap.ExpiresAt,
	})
	return &snap, nil
}

// Responder carries the accepting/rejecting player's live identity.
type Responder struct {
	UserID string
	ConnID string
	Name   string
	Rating int
}

// Respond decides a pending challenge. Acceptance stages both players into
// the matchmaking pool as a direct wager pair.
func (m *Manager) Respond(ctx context.Context, challengeID string, r Responder, accepted bool) error {
	m.mu.Lock()
	ch, ok := m.challenges[challengeID]
	if !ok {
		m.mu.Unlock()
		return arenadto.NotFound("no such challenge")
	}
	if ch.Status != StatusPending {
		m.mu.Unlock()
		return arenadto.StateConflict("challenge is " + string(ch.Status))
	}
	if r.UserID == "" || r.UserID != ch.OpponentID {
		m.mu.Unlock()
		return arenadto.StateConflict("challenge is not addressed to you")
	}

	if accepted {
		ch.Status = StatusAccepted
		ch.OpponentConn = r.ConnID
		ch.OpponentName = r.Name
		ch.OpponentRating = r.Rating
	} else {
		ch.Status = StatusRejected
	}
	snap := *ch
	m.mu.Unlock()

	m.timers.Cancel(challengeTimerID(challengeID))
	m.saveMirror(ctx, &snap)
	metrics.WagerTransitions.WithLabelValues(string(snap.Status)).Inc()
	obslog.L().Info("wager_challenge_respond",
		zap.String("challenge_id", challengeID),
		zap.Bool("accepted", accepted),
	)

	decided := arenadto.ChallengeDecidedNotice{
		ChallengeID: challengeID,
		Accepted:    accepted,
		ResponderID: r.UserID,
	}
	m.notifyUser(snap.ChallengerID, arenadto.EvChallengeDecided, decided)
	m.notify(r.ConnID, arenadto.EvChallengeDecided, decided)

	if !accepted {
		m.scheduleGC(challengeID)
		return nil
	}
	return m.stagePair(&snap)
}

// stagePair puts both parties into the pool carrying the challenge id, so
// the next pairing pass matches them directly.
func (m *Manager) stagePair(ch *Challenge) error {
	if m.pool == nil {
		return arenadto.StateConflict("matchmaking unavailable")
	}
	challenger := queue.Entry{
		ConnID:      ch.ChallengerConn,
		UserID:      ch.ChallengerID,
		Name:        ch.ChallengerName,
		Rating:      ch.ChallengerRating,
		Mode:        ch.Mode,
		TimeControl: ch.TimeControl,
		Rated:       true,
		Side:        ch.Side,
		WagerID:     ch.ID,
	}
	opponent := queue.Entry{
		ConnID:      ch.OpponentConn,
		UserID:      ch.OpponentID,
		Name:        ch.OpponentName,
		Rating:      ch.OpponentRating,
		Mode:        ch.Mode,
		TimeControl: ch.TimeControl,
		Rated:       true,
		Side:        oppositeSide(ch.Side),
		WagerID:     ch.ID,
	}
	if err := m.pool.Join(challenger); err != nil {
		return err
	}
	if err := m.pool.Join(opponent); err != nil {
		return err
	}
	return nil
}

func oppositeSide(s string) string {
	switch s {
	case queue.SideWhite:
		return queue.SideBlack
	case queue.SideBlack:
		return queue.SideWhite
	}
	return queue.SideRandom
}

// Cancel withdraws a pending challenge. Only the challenger may cancel.
func (m *Manager) Cancel(ctx context.Context, challengeID, requesterID string) error {
	m.mu.Lock()
	ch, ok := m.challenges[challengeID]
	if !ok {
		m.mu.Unlock()
		return arenadto.NotFound("no such challenge")
	}
	if ch.ChallengerID != requesterID {
		m.mu.Unlock()
		return arenadto.StateConflict("only the challenger can cancel")
	}
	if ch.Status != StatusPending {
		m.mu.Unlock()
		return arenadto.StateConflict("challenge is " + string(ch.Status))
	}
	ch.Status = StatusCancelled
	snap := *ch
	m.mu.Unlock()

	m.timers.Cancel(challengeTimerID(challengeID))
	m.saveMirror(ctx, &snap)
	metrics.WagerTransitions.WithLabelValues(string(StatusCancelled)).Inc()
	obslog.L().Info("wager_challenge_cancel", zap.String("challenge_id", challengeID))

	m.notifyUser(snap.OpponentID, arenadto.EvChallengeDecided, arenadto.ChallengeDecidedNotice{
		ChallengeID: challengeID,
		Accepted:    false,
		ResponderID: requesterID,
	})
	m.scheduleGC(challengeID)
	return nil
}

// expire moves a still-pending challenge to expired. A no-op if the
// challenge was decided while the timer was in flight.
func (m *Manager) expire(challengeID string) {
	ctx := context.Background()
	m.mu.Lock()
	ch, ok := m.challenges[challengeID]
	if !ok || ch.Status != StatusPending {
		m.mu.Unlock()
		return
	}
	ch.Status = StatusExpired
	snap := *ch
	m.mu.Unlock()

	m.saveMirror(ctx, &snap)
	metrics.WagerTransitions.WithLabelValues(string(StatusExpired)).Inc()
	obslog.L().Info("wager_challenge_expire", zap.String("challenge_id", challengeID))

	decided := arenadto.ChallengeDecidedNotice{ChallengeID: challengeID, Accepted: false}
	m.notify(snap.ChallengerConn, arenadto.EvChallengeDecided, decided)
	m.notifyUser(snap.OpponentID, arenadto.EvChallengeDecided, decided)
	m.scheduleGC(challengeID)
}

func (m *Manager) scheduleGC(challengeID string) {
	m.timers.Schedule(gcTimerID(challengeID), retention, func() {
		m.mu.Lock()
		if ch, ok := m.challenges[challengeID]; ok && ch.Status != StatusPending && ch.Status != StatusAccepted {
			delete(m.challenges, challengeID)
			if ch.SessionID != "" {
				delete(m.bySession, ch.SessionID)
			}
		}
		m.mu.Unlock()
	})
}

func (m *Manager) notify(connID, event string, payload any) {
	if m.notifier == nil || connID == "" {
		return
	}
	m.notifier.Notify(connID, event, payload)
}

func (m *Manager) notifyUser(userID, event string, payload any) {
	if m.notifier == nil || userID == "" {
		return
	}
	m.notifier.NotifyUser(userID, event, payload)
}

func (m *Manager) saveMirror(ctx context.Context, ch *Challenge) {
	if m.mirror == nil {
		return
	}
	_ = m.mirror.SaveChallenge(ctx, ch.ID, ch)
}
