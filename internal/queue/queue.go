package queue

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/chess-arena-server/internal/metrics"
	"github.com/kapu/chess-arena-server/internal/obslog"
	"github.com/kapu/chess-arena-server/internal/sched"
	"github.com/kapu/chess-arena-server/pkg/arenadto"
)

// Entry is one waiting player with the parameters they want to play under.
type Entry struct {
	ConnID      string
	UserID      string
	Name        string
	Rating      int
	Mode        string
	TimeControl string
	Rated       bool
	Side        string // "white", "black" or "random"
	WagerID     string
	JoinedAt    time.Time
}

// Starter opens a session for two paired entries. The first entry plays
// white. An error aborts the match; the queue restores both players.
type Starter interface {
	StartMatch(ctx context.Context, white, black Entry) error
}

type Config struct {
	PairInterval    time.Duration
	RatingThreshold int
	RequeueGrace    time.Duration
}

// Queue is the waiting pool. One mutex guards the pool and the
// recently-disconnected side table; the pairing pass copies candidates out
// before calling the Starter.
type Queue struct {
	mu      sync.Mutex
	cfg     Config
	entries map[string]*Entry // by conn id
	byUser  map[string]string // user id -> conn id
	parked  map[string]*Entry // recently disconnected, by user id

	// parkedGen counts parks per user so a stale eviction fire cannot
	// evict an entry parked after the timer was armed.
	parkedGen map[string]uint64

	timers  *sched.Timers
	starter Starter

	// Alive reports whether a connection is still usable. Stale entries
	// found during a pairing scan are purged, not matched. Optional.
	Alive func(connID string) bool
}

func New(cfg Config, timers *sched.Timers, starter Starter) *Queue {
	if cfg.PairInterval <= 0 {
		cfg.PairInterval = 2 * time.Second
	}
	if cfg.RatingThreshold <= 0 {
		cfg.RatingThreshold = 200
	}
	if cfg.RequeueGrace <= 0 {
		cfg.RequeueGrace = 15 * time.Second
	}
	if timers == nil {
		timers = sched.New()
	}
	return &Queue{
		cfg:       cfg,
		entries:   make(map[string]*Entry),
		byUser:    make(map[string]string),
		parked:    make(map[string]*Entry),
		parkedGen: make(map[string]uint64),
		timers:    timers,
		starter:   starter,
	}
}

// Join inserts a waiting player. A connection or identified user already in
// the pool is rejected without touching the existing entry.
func (q *Queue) Join(e Entry) error {
	if strings.TrimSpace(e.ConnID) == "" {
		return arenadto.Validation("missing connection")
	}
	if e.Mode == "" || e.TimeControl == "" {
		return arenadto.Validation("mode and time control are required")
	}
	if e.Rated && e.UserID == "" {
		return arenadto.Validation("guests can only queue unrated")
	}
	switch e.Side {
	case "", SideRandom:
		e.Side = SideRandom
	case SideWhite, SideBlack:
	default:
		return arenadto.Validation("side must be white, black or random")
	}
	if e.JoinedAt.IsZero() {
		e.JoinedAt = time.Now()
	}

	q.mu.Lock()
	if _, dup := q.entries[e.ConnID]; dup {
		q.mu.Unlock()
		obslog.L().Warn("queue_join_duplicate", zap.String("conn_id", e.ConnID))
		return arenadto.StateConflict("already queued")
	}
	if e.UserID != "" {
		if _, dup := q.byUser[e.UserID]; dup {
			q.mu.Unlock()
			obslog.L().Warn("queue_join_duplicate", zap.String("user_id", e.UserID))
			return arenadto.StateConflict("already queued")
		}
		delete(q.parked, e.UserID)
		q.timers.Cancel(requeueTimerID(e.UserID))
		q.byUser[e.UserID] = e.ConnID
	}
	ent := e
	q.entries[e.ConnID] = &ent
	depth := len(q.entries)
	q.mu.Unlock()

	metrics.QueueDepth.Set(float64(depth))
	obslog.L().Info("queue_join",
		zap.String("conn_id", e.ConnID),
		zap.String("user_id", e.UserID),
		zap.String("mode", e.Mode),
		zap.String("time_control", e.TimeControl),
		zap.Bool("rated", e.Rated),
	)
	return nil
}

// Leave removes a waiting player. On a disconnect, an identified player's
// entry is parked for a short window so a quick reconnect restores their
// place in line instead of losing it.
func (q *Queue) Leave(connID string, isDisconnect bool) {
	q.mu.Lock()
	e, ok := q.entries[connID]
	if !ok {
		q.mu.Unlock()
		return
	}
	delete(q.entries, connID)
	if e.UserID != "" {
		delete(q.byUser, e.UserID)
	}
	if isDisconnect && e.UserID != "" {
		uid := e.UserID
		q.parked[uid] = e
		q.parkedGen[uid]++
		gen := q.parkedGen[uid]
		q.timers.Schedule(requeueTimerID(uid), q.cfg.RequeueGrace, func() {
			q.evictParked(uid, gen)
		})
	}
	depth := len(q.entries)
	q.mu.Unlock()

	metrics.QueueDepth.Set(float64(depth))
	obslog.L().Info("queue_leave",
		zap.String("conn_id", connID),
		zap.Bool("disconnect", isDisconnect),
	)
}

// Resume rebinds a recently disconnected player to a fresh socket, keeping
// the original join order. Reports whether a parked entry was restored.
func (q *Queue) Resume(userID, connID string) bool {
	q.mu.Lock()
	e, ok := q.parked[userID]
	if !ok {
		q.mu.Unlock()
		return false
	}
	delete(q.parked, userID)
	q.timers.Cancel(requeueTimerID(userID))
	e.ConnID = connID
	q.entries[connID] = e
	q.byUser[userID] = connID
	depth := len(q.entries)
	q.mu.Unlock()

	metrics.QueueDepth.Set(float64(depth))
	obslog.L().Info("queue_resume",
		zap.String("user_id", userID),
		zap.String("conn_id", connID),
	)
	return true
}

// evictParked drops a parked entry once its grace ran out. A fire armed for
// an earlier park of the same user is ignored.
func (q *Queue) evictParked(userID string, gen uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.parkedGen[userID] != gen {
		return
	}
	delete(q.parked, userID)
}

// Depth reports the number of waiting entries.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Run drives the periodic pairing pass until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.cfg.PairInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.PairPass(ctx)
		}
	}
}

func requeueTimerID(userID string) string { return "requeue:" + userID }
