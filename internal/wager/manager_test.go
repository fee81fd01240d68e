package wager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kapu/chess-arena-server/internal/domain"
	"github.com/kapu/chess-arena-server/internal/queue"
	"github.com/kapu/chess-arena-server/internal/sched"
	"github.com/kapu/chess-arena-server/internal/session"
	"github.com/kapu/chess-arena-server/pkg/arenadto"
)

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeNotifier) Notify(connID, event string, payload any)     { f.record(event) }
func (f *fakeNotifier) NotifyUser(userID, event string, payload any) { f.record(event) }

func (f *fakeNotifier) record(event string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeNotifier) count(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e == event {
			n++
		}
	}
	return n
}

type fakeWagerStore struct {
	mu            sync.Mutex
	profiles      map[string]int
	ratingUpdates map[string][]int
	controls      []string // "controller>controlled"
	cleared       []string
	locks         []string
}

func newFakeWagerStore() *fakeWagerStore {
	return &fakeWagerStore{
		profiles:      map[string]int{},
		ratingUpdates: map[string][]int{},
	}
}

func (f *fakeWagerStore) FindUserByAnyIdentifier(ctx context.Context, ident string) (*domain.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.profiles[ident]
	if !ok {
		return nil, errors.New("no such user")
	}
	return &domain.Profile{UserID: ident, Rating: r}, nil
}

func (f *fakeWagerStore) UpdateRating(ctx context.Context, userID string, newRating int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ratingUpdates[userID] = append(f.ratingUpdates[userID], newRating)
	return nil
}

func (f *fakeWagerStore) SetProfileControl(ctx context.Context, controllerID, controlledID string, until time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.controls = append(f.controls, controllerID+">"+controlledID)
	return nil
}

func (f *fakeWagerStore) ClearProfileControl(ctx context.Context, controlledID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, controlledID)
	return nil
}

func (f *fakeWagerStore) SetProfileLock(ctx context.Context, userID string, until time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locks = append(f.locks, userID)
	return nil
}

func (f *fakeWagerStore) ClearProfileLock(ctx context.Context, userID string) error { return nil }

type fakeSessions struct {
	mu     sync.Mutex
	err    error
	params []session.CreateParams
}

func (f *fakeSessions) Create(ctx context.Context, p session.CreateParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.params = append(f.params, p)
	return "s1", nil
}

type fakePool struct {
	mu      sync.Mutex
	entries []queue.Entry
}

func (f *fakePool) Join(e queue.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

func newTestWager(t *testing.T, ttl time.Duration) (*Manager, *fakeNotifier, *fakeWagerStore, *fakeSessions, *fakePool) {
	t.Helper()
	tm := sched.New()
	t.Cleanup(tm.Stop)
	m := NewManager(Config{ChallengeTTL: ttl}, tm)
	fn := &fakeNotifier{}
	fs := newFakeWagerStore()
	fss := &fakeSessions{}
	fp := &fakePool{}
	m.SetNotifier(fn)
	m.AttachStore(fs)
	m.AttachSessions(fss)
	m.AttachPool(fp)
	return m, fn, fs, fss, fp
}

func stakeParams() CreateParams {
	return CreateParams{
		ChallengerID:     "u1",
		ChallengerConn:   "c1",
		ChallengerName:   "alice",
		ChallengerRating: 1500,
		OpponentID:       "u2",
		Kind:             KindRatingStake,
		Stake:            100,
		Mode:             "blitz",
		TimeControl:      "5+3",
		Side:             queue.SideWhite,
	}
}

func acceptedChallenge(t *testing.T, m *Manager) *Challenge {
	t.Helper()
	ch, err := m.CreateChallenge(context.Background(), stakeParams())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	r := Responder{UserID: "u2", ConnID: "c2", Name: "bob", Rating: 1400}
	if err := m.Respond(context.Background(), ch.ID, r, true); err != nil {
		t.Fatalf("respond: %v", err)
	}
	return ch
}

func TestCreateChallengeValidation(t *testing.T) {
	m, _, _, _, _ := newTestWager(t, time.Minute)
	ctx := context.Background()

	p := stakeParams()
	p.OpponentID = "u1"
	if _, err := m.CreateChallenge(ctx, p); arenadto.CodeOf(err) != arenadto.CodeValidation {
		t.Fatalf("self challenge: %v", err)
	}
	p = stakeParams()
	p.Kind = "pink_slip"
	if _, err := m.CreateChallenge(ctx, p); arenadto.CodeOf(err) != arenadto.CodeValidation {
		t.Fatalf("unknown kind: %v", err)
	}
	p = stakeParams()
	p.Stake = 0
	if _, err := m.CreateChallenge(ctx, p); arenadto.CodeOf(err) != arenadto.CodeValidation {
		t.Fatalf("zero stake: %v", err)
	}
	p = stakeParams()
	p.ChallengerID = ""
	if _, err := m.CreateChallenge(ctx, p); arenadto.CodeOf(err) != arenadto.CodeValidation {
		t.Fatalf("anonymous challenger: %v", err)
	}
}

func TestAcceptStagesWagerPair(t *testing.T) {
	m, fn, _, _, fp := newTestWager(t, time.Minute)
	ch := acceptedChallenge(t, m)

	got, ok := m.Get(ch.ID)
	if !ok || got.Status != StatusAccepted {
		t.Fatalf("status = %v", got.Status)
	}
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if len(fp.entries) != 2 {
		t.Fatalf("staged entries = %d", len(fp.entries))
	}
	for _, e := range fp.entries {
		if e.WagerID != ch.ID {
			t.Fatalf("entry without wager id: %+v", e)
		}
	}
	// Challenger asked for white, so the opponent is staged for black.
	if fp.entries[0].Side != queue.SideWhite || fp.entries[1].Side != queue.SideBlack {
		t.Fatalf("sides = %s / %s", fp.entries[0].Side, fp.entries[1].Side)
	}
	if fn.count(arenadto.EvChallengeDecided) == 0 {
		t.Fatal("no decision notice sent")
	}
}

func TestRespondTerminalStates(t *testing.T) {
	m, _, _, _, _ := newTestWager(t, time.Minute)
	ctx := context.Background()
	ch, err := m.CreateChallenge(ctx, stakeParams())
	if err != nil {
		t.Fatal(err)
	}
	r := Responder{UserID: "u2", ConnID: "c2"}

	if err := m.Respond(ctx, ch.ID, Responder{UserID: "u3"}, true); arenadto.CodeOf(err) != arenadto.CodeStateConflict {
		t.Fatalf("stranger respond: %v", err)
	}
	if err := m.Respond(ctx, ch.ID, r, false); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if err := m.Respond(ctx, ch.ID, r, true); arenadto.CodeOf(err) != arenadto.CodeStateConflict {
		t.Fatalf("second respond: %v", err)
	}
	got, _ := m.Get(ch.ID)
	if got.Status != StatusRejected {
		t.Fatalf("second respond changed status to %v", got.Status)
	}
}

func TestCancelChallengerOnly(t *testing.T) {
	m, _, _, _, _ := newTestWager(t, time.Minute)
	ctx := context.Background()
	ch, err := m.CreateChallenge(ctx, stakeParams())
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Cancel(ctx, ch.ID, "u2"); arenadto.CodeOf(err) != arenadto.CodeStateConflict {
		t.Fatalf("opponent cancel: %v", err)
	}
	if err := m.Cancel(ctx, ch.ID, "u1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := m.Cancel(ctx, ch.ID, "u1"); arenadto.CodeOf(err) != arenadto.CodeStateConflict {
		t.Fatalf("double cancel: %v", err)
	}
}

func TestChallengeExpires(t *testing.T) {
	m, _, _, _, _ := newTestWager(t, 20*time.Millisecond)
	ctx := context.Background()
	ch, err := m.CreateChallenge(ctx, stakeParams())
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, _ := m.Get(ch.ID)
		if got.Status == StatusExpired {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("challenge never expired, status = %v", got.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := m.Respond(ctx, ch.ID, Responder{UserID: "u2"}, true); arenadto.CodeOf(err) != arenadto.CodeStateConflict {
		t.Fatalf("respond after expiry: %v", err)
	}
}

func TestStartMatchPoolPassThrough(t *testing.T) {
	m, _, _, fss, _ := newTestWager(t, time.Minute)
	a := queue.Entry{ConnID: "c1", UserID: "u1", Mode: "blitz", TimeControl: "5+3", Rated: true}
	b := queue.Entry{ConnID: "c2", UserID: "u2", Mode: "blitz", TimeControl: "5+3", Rated: true}
	if err := m.StartMatch(context.Background(), a, b); err != nil {
		t.Fatalf("pool start: %v", err)
	}
	fss.mu.Lock()
	defer fss.mu.Unlock()
	if len(fss.params) != 1 || fss.params[0].RequirePersist {
		t.Fatalf("pool match params: %+v", fss.params)
	}
}

func TestStartMatchWagerLinksSession(t *testing.T) {
	m, _, _, fss, fp := newTestWager(t, time.Minute)
	ch := acceptedChallenge(t, m)

	fp.mu.Lock()
	a, b := fp.entries[0], fp.entries[1]
	fp.mu.Unlock()
	if err := m.StartMatch(context.Background(), a, b); err != nil {
		t.Fatalf("wager start: %v", err)
	}

	fss.mu.Lock()
	p := fss.params[0]
	fss.mu.Unlock()
	if !p.RequirePersist || p.WagerID != ch.ID || !p.Rated {
		t.Fatalf("wager match params: %+v", p)
	}
	got, _ := m.Get(ch.ID)
	if got.SessionID != "s1" {
		t.Fatalf("session link = %q", got.SessionID)
	}
}

func TestStartMatchWagerRollsBackOnFailure(t *testing.T) {
	m, _, _, fss, fp := newTestWager(t, time.Minute)
	ch := acceptedChallenge(t, m)
	fss.err = arenadto.Persistence("db down")

	fp.mu.Lock()
	a, b := fp.entries[0], fp.entries[1]
	fp.mu.Unlock()
	if err := m.StartMatch(context.Background(), a, b); err == nil {
		t.Fatal("expected start failure")
	}

	got, _ := m.Get(ch.ID)
	if got.Status != StatusPending {
		t.Fatalf("status after rollback = %v", got.Status)
	}
	if got.SessionID != "" {
		t.Fatalf("rolled-back challenge kept session %q", got.SessionID)
	}
}

func TestResolveStakeExactlyOnce(t *testing.T) {
	m, fn, fs, _, fp := newTestWager(t, time.Minute)
	ch := acceptedChallenge(t, m)
	fs.profiles["u2"] = 1380

	fp.mu.Lock()
	a, b := fp.entries[0], fp.entries[1]
	fp.mu.Unlock()
	if err := m.StartMatch(context.Background(), a, b); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	m.Resolve(ctx, "s1", "u1", false)
	m.Resolve(ctx, "s1", "u1", false)

	got, _ := m.Get(ch.ID)
	if got.Status != StatusCompleted || !got.ResultApplied || got.WinnerID != "u1" {
		t.Fatalf("settled challenge: %+v", got)
	}
	fs.mu.Lock()
	updates := fs.ratingUpdates["u2"]
	fs.mu.Unlock()
	if len(updates) != 1 || updates[0] != 1280 {
		t.Fatalf("stake applied %v", updates)
	}
	if fn.count(arenadto.EvWagerResult) != 2 {
		t.Fatalf("wager.result notices = %d", fn.count(arenadto.EvWagerResult))
	}
}

func TestResolveStakeFloorsAtZero(t *testing.T) {
	m, _, fs, _, fp := newTestWager(t, time.Minute)
	acceptedChallenge(t, m)
	fs.profiles["u2"] = 40

	fp.mu.Lock()
	a, b := fp.entries[0], fp.entries[1]
	fp.mu.Unlock()
	if err := m.StartMatch(context.Background(), a, b); err != nil {
		t.Fatal(err)
	}
	m.Resolve(context.Background(), "s1", "u1", false)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if got := fs.ratingUpdates["u2"]; len(got) != 1 || got[0] != 0 {
		t.Fatalf("floored stake = %v", got)
	}
}

func TestResolveProfileControl(t *testing.T) {
	m, _, fs, _, fp := newTestWager(t, time.Minute)
	ctx := context.Background()
	p := stakeParams()
	p.Kind = KindProfileControl
	p.Stake = 0
	ch, err := m.CreateChallenge(ctx, p)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Respond(ctx, ch.ID, Responder{UserID: "u2", ConnID: "c2", Name: "bob"}, true); err != nil {
		t.Fatal(err)
	}
	fp.mu.Lock()
	a, b := fp.entries[0], fp.entries[1]
	fp.mu.Unlock()
	if err := m.StartMatch(ctx, a, b); err != nil {
		t.Fatal(err)
	}

	// Challenger resigns, opponent takes control.
	m.Resolve(ctx, "s1", "u2", false)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.controls) != 1 || fs.controls[0] != "u2>u1" {
		t.Fatalf("controls = %v", fs.controls)
	}
	if len(fs.cleared) != 1 || fs.cleared[0] != "u2" {
		t.Fatalf("winner's own control not cleared: %v", fs.cleared)
	}
	got, _ := m.Get(ch.ID)
	if got.Status != StatusCompleted || !got.ResultApplied {
		t.Fatalf("control wager not completed: %+v", got)
	}
}

func TestResolveDrawHasNoEffect(t *testing.T) {
	m, _, fs, _, fp := newTestWager(t, time.Minute)
	ch := acceptedChallenge(t, m)
	fs.profiles["u1"] = 1500
	fs.profiles["u2"] = 1400

	fp.mu.Lock()
	a, b := fp.entries[0], fp.entries[1]
	fp.mu.Unlock()
	if err := m.StartMatch(context.Background(), a, b); err != nil {
		t.Fatal(err)
	}
	m.Resolve(context.Background(), "s1", "", true)

	got, _ := m.Get(ch.ID)
	if got.Status != StatusCompleted {
		t.Fatalf("draw resolve status = %v", got.Status)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.ratingUpdates) != 0 {
		t.Fatalf("draw applied a stake: %v", fs.ratingUpdates)
	}
}

func TestResolveUnlinkedSessionIsNoop(t *testing.T) {
	m, fn, _, _, _ := newTestWager(t, time.Minute)
	m.Resolve(context.Background(), "ghost", "u1", false)
	if fn.count(arenadto.EvWagerResult) != 0 {
		t.Fatal("unlinked resolve produced notices")
	}
}
