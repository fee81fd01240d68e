package store

import (
	"context"
	"fmt"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
)

func newTestMirror(t *testing.T) *Mirror {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	m, err := NewMirror(fmt.Sprintf("redis://%s/0", mr.Addr()))
	if err != nil {
		t.Fatalf("NewMirror: %v", err)
	}
	return m
}

type snap struct {
	ID    string `json:"id"`
	Moves int    `json:"moves"`
}

func TestMirrorSaveLoadDrop(t *testing.T) {
	m := newTestMirror(t)
	ctx := context.Background()

	if err := m.SaveSession(ctx, "s1", snap{ID: "s1", Moves: 4}); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	var got snap
	ok, err := m.LoadSession(ctx, "s1", &got)
	if err != nil || !ok {
		t.Fatalf("LoadSession: ok=%v err=%v", ok, err)
	}
	if got.Moves != 4 {
		t.Fatalf("unexpected snapshot: %+v", got)
	}

	if err := m.DropSession(ctx, "s1"); err != nil {
		t.Fatalf("DropSession: %v", err)
	}
	ok, err = m.LoadSession(ctx, "s1", &got)
	if err != nil || ok {
		t.Fatalf("expected absent snapshot after drop, ok=%v err=%v", ok, err)
	}
}

func TestNilMirrorIsNoop(t *testing.T) {
	var m *Mirror
	ctx := context.Background()
	if err := m.SaveSession(ctx, "x", snap{}); err != nil {
		t.Fatalf("nil mirror save should no-op: %v", err)
	}
	if err := m.DropChallenge(ctx, "x"); err != nil {
		t.Fatalf("nil mirror drop should no-op: %v", err)
	}
}
