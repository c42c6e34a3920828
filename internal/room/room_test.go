package room

import (
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	r := New("1-2", time.Now())
	if r == nil {
		t.Fatal("New returned nil")
	}
	if r.ID != "1-2" {
		t.Errorf("expected ID 1-2, got %s", r.ID)
	}
	if r.Len() != 0 {
		t.Errorf("expected empty room, got %d members", r.Len())
	}
}

func TestRoom_JoinIdempotent(t *testing.T) {
	r := New("1-2", time.Now())

	if !r.Join("a") {
		t.Error("first join should report a new member")
	}
	if r.Join("a") {
		t.Error("second join should not report a new member")
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 member, got %d", r.Len())
	}
}

func TestRoom_JoinLeave(t *testing.T) {
	r := New("1-2", time.Now())
	r.Join("a")

	if got := r.Members(); len(got) != 1 || got[0] != "a" {
		t.Errorf("expected members [a], got %v", got)
	}
	if !r.Leave("a") {
		t.Error("leave should report removal")
	}
	if r.Len() != 0 {
		t.Errorf("expected no members, got %v", r.Members())
	}
	// Leaving again is a no-op
	if r.Leave("a") {
		t.Error("second leave should report nothing removed")
	}
}

func TestRoom_Broadcast(t *testing.T) {
	r := New("1-2", time.Now())
	r.Join("b")
	r.Join("a")
	r.Join("a")

	var got []string
	r.Broadcast(func(id string) {
		got = append(got, id)
	})

	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("expected [a b], got %v", got)
	}
	if r.Published != 1 {
		t.Errorf("expected Published 1, got %d", r.Published)
	}
}

func TestRoom_BroadcastWhileLeaving(t *testing.T) {
	r := New("1-2", time.Now())
	r.Join("a")
	r.Join("b")
	r.Join("c")

	var got []string
	r.Broadcast(func(id string) {
		got = append(got, id)
		r.Leave(id)
	})

	if len(got) != 3 {
		t.Errorf("expected every member to be visited once, got %v", got)
	}
	if r.Len() != 0 {
		t.Errorf("expected empty room, got %d members", r.Len())
	}
}
