package session

import (
	"errors"
	"sync"
	"testing"

	"classrelay/pkg/types"
)

// fakeConn records writes; failing=true simulates a dead peer.
type fakeConn struct {
	mu      sync.Mutex
	writes  []interface{}
	failing bool
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return errors.New("connection reset")
	}
	c.writes = append(c.writes, v)
	return nil
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

func TestRegistry_JoinAndLeave(t *testing.T) {
	registry := NewRegistry()
	conn := &fakeConn{}

	if err := registry.Join(conn, "room-1", "2s01", "Kim"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	member, ok := registry.Member(conn)
	if !ok {
		t.Fatal("Member not found after join")
	}
	if member.ParticipantID != "2s01" || member.RoomID != "room-1" || member.Name != "Kim" {
		t.Errorf("unexpected member: %+v", member)
	}

	left, ok := registry.Leave(conn)
	if !ok {
		t.Fatal("Leave reported no membership")
	}
	if left.ParticipantID != "2s01" {
		t.Errorf("Leave returned wrong member: %+v", left)
	}

	if _, ok := registry.Member(conn); ok {
		t.Error("Member still present after leave")
	}
}

func TestRegistry_JoinValidation(t *testing.T) {
	registry := NewRegistry()

	if err := registry.Join(nil, "room-1", "2s01", ""); !errors.Is(err, ErrNilConn) {
		t.Errorf("expected ErrNilConn, got %v", err)
	}

	conn := &fakeConn{}
	if err := registry.Join(conn, "room-1", "2s01", ""); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if err := registry.Join(conn, "room-2", "2s01", ""); !errors.Is(err, ErrAlreadyInRoom) {
		t.Errorf("expected ErrAlreadyInRoom, got %v", err)
	}
}

func TestRegistry_LeaveWithoutJoin(t *testing.T) {
	registry := NewRegistry()

	if _, ok := registry.Leave(&fakeConn{}); ok {
		t.Error("Leave should report false for an unjoined connection")
	}
	if _, ok := registry.Leave(nil); ok {
		t.Error("Leave should report false for nil")
	}
}

func TestRegistry_BroadcastToRoom(t *testing.T) {
	registry := NewRegistry()
	inRoom1 := &fakeConn{}
	inRoom2 := &fakeConn{}
	elsewhere := &fakeConn{}

	registry.Join(inRoom1, "room-1", "2s01", "")
	registry.Join(inRoom2, "room-1", "2s02", "")
	registry.Join(elsewhere, "room-2", "2s03", "")

	registry.BroadcastToRoom("room-1", "hello")

	if inRoom1.writeCount() != 1 || inRoom2.writeCount() != 1 {
		t.Error("all room members should receive the broadcast")
	}
	if elsewhere.writeCount() != 0 {
		t.Error("other rooms must not receive the broadcast")
	}
}

func TestRegistry_BroadcastSkipsFailingConn(t *testing.T) {
	registry := NewRegistry()
	healthy := &fakeConn{}
	dead := &fakeConn{failing: true}

	registry.Join(healthy, "room-1", "2s01", "")
	registry.Join(dead, "room-1", "2s02", "")

	registry.BroadcastToRoom("room-1", "hello")

	if healthy.writeCount() != 1 {
		t.Error("a dead connection must not block delivery to healthy ones")
	}
}

func TestRegistry_SendToParticipantMultiTab(t *testing.T) {
	registry := NewRegistry()
	tab1 := &fakeConn{}
	tab2 := &fakeConn{}
	other := &fakeConn{}

	// The same participant connected twice, plus an unrelated one.
	registry.Join(tab1, "room-1", "2s01", "")
	registry.Join(tab2, "room-1", "2s01", "")
	registry.Join(other, "room-1", "2s02", "")

	sent := registry.SendToParticipant("2s01", "private")

	if sent != 2 {
		t.Errorf("expected 2 deliveries, got %d", sent)
	}
	if tab1.writeCount() != 1 || tab2.writeCount() != 1 {
		t.Error("every live connection of the participant should receive the message")
	}
	if other.writeCount() != 0 {
		t.Error("other participants must not receive a private message")
	}
}

func TestRegistry_SendToParticipantOffline(t *testing.T) {
	registry := NewRegistry()

	if sent := registry.SendToParticipant("2s09", "private"); sent != 0 {
		t.Errorf("expected 0 deliveries for an offline participant, got %d", sent)
	}
}

func TestRegistry_ListParticipants(t *testing.T) {
	registry := NewRegistry()
	tab1 := &fakeConn{}
	tab2 := &fakeConn{}
	second := &fakeConn{}

	registry.Join(tab2, "room-1", "2s02", "Lee")
	registry.Join(tab1, "room-1", "2s02", "Lee")
	registry.Join(second, "room-1", "2s01", "Kim")

	got := registry.ListParticipants("room-1")

	want := []types.Participant{
		{StudentID: "2s01", Name: "Kim"},
		{StudentID: "2s02", Name: "Lee"},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d participants, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("participant %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestRegistry_Stats(t *testing.T) {
	registry := NewRegistry()
	registry.Join(&fakeConn{}, "room-1", "2s01", "")
	registry.Join(&fakeConn{}, "room-2", "2s02", "")

	stats := registry.Stats()
	if stats["connections"] != 2 {
		t.Errorf("expected 2 connections, got %d", stats["connections"])
	}
	if stats["rooms"] != 2 {
		t.Errorf("expected 2 rooms, got %d", stats["rooms"])
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	registry := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn := &fakeConn{}
			if err := registry.Join(conn, "room-1", "2s01", ""); err != nil {
				t.Errorf("Join failed: %v", err)
				return
			}
			registry.BroadcastToRoom("room-1", "ping")
			registry.SendToParticipant("2s01", "pong")
			registry.Leave(conn)
		}()
	}
	wg.Wait()

	stats := registry.Stats()
	if stats["connections"] != 0 {
		t.Errorf("expected 0 connections after churn, got %d", stats["connections"])
	}
}
