package ws

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"classrelay/internal/ingest"
	"classrelay/internal/session"
	"classrelay/pkg/interfaces"
	"classrelay/pkg/types"
)

type stubStore struct {
	interfaces.Store

	mu      sync.Mutex
	names   map[string]string
	history []types.ChatMessage
}

func (s *stubStore) StudentName(ctx context.Context, studentID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if name, ok := s.names[studentID]; ok {
		return name, nil
	}
	return "", fmt.Errorf("%w: student", interfaces.ErrNotFound)
}

func (s *stubStore) RoomHistoryFor(ctx context.Context, roomID, requesterID string) ([]types.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.ChatMessage(nil), s.history...), nil
}

type stubPipeline struct {
	mu       sync.Mutex
	inbounds []ingest.Inbound
	err      error
}

func (p *stubPipeline) HandleMessage(ctx context.Context, in ingest.Inbound) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inbounds = append(p.inbounds, in)
	return p.err
}

func (p *stubPipeline) received() []ingest.Inbound {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ingest.Inbound(nil), p.inbounds...)
}

func newHandlerFixture(t *testing.T, store *stubStore, pipeline *stubPipeline) *websocket.Conn {
	t.Helper()

	registry := session.NewRegistry()
	handler := NewHandler(registry, store, pipeline)

	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func readEvent(t *testing.T, client *websocket.Conn, want string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_ = client.SetReadDeadline(deadline)
		var evt struct {
			Event string                 `json:"event"`
			Data  map[string]interface{} `json:"data"`
		}
		if err := client.ReadJSON(&evt); err != nil {
			t.Fatalf("read failed waiting for %q: %v", want, err)
		}
		if evt.Event == want {
			return evt.Data
		}
	}
	t.Fatalf("event %q not received", want)
	return nil
}

func sendEvent(t *testing.T, client *websocket.Conn, event string, data interface{}) {
	t.Helper()
	if err := client.WriteJSON(map[string]interface{}{"event": event, "data": data}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func TestHandler_JoinRepliesWithRoster(t *testing.T) {
	store := &stubStore{names: map[string]string{"2s01": "Kim"}}
	client := newHandlerFixture(t, store, &stubPipeline{})

	sendEvent(t, client, types.EventJoinRoom, map[string]string{"room_id": "room-1", "sender_id": "2s01"})

	data := readEvent(t, client, types.EventCurrentUsers)
	participants, ok := data["participants"].([]interface{})
	if !ok || len(participants) != 1 {
		t.Fatalf("expected 1 participant, got %v", data["participants"])
	}

	joined := readEvent(t, client, types.EventUserJoined)
	if joined["sender_id"] != "2s01" || joined["name"] != "Kim" {
		t.Errorf("user_joined = %v", joined)
	}
}

func TestHandler_SendMessageReachesPipeline(t *testing.T) {
	pipeline := &stubPipeline{}
	client := newHandlerFixture(t, &stubStore{}, pipeline)

	sendEvent(t, client, types.EventSendMessage, map[string]string{
		"room_id":   "room-1",
		"sender_id": "2s01",
		"message":   "hello",
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := pipeline.received(); len(got) == 1 {
			if got[0].RoomID != "room-1" || got[0].Text != "hello" {
				t.Errorf("pipeline received %+v", got[0])
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("pipeline never received the message")
}

func TestHandler_DirectQuestionCarriesTarget(t *testing.T) {
	pipeline := &stubPipeline{}
	client := newHandlerFixture(t, &stubStore{}, pipeline)

	sendEvent(t, client, types.EventSendMessage, map[string]string{
		"room_id":   "room-1",
		"sender_id": "2s01",
		"message":   "what is a DAG?",
		"target":    types.SenderAssistant,
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := pipeline.received(); len(got) == 1 {
			if got[0].Target != types.SenderAssistant {
				t.Errorf("target = %q, want %q", got[0].Target, types.SenderAssistant)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("pipeline never received the message")
}

func TestHandler_HistoryRequiresMembership(t *testing.T) {
	store := &stubStore{
		names: map[string]string{"2s01": "Kim"},
		history: []types.ChatMessage{
			{RoomID: "room-1", SenderID: "2s01", Text: "earlier", Role: types.RoleUser},
		},
	}
	client := newHandlerFixture(t, store, &stubPipeline{})

	// Join first; an unjoined connection gets no history at all.
	sendEvent(t, client, types.EventJoinRoom, map[string]string{"room_id": "room-1", "sender_id": "2s01"})
	readEvent(t, client, types.EventCurrentUsers)

	sendEvent(t, client, types.EventGetMessages, map[string]string{"room_id": "room-1"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_ = client.SetReadDeadline(deadline)
		var raw map[string]interface{}
		if err := client.ReadJSON(&raw); err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if raw["event"] == types.EventMessageHistory {
			messages, ok := raw["data"].([]interface{})
			if !ok || len(messages) != 1 {
				t.Fatalf("expected 1 history message, got %v", raw["data"])
			}
			first := messages[0].(map[string]interface{})
			if first["name"] != "Kim" {
				t.Errorf("history should carry display names, got %v", first["name"])
			}
			return
		}
	}
	t.Fatal("message_history not received")
}

func TestHandler_UnknownEventIgnored(t *testing.T) {
	client := newHandlerFixture(t, &stubStore{}, &stubPipeline{})

	sendEvent(t, client, "time_travel", map[string]string{})
	// The connection must survive an unknown event.
	sendEvent(t, client, types.EventJoinRoom, map[string]string{"room_id": "room-1", "sender_id": "2s01"})
	readEvent(t, client, types.EventCurrentUsers)
}
