package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"classrelay/internal/ingest"
	"classrelay/internal/session"
	"classrelay/pkg/interfaces"
	"classrelay/pkg/types"
)

const (
	readTimeout      = 60 * time.Second
	pingInterval     = 30 * time.Second
	handshakeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin checks are delegated to the deployment's proxy layer.
		return true
	},
	HandshakeTimeout: handshakeTimeout,
}

// Ingestor consumes chat messages from the transport.
type Ingestor interface {
	HandleMessage(ctx context.Context, in ingest.Inbound) error
}

// Handler owns the websocket endpoint: it upgrades connections and
// dispatches the room events clients send over them.
type Handler struct {
	registry *session.Registry
	store    interfaces.Store
	pipeline Ingestor
}

// NewHandler creates the websocket handler.
func NewHandler(registry *session.Registry, store interfaces.Store, pipeline Ingestor) *Handler {
	return &Handler{
		registry: registry,
		store:    store,
		pipeline: pipeline,
	}
}

type joinRoomData struct {
	RoomID   string `json:"room_id"`
	SenderID string `json:"sender_id"`
}

type getMessagesData struct {
	RoomID string `json:"room_id"`
}

// HandleWebSocket upgrades the request and runs the connection's event
// loop until it disconnects.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("websocket upgrade failed")
		return
	}

	conn := NewConnection(raw)
	go h.handleConnection(conn)
}

func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		h.handleLeave(conn)
		_ = conn.Close()
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeTimeout)); err != nil {
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithError(err).Debug("websocket read error")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		h.dispatch(conn, data)
	}
}

// dispatch decodes one client frame and routes it by event name. Unknown
// events are dropped, not errored; old clients must not kill the
// connection.
func (h *Handler) dispatch(conn *Connection, data []byte) {
	var evt struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &evt); err != nil {
		logrus.WithError(err).Debug("unparseable client frame")
		return
	}

	ctx := context.Background()
	switch evt.Event {
	case types.EventJoinRoom:
		h.handleJoin(ctx, conn, evt.Data)
	case types.EventSendMessage:
		h.handleSend(ctx, conn, evt.Data)
	case types.EventGetMessages:
		h.handleHistory(ctx, conn, evt.Data)
	default:
		logrus.WithField("event", evt.Event).Debug("unknown client event")
	}
}

func (h *Handler) handleJoin(ctx context.Context, conn *Connection, data json.RawMessage) {
	var req joinRoomData
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == "" || req.SenderID == "" {
		logrus.Debug("malformed join_room event")
		return
	}

	name := h.displayName(ctx, req.SenderID)
	if err := h.registry.Join(conn, req.RoomID, req.SenderID, name); err != nil {
		logrus.WithError(err).WithField("sender_id", req.SenderID).Warn("join rejected")
		return
	}

	// The joining connection gets the current roster; the room hears about
	// the newcomer.
	if err := conn.WriteJSON(types.Event{
		Event: types.EventCurrentUsers,
		Data:  map[string]interface{}{"participants": h.registry.ListParticipants(req.RoomID)},
	}); err != nil {
		logrus.WithError(err).Debug("failed to send participant list")
	}

	h.registry.BroadcastToRoom(req.RoomID, types.Event{
		Event: types.EventUserJoined,
		Data:  map[string]string{"sender_id": req.SenderID, "name": name},
	})

	logrus.WithFields(logrus.Fields{"room_id": req.RoomID, "sender_id": req.SenderID}).Info("participant joined")
}

func (h *Handler) handleLeave(conn *Connection) {
	member, ok := h.registry.Leave(conn)
	if !ok {
		return
	}
	h.registry.BroadcastToRoom(member.RoomID, types.Event{
		Event: types.EventUserLeft,
		Data:  map[string]string{"sender_id": member.ParticipantID},
	})
	logrus.WithFields(logrus.Fields{"room_id": member.RoomID, "sender_id": member.ParticipantID}).Info("participant left")
}

func (h *Handler) handleSend(ctx context.Context, conn *Connection, data json.RawMessage) {
	var in ingest.Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		logrus.WithError(err).Debug("malformed send_message event")
		return
	}
	if err := h.pipeline.HandleMessage(ctx, in); err != nil {
		logrus.WithError(err).WithField("room_id", in.RoomID).Warn("message rejected")
		h.sendError(conn, "Message could not be delivered")
	}
}

func (h *Handler) handleHistory(ctx context.Context, conn *Connection, data json.RawMessage) {
	var req getMessagesData
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == "" {
		return
	}

	member, ok := h.registry.Member(conn)
	if !ok {
		// History is scoped to a joined participant; without membership we
		// cannot apply whisper filtering.
		return
	}

	history, err := h.store.RoomHistoryFor(ctx, req.RoomID, member.ParticipantID)
	if err != nil {
		logrus.WithError(err).WithField("room_id", req.RoomID).Warn("history fetch failed")
		h.sendError(conn, "Unable to load message history")
		return
	}

	// Annotate display names; the assistant's reserved id never gets one.
	for i := range history {
		if history[i].SenderID == types.SenderAssistant {
			continue
		}
		history[i].Name = h.displayName(ctx, history[i].SenderID)
	}

	if err := conn.WriteJSON(types.Event{Event: types.EventMessageHistory, Data: history}); err != nil {
		logrus.WithError(err).Debug("failed to send history")
	}
}

func (h *Handler) sendError(conn *Connection, message string) {
	payload := types.Event{
		Event: "system",
		Data:  map[string]string{"message": message},
	}
	if err := conn.WriteJSON(payload); err != nil {
		logrus.WithError(err).Debug("failed to send error frame")
	}
}

func (h *Handler) displayName(ctx context.Context, senderID string) string {
	name, err := h.store.StudentName(ctx, senderID)
	if err != nil {
		if !errors.Is(err, interfaces.ErrNotFound) {
			logrus.WithError(err).WithField("sender_id", senderID).Debug("name lookup failed")
		}
		return ""
	}
	return name
}
