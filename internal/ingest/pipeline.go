package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"classrelay/pkg/interfaces"
	"classrelay/pkg/types"
)

// DefaultThreshold is the buffer size that triggers a judgment cycle.
const DefaultThreshold = 6

// directHistoryLimit caps how much room history feeds a direct answer.
const directHistoryLimit = 10

// Judge decides whether the assistant should intervene for a window.
type Judge interface {
	Judge(ctx context.Context, roomID string, window []types.ChatMessage) types.Decision
}

// Composer produces feedback and direct answers. The returned text is
// always deliverable; a non-nil error marks it as fallback text, which
// suppresses the intervention audit entry.
type Composer interface {
	Compose(ctx context.Context, roomID string, window []types.ChatMessage, d types.Decision) (string, error)
	DirectResponse(ctx context.Context, roomID string, window []types.ChatMessage, question, studentID string) (string, error)
}

// Inbound is one incoming chat message from the transport.
type Inbound struct {
	RoomID   string `json:"room_id"`
	SenderID string `json:"sender_id"`
	Text     string `json:"message"`

	// Target set to the assistant's reserved id marks the message as a
	// direct question, which bypasses the batch cycle.
	Target string `json:"target,omitempty"`
}

// Pipeline receives every chat message, persists and relays it, and runs
// the judge/compose cycle whenever a room's buffer fills up.
//
// Buffer policy: the buffer is snapshotted and cleared under the lock the
// moment the threshold is reached, and judging runs on the snapshot with
// no lock held. Messages arriving mid-judgment start the next buffer
// (snapshot-and-continue-appending); no message is judged twice.
type Pipeline struct {
	store    interfaces.Store
	judge    Judge
	composer Composer
	deliver  interfaces.Deliverer

	threshold int

	mu      sync.Mutex
	buffers map[string][]types.ChatMessage
}

// NewPipeline wires the ingest loop. A threshold below one falls back to
// DefaultThreshold.
func NewPipeline(store interfaces.Store, judge Judge, composer Composer, deliver interfaces.Deliverer, threshold int) *Pipeline {
	if threshold < 1 {
		threshold = DefaultThreshold
	}
	return &Pipeline{
		store:     store,
		judge:     judge,
		composer:  composer,
		deliver:   deliver,
		threshold: threshold,
		buffers:   make(map[string][]types.ChatMessage),
	}
}

// HandleMessage runs one full ingest turn: persist, relay, then either
// answer a direct question or accumulate toward the next judgment cycle.
// Intervention failures never surface here; the only errors returned are
// for messages that cannot enter the system at all.
func (p *Pipeline) HandleMessage(ctx context.Context, in Inbound) error {
	msg := types.ChatMessage{
		RoomID:    in.RoomID,
		SenderID:  in.SenderID,
		Text:      in.Text,
		Role:      types.RoleUser,
		Timestamp: time.Now().UTC(),
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	log := logrus.WithFields(logrus.Fields{"room_id": in.RoomID, "sender_id": in.SenderID})

	msg.Name = p.senderName(ctx, in.SenderID)
	isDirect := in.Target == types.SenderAssistant

	// Persist first so the room history is authoritative; relay proceeds
	// even when the save fails so the room keeps moving.
	if saved, err := p.store.SaveMessage(ctx, &msg); err != nil {
		log.WithError(err).Error("failed to persist chat message")
	} else {
		msg = *saved
	}

	p.deliver.BroadcastToRoom(in.RoomID, types.Event{
		Event: types.EventReceiveMessage,
		Data: types.MessagePayload{
			SenderID:      msg.SenderID,
			Name:          msg.Name,
			Message:       msg.Text,
			Role:          types.RoleUser,
			Timestamp:     msg.Timestamp,
			IsGPTQuestion: isDirect,
		},
	})

	// Direct questions bypass the buffer entirely and do not count toward
	// the threshold.
	if isDirect {
		p.answerDirect(ctx, in, log)
		return nil
	}

	window, ready := p.append(in.RoomID, msg)
	if ready {
		p.runCycle(ctx, in.RoomID, window, log)
	}
	return nil
}

// append adds the message to the room buffer. When the threshold is hit
// it atomically hands the window back and resets the buffer.
func (p *Pipeline) append(roomID string, msg types.ChatMessage) ([]types.ChatMessage, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buffers[roomID] = append(p.buffers[roomID], msg)
	if len(p.buffers[roomID]) < p.threshold {
		return nil, false
	}

	window := p.buffers[roomID]
	p.buffers[roomID] = nil
	return window, true
}

// BufferLen reports the current buffer length for a room.
func (p *Pipeline) BufferLen(roomID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffers[roomID])
}

// runCycle executes one judgment cycle over a snapshotted window:
// judge -> compose -> persist -> audit log -> deliver, in that order.
func (p *Pipeline) runCycle(ctx context.Context, roomID string, window []types.ChatMessage, log *logrus.Entry) {
	d := p.judge.Judge(ctx, roomID, window)
	if d.Kind == types.InterventionNone {
		log.Debug("judgment: no intervention")
		return
	}

	text, composeErr := p.composer.Compose(ctx, roomID, window, d)

	assistant := types.ChatMessage{
		RoomID:    roomID,
		SenderID:  types.SenderAssistant,
		Text:      text,
		Role:      types.RoleAssistant,
		Timestamp: time.Now().UTC(),
		Reasoning: d.Reasoning,
	}
	if d.Kind == types.InterventionIndividual {
		assistant.WhisperTo = d.Target
	}

	saved, saveErr := p.store.SaveMessage(ctx, &assistant)
	if saveErr != nil {
		// Loud on purpose: without a message id the audit entry cannot be
		// written, and that gap must be visible to operators.
		log.WithError(saveErr).WithField("intervention_type", d.Kind).
			Error("assistant message not persisted; intervention log will be skipped")
	} else {
		assistant = *saved
	}

	// The audit entry references a confirmed message id and records a real
	// composition, never fallback text.
	if saveErr == nil && composeErr == nil {
		rec := &types.InterventionRecord{
			RoomID:        roomID,
			MessageID:     assistant.ID,
			Kind:          d.Kind,
			TargetStudent: d.Target,
			Reasoning:     d.Reasoning,
			Timestamp:     assistant.Timestamp,
		}
		if err := p.store.LogIntervention(ctx, rec); err != nil {
			log.WithError(err).Error("failed to write intervention log entry")
		}
	}

	p.deliverDecision(roomID, assistant, d, log)
}

// deliverDecision routes the composed feedback: individual decisions go to
// every live connection of the target, everything else to the whole room.
// An offline target keeps the persisted message but delivery is a no-op.
func (p *Pipeline) deliverDecision(roomID string, assistant types.ChatMessage, d types.Decision, log *logrus.Entry) {
	if d.Kind == types.InterventionIndividual {
		payload := types.Event{
			Event: types.EventReceiveMessage,
			Data: types.MessagePayload{
				SenderID:  types.SenderAssistant,
				Message:   assistant.Text,
				Role:      types.RoleAssistant,
				Timestamp: assistant.Timestamp,
				Target:    d.Target,
				Whisper:   true,
				WhisperTo: d.Target,
				Reasoning: d.Reasoning,
			},
		}
		if sent := p.deliver.SendToParticipant(d.Target, payload); sent == 0 {
			log.WithField("target_student", d.Target).
				Warn("whisper target has no live connection; message stored only")
		} else {
			log.WithFields(logrus.Fields{"target_student": d.Target, "connections": sent}).
				Info("private feedback delivered")
		}
		return
	}

	p.deliver.BroadcastToRoom(roomID, types.Event{
		Event: types.EventReceiveMessage,
		Data: types.MessagePayload{
			SenderID:     types.SenderAssistant,
			Message:      assistant.Text,
			Role:         types.RoleAssistant,
			Timestamp:    assistant.Timestamp,
			FeedbackType: d.Kind,
			Reasoning:    d.Reasoning,
		},
	})
	log.WithField("intervention_type", d.Kind).Info("room feedback delivered")
}

// answerDirect handles an explicit question to the assistant using the
// tail of the room history instead of the judgment buffer.
func (p *Pipeline) answerDirect(ctx context.Context, in Inbound, log *logrus.Entry) {
	history, err := p.store.RoomHistory(ctx, in.RoomID)
	if err != nil {
		log.WithError(err).Warn("history fetch for direct question failed")
	}
	if len(history) > directHistoryLimit {
		history = history[len(history)-directHistoryLimit:]
	}

	text, composeErr := p.composer.DirectResponse(ctx, in.RoomID, history, in.Text, in.SenderID)
	if composeErr != nil {
		log.WithError(composeErr).Warn("direct response fell back to static text")
	}

	answer := types.ChatMessage{
		RoomID:    in.RoomID,
		SenderID:  types.SenderAssistant,
		Text:      text,
		Role:      types.RoleAssistant,
		Timestamp: time.Now().UTC(),
	}
	if saved, err := p.store.SaveMessage(ctx, &answer); err != nil {
		log.WithError(err).Error("failed to persist direct answer")
	} else {
		answer = *saved
	}

	p.deliver.BroadcastToRoom(in.RoomID, types.Event{
		Event: types.EventReceiveMessage,
		Data: types.MessagePayload{
			SenderID:  types.SenderAssistant,
			Message:   answer.Text,
			Role:      types.RoleAssistant,
			Timestamp: answer.Timestamp,
		},
	})
}

// senderName resolves the sender's display name, leaving it empty when the
// lookup fails. The assistant's reserved id never resolves.
func (p *Pipeline) senderName(ctx context.Context, senderID string) string {
	if senderID == types.SenderAssistant {
		return ""
	}
	name, err := p.store.StudentName(ctx, senderID)
	if err != nil {
		if !errors.Is(err, interfaces.ErrNotFound) {
			logrus.WithError(err).WithField("sender_id", senderID).Debug("name lookup failed")
		}
		return ""
	}
	return name
}
