package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/sirupsen/logrus"

	"classrelay/pkg/interfaces"
	"classrelay/pkg/types"
)

// genericSystemPrompt substitutes for rooms whose topic chain cannot be
// resolved. Judgment proceeds rather than erroring.
const genericSystemPrompt = "This is a student discussion room with no special purpose set."

const judgmentInstructionFmt = `This chat room exists for the purpose described above.

You assist the teacher as a co-teacher. Decide whether to step in, using exactly one of these situations:

situation 1: the students are discussing the assigned topic well -> positive feedback (type "positive")
situation 2: the conversation has drifted off topic or needs direction -> redirecting feedback for the room (type "guidance")
situation 3: one particular student is disengaged or talking past the discussion -> private feedback for that student (type "individual")
situation 4: no intervention is warranted -> do nothing (type "none")

Student IDs currently active in this chat: %s

Respond with a JSON object of exactly this shape:
{
  "intervention_type": "positive" | "guidance" | "individual" | "none",
  "target_student": null or one student ID from the active list (only for "individual"),
  "reasoning": "a brief explanation of the judgment"
}

"target_student" must be an ID taken from the active list above, never a display name or a number.
A wrong ID would deliver a private message to the wrong student.
Do not include anything outside the JSON object.`

// downgradeNote is appended to the reasoning whenever an individual
// decision is demoted because its target could not be verified.
const downgradeNote = " (note: target student was not in the active participant list, changed to room-wide guidance)"

// Judge classifies a window of recent messages into an intervention
// decision. Judgment is best effort: every failure path collapses to a
// NONE decision and never reaches the caller as an error.
type Judge struct {
	store interfaces.Store
	llm   interfaces.Completer
}

// New creates a judge over the given gateway and completion client.
func New(store interfaces.Store, llm interfaces.Completer) *Judge {
	return &Judge{store: store, llm: llm}
}

// verdict is the raw wire shape returned by the model, parsed strictly at
// this boundary so nothing untyped travels further.
type verdict struct {
	InterventionType string  `json:"intervention_type"`
	TargetStudent    *string `json:"target_student"`
	Reasoning        string  `json:"reasoning"`
}

// Judge decides whether and how the assistant should intervene for the
// given window. The window is exactly what gets judged; nothing else is
// fetched.
func (j *Judge) Judge(ctx context.Context, roomID string, window []types.ChatMessage) types.Decision {
	none := types.Decision{Kind: types.InterventionNone}
	if len(window) == 0 {
		return none
	}

	log := logrus.WithField("room_id", roomID)

	system, err := j.store.SystemPrompt(ctx, roomID)
	if err != nil {
		log.WithError(err).Debug("system prompt unresolved, using generic prompt")
		system = genericSystemPrompt
	}

	participants := activeStudents(window)
	instruction := fmt.Sprintf(judgmentInstructionFmt, strings.Join(participants, ", "))
	prompt := strings.TrimSpace(system) + "\n\n" + instruction

	raw, err := j.llm.CompleteJSON(ctx, prompt, "Recent conversation:\n"+types.Transcript(window), 0)
	if err != nil {
		log.WithError(err).Warn("judgment call failed, skipping intervention")
		return none
	}

	v, err := parseVerdict(raw)
	if err != nil {
		log.WithError(err).Warn("judgment response unparseable, skipping intervention")
		return none
	}

	return j.normalize(v, window, participants, log)
}

// normalize converts a raw verdict into a safe decision: unknown kinds
// become NONE, and an individual decision keeps its target only when the
// target is verified against the judged window.
func (j *Judge) normalize(v *verdict, window []types.ChatMessage, participants []string, log *logrus.Entry) types.Decision {
	if !types.IsInterventionKind(v.InterventionType) {
		log.WithField("intervention_type", v.InterventionType).Warn("unknown intervention kind from model")
		return types.Decision{Kind: types.InterventionNone}
	}

	d := types.Decision{
		Kind:      v.InterventionType,
		Reasoning: v.Reasoning,
	}
	if d.Kind != types.InterventionIndividual {
		return d
	}

	raw := ""
	if v.TargetStudent != nil {
		raw = strings.TrimSpace(*v.TargetStudent)
	}
	target := resolveTarget(raw, window, participants)
	if target == "" {
		// Never deliver a private aside to an unverified identity.
		log.WithField("target_student", raw).Warn("individual target not in active participants, downgrading to guidance")
		d.Kind = types.InterventionGuidance
		d.Reasoning += downgradeNote
		return d
	}

	d.Target = target
	return d
}

// resolveTarget verifies the model's target against the judged window.
// Non-id targets get one best-effort pass matching display names observed
// in the window; anything unresolved means no valid target.
func resolveTarget(raw string, window []types.ChatMessage, participants []string) string {
	if raw == "" {
		return ""
	}
	if types.IsStudentID(raw) {
		for _, id := range participants {
			if id == raw {
				return raw
			}
		}
		return ""
	}
	// The model sometimes answers with a display name instead of an id.
	for _, msg := range window {
		if msg.Name != "" && strings.EqualFold(msg.Name, raw) && types.IsStudentID(msg.SenderID) {
			return msg.SenderID
		}
	}
	return ""
}

// parseVerdict decodes the model output, repairing near-JSON before
// giving up.
func parseVerdict(raw string) (*verdict, error) {
	var v verdict
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return &v, nil
	}
	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: judge response is not JSON", interfaces.ErrValidation)
	}
	if err := json.Unmarshal([]byte(repaired), &v); err != nil {
		return nil, fmt.Errorf("%w: judge response is not JSON after repair", interfaces.ErrValidation)
	}
	return &v, nil
}

// activeStudents collects the distinct student ids observed as senders in
// the window, sorted for stable prompts. The assistant and anything not
// matching the student-id convention are excluded.
func activeStudents(window []types.ChatMessage) []string {
	seen := make(map[string]struct{})
	for _, msg := range window {
		if msg.SenderID == types.SenderAssistant || !types.IsStudentID(msg.SenderID) {
			continue
		}
		seen[msg.SenderID] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
