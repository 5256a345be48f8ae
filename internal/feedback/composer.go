package feedback

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"classrelay/pkg/interfaces"
	"classrelay/pkg/types"
)

// Static texts delivered when composition cannot run. Users never see raw
// errors; worst case is one of these.
const (
	FallbackFeedback = "Sorry, I couldn't put feedback together just now. Please keep the discussion going."
	FallbackDirect   = "Sorry, something went wrong while answering your question. Please ask again."
	NoFeedbackNeeded = "No feedback is needed right now."
)

const genericSystemPrompt = "This is a student discussion room with no special purpose set."

const positiveInstruction = `The students are discussing the assigned topic well.
Encourage them with positive feedback: name something concrete they are doing right
and motivate them to keep the conversation going. Keep it short and clear.`

const guidanceInstruction = `The students are drifting away from the assigned topic or need direction.
Guide them back to the topic. Be friendly and clear, and suggest a concrete question
or activity they can pick up. Write effective feedback of about 500 characters.`

const individualInstructionFmt = `One particular student (%s, ID: %s) needs personal feedback.
This student is either not participating enough or talking past the discussion.
Write personal feedback that respects the student while clearly helping them.
This message is delivered as a private aside visible only to that student.
Write it effectively in about 500 characters.`

const directInstructionFmt = `%s (ID: %s) asked you a question directly.
This chat room's topic/purpose is: '%s'

Answer guidelines:
1. Answer clearly.
2. Present one important piece of information per paragraph.
3. If there is a lot to say, split it into 2-3 key categories.
4. Use language suited to students; briefly explain any necessary technical terms.
5. Answer the core of the question in the first sentence, then add detail.
6. Keep sentences short; no more than one idea per sentence.

Response format:
- Limit the total length to about 500 characters.
- Do not use the ** symbol.`

const evaluationInstructionFmt = `You are an AI evaluation assistant who assesses student conversations
against a rubric written by the teacher.

Rubric:
%s

Analyze the conversation below and write evaluation feedback for the teacher.`

// Temperatures per instruction kind, matching how deterministic each
// output needs to be.
const (
	tempPositive   = 0.5
	tempGuidance   = 0.7
	tempIndividual = 0.7
	tempDirect     = 0.5
	tempEvaluation = 0.7
)

// directMaxTokens bounds direct answers.
const directMaxTokens = 600

// Composer turns an intervention decision into the feedback text that is
// actually delivered, and answers direct questions outside the batch
// cycle. Compose never propagates transport errors as missing text: the
// returned string is always deliverable, and the error tells the caller
// whether composition really ran.
type Composer struct {
	store interfaces.Store
	llm   interfaces.Completer
}

// New creates a composer over the given gateway and completion client.
func New(store interfaces.Store, llm interfaces.Completer) *Composer {
	return &Composer{store: store, llm: llm}
}

// Compose produces feedback for the decision. For NONE decisions it
// short-circuits to a static placeholder without calling the model.
func (c *Composer) Compose(ctx context.Context, roomID string, window []types.ChatMessage, d types.Decision) (string, error) {
	var instruction string
	var temperature float32

	switch d.Kind {
	case types.InterventionPositive:
		instruction = positiveInstruction
		temperature = tempPositive
	case types.InterventionGuidance:
		instruction = guidanceInstruction
		temperature = tempGuidance
	case types.InterventionIndividual:
		instruction = fmt.Sprintf(individualInstructionFmt, c.targetLabel(ctx, d.Target), d.Target)
		temperature = tempIndividual
	default:
		return NoFeedbackNeeded, nil
	}

	system := c.systemPrompt(ctx, roomID) + "\n\n" + instruction
	text, err := c.llm.Complete(ctx, system, "Recent conversation:\n"+types.Transcript(window), temperature)
	if err != nil {
		logrus.WithError(err).WithField("room_id", roomID).Warn("feedback composition failed, using fallback text")
		return FallbackFeedback, err
	}
	return text, nil
}

// DirectResponse answers a participant's explicit question to the
// assistant, independent of intervention classification.
func (c *Composer) DirectResponse(ctx context.Context, roomID string, window []types.ChatMessage, question, studentID string) (string, error) {
	label := c.targetLabel(ctx, studentID)
	system := fmt.Sprintf(directInstructionFmt, label, studentID, c.systemPrompt(ctx, roomID))
	user := fmt.Sprintf("Recent conversation:\n%s\n\n%s's question: %s",
		types.Transcript(window), label, question)

	text, err := c.llm.CompleteCapped(ctx, system, user, tempDirect, directMaxTokens)
	if err != nil {
		logrus.WithError(err).WithField("room_id", roomID).Warn("direct response failed, using fallback text")
		return FallbackDirect, err
	}
	return text, nil
}

// Evaluate produces a rubric-based assessment of a conversation for the
// teacher. Unlike feedback, evaluation failures surface to the caller.
func (c *Composer) Evaluate(ctx context.Context, rubric string, messages []types.ChatMessage) (string, error) {
	system := fmt.Sprintf(evaluationInstructionFmt, rubric)
	text, err := c.llm.Complete(ctx, system, "Conversation:\n"+types.Transcript(messages), tempEvaluation)
	if err != nil {
		return "", fmt.Errorf("evaluate conversation: %w", err)
	}
	return text, nil
}

// systemPrompt resolves the room's prompt, falling back to the generic one
// the same way the judge does.
func (c *Composer) systemPrompt(ctx context.Context, roomID string) string {
	system, err := c.store.SystemPrompt(ctx, roomID)
	if err != nil {
		if !errors.Is(err, interfaces.ErrNotFound) {
			logrus.WithError(err).WithField("room_id", roomID).Debug("system prompt lookup failed")
		}
		return genericSystemPrompt
	}
	return strings.TrimSpace(system)
}

// targetLabel resolves a display name for the target, degrading to a
// "student (id)" label when the lookup fails or echoes the id back.
func (c *Composer) targetLabel(ctx context.Context, studentID string) string {
	name, err := c.store.StudentName(ctx, studentID)
	if err != nil || name == "" || name == studentID {
		return fmt.Sprintf("student (%s)", studentID)
	}
	return name
}
