package feedback

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classrelay/pkg/interfaces"
	"classrelay/pkg/types"
)

type fakeStore struct {
	interfaces.Store
	systemPrompt string
	promptErr    error
	studentName  string
	nameErr      error
}

func (f *fakeStore) SystemPrompt(ctx context.Context, roomID string) (string, error) {
	return f.systemPrompt, f.promptErr
}

func (f *fakeStore) StudentName(ctx context.Context, studentID string) (string, error) {
	return f.studentName, f.nameErr
}

type fakeCompleter struct {
	response string
	err      error

	calls         int
	cappedCalls   int
	lastSystem    string
	lastUser      string
	lastTemp      float32
	lastMaxTokens int
}

func (f *fakeCompleter) Complete(ctx context.Context, system, user string, temperature float32) (string, error) {
	f.calls++
	f.lastSystem = system
	f.lastUser = user
	f.lastTemp = temperature
	return f.response, f.err
}

func (f *fakeCompleter) CompleteJSON(ctx context.Context, system, user string, temperature float32) (string, error) {
	return f.response, f.err
}

func (f *fakeCompleter) CompleteCapped(ctx context.Context, system, user string, temperature float32, maxTokens int) (string, error) {
	f.cappedCalls++
	f.lastSystem = system
	f.lastUser = user
	f.lastTemp = temperature
	f.lastMaxTokens = maxTokens
	return f.response, f.err
}

func sampleWindow() []types.ChatMessage {
	return []types.ChatMessage{
		{RoomID: "room-1", SenderID: "2s01", Text: "what about merge sort?", Role: types.RoleUser},
		{RoomID: "room-1", SenderID: "2s02", Text: "too slow", Role: types.RoleUser},
	}
}

func TestCompose_NoneShortCircuits(t *testing.T) {
	llm := &fakeCompleter{}
	c := New(&fakeStore{}, llm)

	text, err := c.Compose(context.Background(), "room-1", sampleWindow(), types.Decision{Kind: types.InterventionNone})

	require.NoError(t, err)
	assert.Equal(t, NoFeedbackNeeded, text)
	assert.Zero(t, llm.calls, "NONE decisions must not call the model")
}

func TestCompose_TemperaturePerKind(t *testing.T) {
	cases := []struct {
		kind string
		want float32
	}{
		{types.InterventionPositive, 0.5},
		{types.InterventionGuidance, 0.7},
		{types.InterventionIndividual, 0.7},
	}

	for _, tc := range cases {
		t.Run(tc.kind, func(t *testing.T) {
			llm := &fakeCompleter{response: "feedback text"}
			c := New(&fakeStore{systemPrompt: "Discuss sorting."}, llm)

			d := types.Decision{Kind: tc.kind, Target: "2s01"}
			text, err := c.Compose(context.Background(), "room-1", sampleWindow(), d)

			require.NoError(t, err)
			assert.Equal(t, "feedback text", text)
			assert.Equal(t, tc.want, llm.lastTemp)
			assert.Contains(t, llm.lastSystem, "Discuss sorting.")
		})
	}
}

func TestCompose_IndividualNamesTarget(t *testing.T) {
	llm := &fakeCompleter{response: "private note"}
	c := New(&fakeStore{studentName: "Kim"}, llm)

	d := types.Decision{Kind: types.InterventionIndividual, Target: "2s01"}
	_, err := c.Compose(context.Background(), "room-1", sampleWindow(), d)

	require.NoError(t, err)
	assert.Contains(t, llm.lastSystem, "Kim")
	assert.Contains(t, llm.lastSystem, "2s01")
}

func TestCompose_TransportErrorYieldsFallback(t *testing.T) {
	llm := &fakeCompleter{err: interfaces.ErrTransport}
	c := New(&fakeStore{}, llm)

	d := types.Decision{Kind: types.InterventionGuidance}
	text, err := c.Compose(context.Background(), "room-1", sampleWindow(), d)

	assert.Error(t, err)
	assert.Equal(t, FallbackFeedback, text, "fallback text must still be deliverable")
}

func TestDirectResponse(t *testing.T) {
	llm := &fakeCompleter{response: "here is the answer"}
	c := New(&fakeStore{systemPrompt: "Graph algorithms.", studentName: "Kim"}, llm)

	text, err := c.DirectResponse(context.Background(), "room-1", sampleWindow(), "what is a DAG?", "2s01")

	require.NoError(t, err)
	assert.Equal(t, "here is the answer", text)
	assert.Equal(t, 1, llm.cappedCalls)
	assert.Equal(t, 600, llm.lastMaxTokens)
	assert.Equal(t, float32(0.5), llm.lastTemp)
	assert.Contains(t, llm.lastSystem, "Graph algorithms.")
	assert.Contains(t, llm.lastUser, "what is a DAG?")
	assert.Contains(t, llm.lastUser, "Kim's question")
}

func TestDirectResponse_TransportErrorYieldsFallback(t *testing.T) {
	llm := &fakeCompleter{err: interfaces.ErrTransport}
	c := New(&fakeStore{}, llm)

	text, err := c.DirectResponse(context.Background(), "room-1", nil, "anyone there?", "2s01")

	assert.Error(t, err)
	assert.Equal(t, FallbackDirect, text)
}

func TestEvaluate(t *testing.T) {
	llm := &fakeCompleter{response: "solid participation overall"}
	c := New(&fakeStore{}, llm)

	summary, err := c.Evaluate(context.Background(), "rubric: depth of argument", sampleWindow())

	require.NoError(t, err)
	assert.Equal(t, "solid participation overall", summary)
	assert.Contains(t, llm.lastSystem, "rubric: depth of argument")
	assert.Equal(t, float32(0.7), llm.lastTemp)
}

func TestEvaluate_ErrorSurfaces(t *testing.T) {
	llm := &fakeCompleter{err: interfaces.ErrTransport}
	c := New(&fakeStore{}, llm)

	_, err := c.Evaluate(context.Background(), "rubric", nil)

	assert.ErrorIs(t, err, interfaces.ErrTransport)
}

func TestTargetLabel_FallsBackToID(t *testing.T) {
	c := New(&fakeStore{nameErr: interfaces.ErrNotFound}, &fakeCompleter{})

	label := c.targetLabel(context.Background(), "2s07")

	assert.Equal(t, "student (2s07)", label)
}
