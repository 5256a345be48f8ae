package types

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestIsStudentID(t *testing.T) {
	cases := []struct {
		id   string
		want bool
	}{
		{"2s01", true},
		{"2s1", true},
		{"10s23", true},
		{"gpt", false},
		{"", false},
		{"2s", false},
		{"s01", false},
		{"2S01", false},
		{"2s01x", false},
		{"teacher1", false},
	}
	for _, tc := range cases {
		if got := IsStudentID(tc.id); got != tc.want {
			t.Errorf("IsStudentID(%q) = %v, want %v", tc.id, got, tc.want)
		}
	}
}

func TestChatMessage_Validate(t *testing.T) {
	valid := ChatMessage{
		RoomID:    "room-1",
		SenderID:  "2s01",
		Text:      "hello",
		Role:      RoleUser,
		Timestamp: time.Now(),
	}

	cases := []struct {
		name   string
		mutate func(*ChatMessage)
		want   error
	}{
		{"valid", func(m *ChatMessage) {}, nil},
		{"valid assistant", func(m *ChatMessage) { m.SenderID = SenderAssistant; m.Role = RoleAssistant }, nil},
		{"missing room", func(m *ChatMessage) { m.RoomID = "" }, ErrInvalidRoomID},
		{"missing sender", func(m *ChatMessage) { m.SenderID = "" }, ErrInvalidSenderID},
		{"empty text", func(m *ChatMessage) { m.Text = "" }, ErrEmptyMessage},
		{"oversized text", func(m *ChatMessage) { m.Text = strings.Repeat("a", 65537) }, ErrMessageTooLarge},
		{"bad role", func(m *ChatMessage) { m.Role = "system" }, ErrInvalidRole},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg := valid
			tc.mutate(&msg)
			if err := msg.Validate(); !errors.Is(err, tc.want) {
				t.Errorf("Validate() = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestDecision_Validate(t *testing.T) {
	cases := []struct {
		name string
		d    Decision
		want error
	}{
		{"none", Decision{Kind: InterventionNone}, nil},
		{"positive", Decision{Kind: InterventionPositive}, nil},
		{"individual with target", Decision{Kind: InterventionIndividual, Target: "2s01"}, nil},
		{"individual without target", Decision{Kind: InterventionIndividual}, ErrIndividualTarget},
		{"unknown kind", Decision{Kind: "sarcasm"}, ErrInvalidKind},
		{"empty kind", Decision{}, ErrInvalidKind},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.d.Validate(); !errors.Is(err, tc.want) {
				t.Errorf("Validate() = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestTranscript(t *testing.T) {
	messages := []ChatMessage{
		{SenderID: "2s01", Name: "Kim", Text: "I think recursion fits here"},
		{SenderID: "2s02", Text: "why not a loop?"},
		{SenderID: SenderAssistant, Text: "Both work; compare their costs."},
	}

	got := Transcript(messages)
	want := "Kim: I think recursion fits here\n2s02: why not a loop?\ngpt: Both work; compare their costs."
	if got != want {
		t.Errorf("Transcript() = %q, want %q", got, want)
	}

	if Transcript(nil) != "" {
		t.Error("Transcript(nil) should be empty")
	}
}
