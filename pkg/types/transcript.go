package types

import "strings"

// Transcript renders a message window the way it is fed to the language
// model: one line per message, display name when known, sender id
// otherwise.
func Transcript(messages []ChatMessage) string {
	var b strings.Builder
	for i, msg := range messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		speaker := msg.Name
		if speaker == "" {
			speaker = msg.SenderID
		}
		b.WriteString(speaker)
		b.WriteString(": ")
		b.WriteString(msg.Text)
	}
	return b.String()
}
