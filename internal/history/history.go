// Package history maintains per-session conversation turns behind a store
// abstraction, so the pipeline depends on a capability rather than a
// process-global map. Drivers: in-memory (single process) and Redis
// (horizontal scaling, TTL-based expiry).
package history

import (
	"strings"
	"time"
)

// Role attributes a turn to one side of the conversation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// SegmentType discriminates the content kinds of a multimodal turn.
type SegmentType string

const (
	SegmentText  SegmentType = "text"
	SegmentImage SegmentType = "image"
)

// Segment is one piece of a turn's content: either text or a base64-encoded
// image with a MIME hint.
type Segment struct {
	Type     SegmentType `json:"type"`
	Text     string      `json:"text,omitempty"`
	Data     string      `json:"data,omitempty"` // base64-encoded image bytes
	MIMEType string      `json:"mime_type,omitempty"`
}

// Turn is one message in a conversation. Invariant: at least one segment.
type Turn struct {
	Role     Role      `json:"role"`
	Segments []Segment `json:"segments"`
	At       time.Time `json:"at"`
}

// TextTurn builds a single-segment text turn.
func TextTurn(role Role, text string) Turn {
	return Turn{
		Role:     role,
		Segments: []Segment{{Type: SegmentText, Text: text}},
		At:       time.Now(),
	}
}

// Text concatenates the turn's text segments. Image segments contribute
// nothing.
func (t Turn) Text() string {
	var sb strings.Builder
	for _, s := range t.Segments {
		if s.Type == SegmentText {
			sb.WriteString(s.Text)
		}
	}
	return sb.String()
}

// HasText reports whether any text segment is non-empty.
func (t Turn) HasText() bool {
	for _, s := range t.Segments {
		if s.Type == SegmentText && s.Text != "" {
			return true
		}
	}
	return false
}

// Window returns the most recent k turns in original chronological order.
// It never reorders; it only drops the oldest turns beyond the cutoff.
func Window(turns []Turn, k int) []Turn {
	if k <= 0 || len(turns) == 0 {
		return nil
	}
	if len(turns) <= k {
		return turns
	}
	return turns[len(turns)-k:]
}
