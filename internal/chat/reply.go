package chat

import (
	"encoding/json"
	"errors"
	"strings"
)

// Option is one suggested reply the user can send as-is.
type Option struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Reply is the structured response contract between this backend and the
// front end. reply, key_change, analysis and tip are always present;
// the remaining fields are omitted when the model leaves them out.
type Reply struct {
	Reply              string   `json:"reply"`
	Options            []Option `json:"options,omitempty"`
	KeyChange          string   `json:"key_change"`
	Analysis           string   `json:"analysis"`
	Tip                string   `json:"tip"`
	SafetyAlert        *bool    `json:"safety_alert,omitempty"`
	SuggestedScenarios []string `json:"suggested_scenarios,omitempty"`
}

// ErrEmptyReply indicates the model output parsed but carried no reply text.
var ErrEmptyReply = errors.New("model reply is empty")

// FallbackReply returns the fixed, schema-valid apology object substituted
// whenever the model call or parsing fails. The literal values are part of
// the external contract: the front end renders them directly.
func FallbackReply() Reply {
	return Reply{
		Reply: "不好意思，我剛才稍微分神了，能請您再說一次剛才發生的狀況嗎？🌱",
		Options: []Option{
			{Title: "重新描述", Content: "（請重新輸入您想處理的訊息）"},
		},
		KeyChange: "💡 核心洞察：目前連線稍微有點不穩定",
		Analysis:  "系統暫時無法處理您的訊息。",
		Tip:       "再麻煩您重新發送一次試試看！",
	}
}

// Normalize parses raw model output into a Reply. It strips enclosing code
// fences, rejects output with an empty reply field, and backfills missing
// required fields so the result always satisfies the schema.
func Normalize(raw string) (Reply, error) {
	text := stripCodeFences(strings.TrimSpace(raw))
	if text == "" {
		return Reply{}, ErrEmptyReply
	}

	var reply Reply
	if err := json.Unmarshal([]byte(text), &reply); err != nil {
		return Reply{}, err
	}
	if strings.TrimSpace(reply.Reply) == "" {
		return Reply{}, ErrEmptyReply
	}

	fallback := FallbackReply()
	if reply.KeyChange == "" {
		reply.KeyChange = fallback.KeyChange
	}
	if reply.Analysis == "" {
		reply.Analysis = fallback.Analysis
	}
	if reply.Tip == "" {
		reply.Tip = fallback.Tip
	}
	return reply, nil
}

// stripCodeFences removes markdown code fences the model may wrap around
// its JSON payload.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		// Remove opening fence (with optional language tag).
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		// Remove closing fence.
		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	return s
}

// truncate shortens s to at most n bytes for logging.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
