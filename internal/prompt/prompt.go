// Package prompt assembles the ordered message list sent to the model:
// one system message with retrieved knowledge interpolated, the history
// window verbatim, then the current multimodal turn.
package prompt

import (
	"github.com/firebase/genkit/go/ai"

	"github.com/littletone/littletone/internal/history"
)

// DefaultImageInstruction is synthesized ahead of an image segment when the
// current turn carries no text, so the model always receives an explicit
// instruction.
const DefaultImageInstruction = "請分析這張截圖中的社交情境。"

// systemBase is the assistant persona and the output contract. The model
// must answer with a single JSON object; the field set is the schema the
// front end renders.
const systemBase = `你是「LittleTone 小語氣」，一位溫暖、懂台灣社交文化的溝通教練。
使用者會傳來困擾的對話內容或通訊軟體截圖，你要幫助他們讀懂對方的情緒與言外之意，並給出具體可用的回覆建議。

回覆規則：
1. 一律使用台灣慣用的繁體中文，口語自然，像朋友聊天。
2. 先同理使用者的感受，再分析情境，最後給出可以直接使用的句子。
3. 若截圖或訊息含有高風險訊號（威脅、自傷、以愛為名的控制），在 safety_alert 標記 true 並溫和提醒。

你必須只輸出一個 JSON 物件，包含以下欄位：
{
  "reply": "給使用者的主要回應（口語、具體）",
  "options": [{"title": "選項標題", "content": "可直接使用的句子"}],
  "key_change": "💡 核心洞察：一句話點出關鍵",
  "analysis": "對情境與對方情緒的分析",
  "tip": "一個實用的小提醒",
  "safety_alert": false,
  "suggested_scenarios": ["延伸情境一", "延伸情境二"]
}`

// contextHeader introduces retrieved knowledge inside the system prompt.
const contextHeader = "\n\n## 參考知識（依據使用者訊息檢索）\n\n請優先依據以下在地知識調整你的判讀與語氣建議：\n\n"

// System builds the system prompt, interpolating retrieved context text.
// Empty context yields the unmodified base instructions.
func System(contextText string) string {
	if contextText == "" {
		return systemBase
	}
	return systemBase + contextHeader + contextText
}

// Compose converts the history window plus the current turn's segments into
// the ordered Genkit message list: history verbatim oldest-first, current
// user turn last.
func Compose(window []history.Turn, current []history.Segment) []*ai.Message {
	msgs := make([]*ai.Message, 0, len(window)+1)

	for _, t := range window {
		parts := segmentsToParts(t.Segments)
		if len(parts) == 0 {
			continue
		}
		if t.Role == history.RoleAssistant {
			msgs = append(msgs, ai.NewModelMessage(parts...))
		} else {
			msgs = append(msgs, ai.NewUserMessage(parts...))
		}
	}

	msgs = append(msgs, ai.NewUserMessage(currentParts(current)...))
	return msgs
}

// currentParts renders the current turn, synthesizing the default
// instruction when an image arrives without any text.
func currentParts(segments []history.Segment) []*ai.Part {
	hasText := false
	hasImage := false
	for _, s := range segments {
		switch s.Type {
		case history.SegmentText:
			if s.Text != "" {
				hasText = true
			}
		case history.SegmentImage:
			hasImage = true
		}
	}

	var parts []*ai.Part
	if !hasText && hasImage {
		parts = append(parts, ai.NewTextPart(DefaultImageInstruction))
	}
	return append(parts, segmentsToParts(segments)...)
}

func segmentsToParts(segments []history.Segment) []*ai.Part {
	var parts []*ai.Part
	for _, s := range segments {
		switch s.Type {
		case history.SegmentText:
			if s.Text != "" {
				parts = append(parts, ai.NewTextPart(s.Text))
			}
		case history.SegmentImage:
			if s.Data == "" {
				continue
			}
			mime := s.MIMEType
			if mime == "" {
				mime = "image/jpeg"
			}
			parts = append(parts, ai.NewMediaPart(mime, "data:"+mime+";base64,"+s.Data))
		}
	}
	return parts
}
