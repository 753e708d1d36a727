package knowledge

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/littletone/littletone/internal/log"
)

const testDictionary = `[
  {
    "term": "穩聊",
    "definition": "指雙方聊天節奏穩定、有來有往，關係處於安全升溫狀態。",
    "tone_advice": "維持現在的頻率即可，不要突然變得太熱情。",
    "suggestions": ["那我們就照這個步調聊下去吧～"],
    "local_context": "台灣交友軟體圈常用語"
  },
  {
    "term": "已讀",
    "definition": "訊息已被對方讀取但尚未回覆。",
    "tone_advice": "",
    "suggestions": [],
    "local_context": "LINE 文化：已讀不回常被過度解讀"
  }
]`

const testScenarios = `[
  {
    "category": "長輩關心式壓力",
    "contextual_analysis": {
      "keywords": ["為了你好", "我吃過的鹽"],
      "cultural_clue": "長輩用關心包裝控制，直接反駁會被視為不孝。",
      "correct_emotion": "壓抑的不耐與愧疚",
      "risk_level": "中"
    },
    "ai_action_guideline": "先肯定對方的用心，再溫和表達自己的界線。",
    "localization_note": "台灣家庭溝通常以迂迴方式表達需求。"
  },
  {
    "category": "曖昧邀約",
    "contextual_analysis": {
      "keywords": ["老地方", "11 點"],
      "cultural_clue": "「老地方」暗示共同回憶，是拉近距離的訊號。",
      "correct_emotion": "期待",
      "risk_level": "低"
    },
    "ai_action_guideline": "鼓勵赴約並準備輕鬆的開場話題。",
    "localization_note": "台灣人習慣用模糊時間地點測試對方意願。"
  }
]`

func writeKnowledgeFiles(t *testing.T, dict, scenarios string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dictPath := filepath.Join(dir, "dictionary.json")
	scenarioPath := filepath.Join(dir, "scenarios.json")
	if err := os.WriteFile(dictPath, []byte(dict), 0o600); err != nil {
		t.Fatalf("writing dictionary: %v", err)
	}
	if err := os.WriteFile(scenarioPath, []byte(scenarios), 0o600); err != nil {
		t.Fatalf("writing scenarios: %v", err)
	}
	return dictPath, scenarioPath
}

func newTestRetriever(t *testing.T) *Retriever {
	t.Helper()
	dictPath, scenarioPath := writeKnowledgeFiles(t, testDictionary, testScenarios)
	return NewRetriever(dictPath, scenarioPath, log.NewNop())
}

func TestRetrieve_TermMatch(t *testing.T) {
	r := newTestRetriever(t)

	got := r.Retrieve("我們最近算是穩聊嗎？")
	if got == "" {
		t.Fatal("Retrieve() = empty, want a knowledge block")
	}
	if want := "指雙方聊天節奏穩定"; !strings.Contains(got, want) {
		t.Errorf("Retrieve() missing definition %q in:\n%s", want, got)
	}
	if want := "【台灣在地術語：穩聊】"; !strings.Contains(got, want) {
		t.Errorf("Retrieve() missing header %q in:\n%s", want, got)
	}
}

func TestRetrieve_ScenarioKeywordMatch(t *testing.T) {
	r := newTestRetriever(t)

	got := r.Retrieve("他說我們 11 點老地方見")
	if !strings.Contains(got, "【情緒場景分析：曖昧邀約】") {
		t.Errorf("Retrieve() missing scenario block, got:\n%s", got)
	}
	if !strings.Contains(got, "(社交風險：低)") {
		t.Errorf("Retrieve() missing risk level, got:\n%s", got)
	}
}

func TestRetrieve_DictionaryBlocksPrecedeScenarios(t *testing.T) {
	r := newTestRetriever(t)

	got := r.Retrieve("他已讀我，然後說老地方見")
	dictIdx := strings.Index(got, "【台灣在地術語：已讀】")
	scenIdx := strings.Index(got, "【情緒場景分析：曖昧邀約】")
	if dictIdx < 0 || scenIdx < 0 {
		t.Fatalf("Retrieve() missing expected blocks:\n%s", got)
	}
	if dictIdx > scenIdx {
		t.Errorf("dictionary block at %d should precede scenario block at %d", dictIdx, scenIdx)
	}
	if !strings.Contains(got, "\n\n---\n\n") {
		t.Errorf("Retrieve() missing block separator in:\n%s", got)
	}
}

func TestRetrieve_EmptyFieldDefaults(t *testing.T) {
	r := newTestRetriever(t)

	// 已讀 has empty tone_advice and no suggestions; local_context is the
	// suggestion fallback.
	got := r.Retrieve("已讀")
	if !strings.Contains(got, "- 語氣建議：無") {
		t.Errorf("Retrieve() should default empty tone advice to 無, got:\n%s", got)
	}
	if !strings.Contains(got, "- 推薦用法：LINE 文化") {
		t.Errorf("Retrieve() should fall back to local_context, got:\n%s", got)
	}
}

func TestRetrieve_NoMatch(t *testing.T) {
	r := newTestRetriever(t)

	if got := r.Retrieve("completely unrelated text"); got != "" {
		t.Errorf("Retrieve() = %q, want empty string", got)
	}
}

func TestRetrieve_EmptyAndSentinelQueries(t *testing.T) {
	r := newTestRetriever(t)

	tests := []struct {
		name  string
		query string
	}{
		{"empty", ""},
		{"sentinel", "(指令：請將以下訊息轉為溫和語氣) 穩聊"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Retrieve(tt.query); got != "" {
				t.Errorf("Retrieve(%q) = %q, want empty string", tt.query, got)
			}
		})
	}
}

func TestRetrieve_Deterministic(t *testing.T) {
	r := newTestRetriever(t)

	query := "他已讀我之後說為了你好"
	first := r.Retrieve(query)
	second := r.Retrieve(query)
	if first == "" {
		t.Fatal("Retrieve() = empty, want matches")
	}
	if first != second {
		t.Errorf("Retrieve() not deterministic:\nfirst:  %q\nsecond: %q", first, second)
	}
}

func TestRetrieve_ReloadsChangedFile(t *testing.T) {
	dictPath, scenarioPath := writeKnowledgeFiles(t, testDictionary, testScenarios)
	r := NewRetriever(dictPath, scenarioPath, log.NewNop())

	if got := r.Retrieve("穩聊"); got == "" {
		t.Fatal("Retrieve() = empty before reload, want match")
	}

	updated := `[{"term": "穩聊", "definition": "新的定義。", "tone_advice": "", "suggestions": []}]`
	if err := os.WriteFile(dictPath, []byte(updated), 0o600); err != nil {
		t.Fatalf("rewriting dictionary: %v", err)
	}
	// Force a visibly newer mtime; some filesystems have coarse resolution.
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(dictPath, future, future); err != nil {
		t.Fatalf("bumping mtime: %v", err)
	}

	got := r.Retrieve("穩聊")
	if !strings.Contains(got, "新的定義。") {
		t.Errorf("Retrieve() did not pick up rewritten file, got:\n%s", got)
	}
}

func TestRetrieve_MissingFiles(t *testing.T) {
	r := NewRetriever("no/such/dict.json", "no/such/scenarios.json", log.NewNop())

	if got := r.Retrieve("穩聊"); got != "" {
		t.Errorf("Retrieve() with missing files = %q, want empty string", got)
	}
}

