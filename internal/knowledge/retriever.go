// Package knowledge implements keyword-based retrieval over the static
// knowledge bases: a localization term dictionary and an emotion-scenario
// list. Matching is exact substring matching; there is no ranking,
// deduplication, or tokenization. Identical query and identical file
// contents always produce byte-identical output.
package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/littletone/littletone/internal/log"
)

// InstructionSentinel marks internally synthesized instruction text (for
// example tone-rewrite requests built by the front end). Queries containing
// it are not genuine user text and skip retrieval entirely.
const InstructionSentinel = "(指令："

// blockSeparator joins emitted knowledge blocks so the model can tell
// individual knowledge points apart.
const blockSeparator = "\n\n---\n\n"

// Retriever matches user text against the knowledge-base files and builds
// the context text injected into the system prompt.
//
// Files are cached in memory and reloaded when their mtime or size changes,
// so edits to the knowledge bases are reflected without a restart.
type Retriever struct {
	dictPath     string
	scenarioPath string
	logger       log.Logger

	mu        sync.Mutex
	dict      cachedFile[Entry]
	scenarios cachedFile[Scenario]
}

type cachedFile[T any] struct {
	entries []T
	modTime time.Time
	size    int64
}

// NewRetriever creates a retriever over the given knowledge-base files.
func NewRetriever(dictPath, scenarioPath string, logger log.Logger) *Retriever {
	return &Retriever{
		dictPath:     dictPath,
		scenarioPath: scenarioPath,
		logger:       logger,
	}
}

// Retrieve returns the formatted context text for a query, or "" when the
// query is empty, synthesized, or matches nothing.
//
// Output order is fixed: dictionary matches first in source-file order, then
// scenario matches in source-file order.
func (r *Retriever) Retrieve(query string) string {
	if query == "" || strings.Contains(query, InstructionSentinel) {
		return ""
	}

	dict, scenarios := r.load()

	var blocks []string

	for _, e := range dict {
		if e.Term == "" || !strings.Contains(query, e.Term) {
			continue
		}
		blocks = append(blocks, formatEntry(e))
	}

	for _, s := range scenarios {
		if !matchesAnyKeyword(query, s.ContextualAnalysis.Keywords) {
			continue
		}
		blocks = append(blocks, formatScenario(s))
	}

	if len(blocks) == 0 {
		return ""
	}
	return strings.Join(blocks, blockSeparator)
}

// matchesAnyKeyword reports whether any keyword occurs as a substring in query.
func matchesAnyKeyword(query string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(query, kw) {
			return true
		}
	}
	return false
}

// formatEntry renders one dictionary knowledge block. Only the first
// suggestion is emitted; local_context is the fallback when the entry has no
// suggestions.
func formatEntry(e Entry) string {
	advice := e.ToneAdvice
	if advice == "" {
		advice = "無"
	}

	suggestion := "無"
	switch {
	case len(e.Suggestions) > 0:
		suggestion = e.Suggestions[0]
	case e.LocalContext != "":
		suggestion = e.LocalContext
	}

	return fmt.Sprintf("【台灣在地術語：%s】\n- 定義：%s\n- 語氣建議：%s\n- 推薦用法：%s",
		e.Term, e.Definition, advice, suggestion)
}

// formatScenario renders one emotion-scenario knowledge block.
func formatScenario(s Scenario) string {
	category := defaultIfEmpty(s.Category, "未分類")
	clue := defaultIfEmpty(s.ContextualAnalysis.CulturalClue, "無")
	emotion := defaultIfEmpty(s.ContextualAnalysis.CorrectEmotion, "待判讀")
	risk := defaultIfEmpty(s.ContextualAnalysis.RiskLevel, "未知")
	action := defaultIfEmpty(s.ActionGuideline, "依一般程序處理")
	note := defaultIfEmpty(s.LocalizationNote, "無")

	return fmt.Sprintf("【情緒場景分析：%s】\n- 文化脈絡：%s\n- 真實情緒判讀：%s (社交風險：%s)\n- AI 應對方針：%s\n- 台灣文化備註：%s",
		category, clue, emotion, risk, action, note)
}

func defaultIfEmpty(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// load returns the current knowledge-base contents, reloading any file whose
// mtime or size changed since the last call. Missing or malformed files load
// as empty lists so retrieval degrades to no matches instead of failing the
// request.
func (r *Retriever) load() ([]Entry, []Scenario) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reloadFile(r.dictPath, &r.dict, r.logger)
	reloadFile(r.scenarioPath, &r.scenarios, r.logger)

	return r.dict.entries, r.scenarios.entries
}

func reloadFile[T any](path string, cache *cachedFile[T], logger log.Logger) {
	info, err := os.Stat(path)
	if err != nil {
		if cache.entries != nil {
			logger.Warn("knowledge base unreadable, keeping cached contents", "path", path, "error", err)
			return
		}
		logger.Warn("knowledge base not found", "path", path, "error", err)
		cache.entries = []T{}
		return
	}

	if cache.entries != nil && info.ModTime().Equal(cache.modTime) && info.Size() == cache.size {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("reading knowledge base", "path", path, "error", err)
		if cache.entries == nil {
			cache.entries = []T{}
		}
		return
	}

	var entries []T
	if err := json.Unmarshal(data, &entries); err != nil {
		logger.Warn("parsing knowledge base", "path", path, "error", err)
		if cache.entries == nil {
			cache.entries = []T{}
		}
		return
	}

	cache.entries = entries
	cache.modTime = info.ModTime()
	cache.size = info.Size()
	logger.Debug("knowledge base loaded", "path", path, "entries", len(entries))
}
