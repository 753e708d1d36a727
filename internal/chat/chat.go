// Package chat orchestrates the request-augmentation and
// response-normalization pipeline: knowledge retrieval, image downscaling,
// history windowing, prompt composition, model invocation, and deterministic
// fallback when the model misbehaves.
package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/littletone/littletone/internal/history"
	"github.com/littletone/littletone/internal/image"
	"github.com/littletone/littletone/internal/knowledge"
	"github.com/littletone/littletone/internal/log"
	"github.com/littletone/littletone/internal/prompt"
)

// ErrNoInput indicates a request carrying neither message text nor an image.
var ErrNoInput = errors.New("message or image required")

// GenerationConfig fixes the decoding parameters for every model call so
// normalization behavior is reproducible.
type GenerationConfig struct {
	Temperature     float32
	PresencePenalty float32
	MaxOutputTokens int
}

// Service runs the chat pipeline for one request at a time. All state lives
// in the injected stores; Service itself is safe for concurrent use.
type Service struct {
	g         *genkit.Genkit
	modelName string
	gen       GenerationConfig
	retriever *knowledge.Retriever
	images    *image.Processor
	store     history.Store
	window    int
	logger    log.Logger
}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Genkit        *genkit.Genkit
	ModelName     string
	Generation    GenerationConfig
	Retriever     *knowledge.Retriever
	Images        *image.Processor
	Store         history.Store
	HistoryWindow int
	Logger        log.Logger
}

// NewService creates the pipeline service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Genkit == nil {
		return nil, errors.New("genkit instance is required")
	}
	if cfg.Retriever == nil {
		return nil, errors.New("knowledge retriever is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("history store is required")
	}
	if cfg.HistoryWindow <= 0 {
		return nil, errors.New("history window must be positive")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	return &Service{
		g:         cfg.Genkit,
		modelName: cfg.ModelName,
		gen:       cfg.Generation,
		retriever: cfg.Retriever,
		images:    cfg.Images,
		store:     cfg.Store,
		window:    cfg.HistoryWindow,
		logger:    logger,
	}, nil
}

// Request is one user request entering the pipeline. History, when present,
// seeds an empty server-side session so stateless clients can carry their
// own transcript.
type Request struct {
	SessionID   string
	Message     string
	ImageBase64 string
	History     []history.Turn
}

// Result is the pipeline output: the normalized reply and the session the
// exchange was appended to.
type Result struct {
	Reply     Reply
	SessionID string
}

// Respond runs one request through the pipeline. The returned error covers
// only pre-composition failures (invalid input, history store); model and
// parse failures degrade into the fallback reply and a nil error, so the
// caller always has a renderable object.
func (s *Service) Respond(ctx context.Context, req Request) (Result, error) {
	if req.Message == "" && req.ImageBase64 == "" {
		return Result{}, ErrNoInput
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	if err := s.seedHistory(ctx, sessionID, req.History); err != nil {
		return Result{}, fmt.Errorf("seeding history: %w", err)
	}

	contextText := s.retriever.Retrieve(req.Message)

	segments := s.buildSegments(req)
	if len(segments) == 0 {
		// The only path here is an image-only request whose attachment
		// failed to decode. Degrade to the fallback instead of sending the
		// model an empty turn.
		s.logger.Warn("no usable content after image preprocessing", "session", sessionID)
		return s.finish(ctx, sessionID, segments, FallbackReply())
	}

	window, err := s.store.Window(ctx, sessionID, s.window)
	if err != nil {
		return Result{}, fmt.Errorf("reading history window: %w", err)
	}

	system := prompt.System(contextText)
	messages := prompt.Compose(window, segments)

	reply := s.invokeAndNormalize(ctx, system, messages)
	return s.finish(ctx, sessionID, segments, reply)
}

// invokeAndNormalize calls the model with the fixed decoding configuration
// and normalizes its output. Transport and parse failures are absorbed into
// the fallback; the raw error never reaches the caller.
func (s *Service) invokeAndNormalize(ctx context.Context, system string, messages []*ai.Message) Reply {
	resp, err := genkit.Generate(ctx, s.g,
		ai.WithModelName(s.modelName),
		ai.WithSystem(system),
		ai.WithMessages(messages...),
		ai.WithConfig(&genai.GenerateContentConfig{
			Temperature:      genai.Ptr(s.gen.Temperature),
			PresencePenalty:  genai.Ptr(s.gen.PresencePenalty),
			MaxOutputTokens:  int32(s.gen.MaxOutputTokens),
			ResponseMIMEType: "application/json",
		}),
	)
	if err != nil {
		s.logger.Error("model invocation failed", "error", err)
		return FallbackReply()
	}

	reply, err := Normalize(resp.Text())
	if err != nil {
		s.logger.Error("model output unparseable",
			"error", err,
			"raw", truncate(resp.Text(), 200))
		return FallbackReply()
	}
	return reply
}

// finish appends the user turn and the paired assistant turn in one atomic
// store call, preserving causal order even under concurrent requests.
func (s *Service) finish(ctx context.Context, sessionID string, segments []history.Segment, reply Reply) (Result, error) {
	turns := make([]history.Turn, 0, 2)
	if len(segments) > 0 {
		turns = append(turns, history.Turn{Role: history.RoleUser, Segments: segments})
	}
	turns = append(turns, history.TextTurn(history.RoleAssistant, reply.Reply))

	if err := s.store.Append(ctx, sessionID, turns...); err != nil {
		// The reply is already produced; losing one history append is
		// preferable to failing the request.
		s.logger.Warn("appending turns to history", "session", sessionID, "error", err)
	}

	return Result{Reply: reply, SessionID: sessionID}, nil
}

// buildSegments assembles the current turn. An undecodable image is dropped
// with a warning rather than failing the request.
func (s *Service) buildSegments(req Request) []history.Segment {
	var segments []history.Segment
	if req.Message != "" {
		segments = append(segments, history.Segment{Type: history.SegmentText, Text: req.Message})
	}

	if req.ImageBase64 != "" && s.images != nil {
		processed, err := s.images.Downscale(req.ImageBase64)
		if err != nil {
			s.logger.Warn("dropping undecodable image", "error", err)
		} else {
			segments = append(segments, history.Segment{
				Type:     history.SegmentImage,
				Data:     processed,
				MIMEType: "image/jpeg",
			})
		}
	}
	return segments
}

// seedHistory loads a client-supplied transcript into an empty session.
// Non-empty sessions keep their server-side history; the request copy is
// ignored to avoid duplication.
func (s *Service) seedHistory(ctx context.Context, sessionID string, turns []history.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	n, err := s.store.Len(ctx, sessionID)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	return s.store.Append(ctx, sessionID, turns...)
}
