package service

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/handauncle/hubot-relay/internal/dedup"
	"github.com/handauncle/hubot-relay/internal/identity"
	"github.com/handauncle/hubot-relay/internal/llm"
	"github.com/handauncle/hubot-relay/internal/model"
	"github.com/handauncle/hubot-relay/pkg/logger"
	"github.com/handauncle/hubot-relay/pkg/metrics"
	"github.com/handauncle/hubot-relay/pkg/tracing"
)

// Completer produces a reply for a prompt. *llm.Gateway implements it.
type Completer interface {
	Reply(ctx context.Context, p llm.Prompt) (string, error)
}

// ChatStatus describes how a chat request was answered.
type ChatStatus string

const (
	// ChatCompleted means the gateway was called for this request.
	ChatCompleted ChatStatus = "completed"
	// ChatReplayed means a cached reply for an identical request was returned.
	ChatReplayed ChatStatus = "replayed"
	// ChatProcessing means an identical request is still in flight.
	ChatProcessing ChatStatus = "processing"
)

// ChatResult is the outcome of MessageService.Process.
type ChatResult struct {
	Status  ChatStatus
	Reply   string
	UserKey string
}

// MessageConfig tunes the message pipeline.
type MessageConfig struct {
	// PersistTimeout bounds the best-effort conversation save.
	PersistTimeout time.Duration
}

// MessageService runs the chat pipeline: guard, completion, persistence.
type MessageService struct {
	guard         *dedup.Guard
	completer     Completer
	conversations *ConversationService
	knowledgeBase *TextBlob
	systemPrompt  *TextBlob
	validate      *validator.Validate
	cfg           MessageConfig
	logger        *logger.Logger
	now           func() time.Time
}

// NewMessageService creates a new message service.
func NewMessageService(
	guard *dedup.Guard,
	completer Completer,
	conversations *ConversationService,
	knowledgeBase, systemPrompt *TextBlob,
	cfg MessageConfig,
	log *logger.Logger,
) *MessageService {
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 10 * time.Second
	}
	return &MessageService{
		guard:         guard,
		completer:     completer,
		conversations: conversations,
		knowledgeBase: knowledgeBase,
		systemPrompt:  systemPrompt,
		validate:      validator.New(),
		cfg:           cfg,
		logger:        log,
		now:           time.Now,
	}
}

// Process answers one chat message for caller, which is nil for anonymous
// requests. Validation errors are returned before the guard or the store
// is touched.
func (s *MessageService) Process(ctx context.Context, caller *identity.Identity, req model.ChatRequest) (*ChatResult, error) {
	ctx, span := tracing.Tracer("hubot-relay/service").Start(ctx, "service.Process")
	defer span.End()

	req.Message = model.NormalizeMessage(req.Message)
	if err := s.validateRequest(req); err != nil {
		span.SetStatus(codes.Error, "validation")
		return nil, err
	}

	identifier := caller.Identifier()
	userKey := model.UserKey(identifier)
	key := dedup.Key(identifier, req.Message)
	log := s.logger.With(zap.String("user_key", userKey))

	outcome := s.guard.Begin(key)
	metrics.RecordDedupOutcome(outcome.Status.String())
	metrics.DedupEntries.Set(float64(s.guard.Len()))
	span.SetAttributes(
		attribute.String("dedup.outcome", outcome.Status.String()),
		attribute.String("user.key", userKey),
	)

	switch outcome.Status {
	case dedup.StatusInFlight:
		log.Info("duplicate request still processing")
		return &ChatResult{Status: ChatProcessing, UserKey: userKey}, nil
	case dedup.StatusDone:
		log.Info("replaying cached reply")
		return &ChatResult{Status: ChatReplayed, Reply: outcome.Result, UserKey: userKey}, nil
	}

	reply, err := s.completer.Reply(ctx, llm.Prompt{
		Message:       req.Message,
		KnowledgeBase: s.knowledgeBase.Get(),
		SystemPrompt:  s.systemPrompt.Get(),
	})
	if err != nil {
		s.guard.Release(key)
		span.RecordError(err)
		span.SetStatus(codes.Error, "upstream")
		log.Error("completion failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	s.guard.Complete(key, reply)
	s.persist(ctx, log, userKey, req.Message, reply)

	return &ChatResult{Status: ChatCompleted, Reply: reply, UserKey: userKey}, nil
}

func (s *MessageService) validateRequest(req model.ChatRequest) error {
	if req.Message == "" {
		return fmt.Errorf("%w: message is required", ErrValidation)
	}
	if !utf8.ValidString(req.Message) {
		return fmt.Errorf("%w: message must be valid UTF-8", ErrValidation)
	}
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// persist saves the exchange on a context detached from the request, so a
// client disconnect does not abort the write. Failures are only logged.
func (s *MessageService) persist(ctx context.Context, log *logger.Logger, userKey, message, reply string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PersistTimeout)
	defer cancel()

	now := s.now()
	err := s.conversations.Append(ctx, userKey,
		model.NewEntry(model.RoleUser, message, now),
		model.NewEntry(model.RoleAssistant, reply, now),
	)
	if err != nil {
		log.Error("failed to persist conversation", zap.Error(err))
	}
}
