package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/handauncle/hubot-relay/pkg/metrics"
	"github.com/handauncle/hubot-relay/pkg/tracing"
)

// ErrEmptyReply is returned when the provider answers without any text.
var ErrEmptyReply = errors.New("completion returned no text")

// Prompt is one gateway call: the user's message plus the operator context
// captured at call time.
type Prompt struct {
	Message       string
	KnowledgeBase string
	SystemPrompt  string
}

// GatewayConfig tunes completion calls.
type GatewayConfig struct {
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// Gateway wraps a provider client with prompt assembly, a hard timeout,
// metrics and tracing.
type Gateway struct {
	client Client
	cfg    GatewayConfig
}

// NewGateway creates a gateway around client.
func NewGateway(client Client, cfg GatewayConfig) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Gateway{client: client, cfg: cfg}
}

// Provider returns the underlying provider name.
func (g *Gateway) Provider() string {
	return g.client.Name()
}

// Reply runs one completion and returns the generated text.
func (g *Gateway) Reply(ctx context.Context, p Prompt) (string, error) {
	ctx, span := tracing.Tracer("hubot-relay/llm").Start(ctx, "llm.Reply")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", g.client.Name()),
		attribute.Int("llm.message_length", len(p.Message)),
		attribute.Int("llm.knowledge_base_length", len(p.KnowledgeBase)),
	)

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.client.Complete(ctx, &CompletionRequest{
		Model:       g.cfg.Model,
		System:      BuildSystemPrompt(p.SystemPrompt, p.KnowledgeBase),
		Messages:    []ChatMessage{{Role: "user", Content: p.Message}},
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
	})
	elapsed := time.Since(start).Seconds()

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("completion timed out after %s: %w", g.cfg.Timeout, err)
		}
		metrics.RecordLLMCall(g.client.Name(), "", "error", elapsed, 0, 0)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	metrics.RecordLLMCall(g.client.Name(), resp.Model, "success", elapsed, resp.TokensIn, resp.TokensOut)

	reply := strings.TrimSpace(resp.Content)
	if reply == "" {
		span.SetStatus(codes.Error, ErrEmptyReply.Error())
		return "", ErrEmptyReply
	}
	return reply, nil
}

// BuildSystemPrompt appends the knowledge base, when present, to the
// operator's system prompt.
func BuildSystemPrompt(systemPrompt, knowledgeBase string) string {
	systemPrompt = strings.TrimSpace(systemPrompt)
	knowledgeBase = strings.TrimSpace(knowledgeBase)
	if knowledgeBase == "" {
		return systemPrompt
	}

	var b strings.Builder
	if systemPrompt != "" {
		b.WriteString(systemPrompt)
		b.WriteString("\n\n")
	}
	b.WriteString("Use the following knowledge base when it is relevant to the question.\n")
	b.WriteString("--- KNOWLEDGE BASE ---\n")
	b.WriteString(knowledgeBase)
	b.WriteString("\n--- END KNOWLEDGE BASE ---")
	return b.String()
}
