package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrRateLimited indicates the provider rejected the request with HTTP 429.
var ErrRateLimited = errors.New("grading provider rate limited")

// AnthropicConfig defines configuration options for the Anthropic grader.
type AnthropicConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Logger      zerolog.Logger
}

// AnthropicGrader implements Grader against the Anthropic messages API.
type AnthropicGrader struct {
	client *anthropic.Client
	cfg    AnthropicConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewAnthropicGrader constructs a grader backed by the Anthropic SDK.
func NewAnthropicGrader(cfg AnthropicConfig) (*AnthropicGrader, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "claude-haiku-4-5-20251001"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}

	// one grading call is one request; 429s surface to the caller
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &AnthropicGrader{
		client: &client,
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/gema-exam-api/pkg/ai/anthropic"),
		logger: logger.With().Str("component", "anthropic_grader").Logger(),
	}, nil
}

// GradeDiscursive asks the model to judge a discursive answer.
func (g *AnthropicGrader) GradeDiscursive(ctx context.Context, input DiscursiveInput) (DiscursiveResult, error) {
	content, err := g.complete(ctx, "discursive", discursiveSystemPrompt(), buildDiscursivePrompt(input))
	if err != nil {
		return DiscursiveResult{}, err
	}

	result, err := parseDiscursiveResponse(content, input)
	if err != nil {
		gradingFailures.WithLabelValues("anthropic", g.cfg.Model, "discursive").Inc()
		return DiscursiveResult{}, gradingError("anthropic", "grade discursive", err)
	}
	return result, nil
}

// GradeEssay asks the model to judge an essay.
func (g *AnthropicGrader) GradeEssay(ctx context.Context, input EssayInput) (EssayResult, error) {
	content, err := g.complete(ctx, "essay", essaySystemPrompt(), buildEssayPrompt(input))
	if err != nil {
		return EssayResult{}, err
	}

	result, err := parseEssayResponse(content, input)
	if err != nil {
		gradingFailures.WithLabelValues("anthropic", g.cfg.Model, "essay").Inc()
		return EssayResult{}, gradingError("anthropic", "grade essay", err)
	}
	return result, nil
}

func (g *AnthropicGrader) complete(parent context.Context, kind, system, prompt string) (string, error) {
	ctx, span := g.tracer.Start(parent, "anthropic.grade", trace.WithAttributes(
		attribute.String("model", g.cfg.Model),
		attribute.String("grading.kind", kind),
	))
	defer span.End()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(g.cfg.Model),
		MaxTokens: int64(g.cfg.MaxTokens),
		System:    []anthropic.TextBlockParam{{Text: system + " Respond with the JSON object only."}},
		Messages: []anthropic.MessageParam{
			{
				Role:    anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(prompt)},
			},
		},
	}
	if g.cfg.Temperature > 0 {
		params.Temperature = anthropic.Float(g.cfg.Temperature)
	}

	start := time.Now()
	msg, err := g.client.Messages.New(ctx, params)
	gradingDuration.WithLabelValues("anthropic", g.cfg.Model, kind).Observe(time.Since(start).Seconds())
	if err != nil {
		err = mapAnthropicError(err)
		gradingFailures.WithLabelValues("anthropic", g.cfg.Model, kind).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", gradingError("anthropic", "grade "+kind, err)
	}

	for _, block := range msg.Content {
		if block.Type == "text" {
			g.logger.Debug().Str("kind", kind).Int64("output_tokens", msg.Usage.OutputTokens).Msg("anthropic grading completed")
			return strings.TrimSpace(block.Text), nil
		}
	}

	err = fmt.Errorf("no text content in anthropic response")
	gradingFailures.WithLabelValues("anthropic", g.cfg.Model, kind).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return "", gradingError("anthropic", "grade "+kind, err)
}

func mapAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	return err
}
