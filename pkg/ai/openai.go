package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	gradingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "grading_duration_seconds",
		Help:      "Duration of AI grading requests",
	}, []string{"provider", "model", "kind"})

	gradingFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "grading_failures_total",
		Help:      "Number of AI grading failures",
	}, []string{"provider", "model", "kind"})
)

// OpenAIConfig defines configuration options for the OpenAI grader.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
	Logger      zerolog.Logger
}

// OpenAIGrader implements Grader against the OpenAI chat completion API.
type OpenAIGrader struct {
	client *openai.Client
	cfg    OpenAIConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewOpenAIGrader builds a new grader using the provided configuration.
func NewOpenAIGrader(cfg OpenAIConfig) (*OpenAIGrader, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}

	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}

	tracer := otel.Tracer("github.com/noah-isme/gema-exam-api/pkg/ai/openai")
	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	client := openai.NewClientWithConfig(config)

	return &OpenAIGrader{
		client: client,
		cfg:    cfg,
		tracer: tracer,
		logger: logger.With().Str("component", "openai_grader").Logger(),
	}, nil
}

// GradeDiscursive asks the model to judge a discursive answer.
func (g *OpenAIGrader) GradeDiscursive(parent context.Context, input DiscursiveInput) (DiscursiveResult, error) {
	content, err := g.complete(parent, "discursive", discursiveSystemPrompt(), buildDiscursivePrompt(input))
	if err != nil {
		return DiscursiveResult{}, err
	}

	result, err := parseDiscursiveResponse(content, input)
	if err != nil {
		gradingFailures.WithLabelValues("openai", g.cfg.Model, "discursive").Inc()
		return DiscursiveResult{}, gradingError("openai", "grade discursive", err)
	}
	return result, nil
}

// GradeEssay asks the model to judge an essay.
func (g *OpenAIGrader) GradeEssay(parent context.Context, input EssayInput) (EssayResult, error) {
	content, err := g.complete(parent, "essay", essaySystemPrompt(), buildEssayPrompt(input))
	if err != nil {
		return EssayResult{}, err
	}

	result, err := parseEssayResponse(content, input)
	if err != nil {
		gradingFailures.WithLabelValues("openai", g.cfg.Model, "essay").Inc()
		return EssayResult{}, gradingError("openai", "grade essay", err)
	}
	return result, nil
}

func (g *OpenAIGrader) complete(parent context.Context, kind, system, prompt string) (string, error) {
	ctx, span := g.tracer.Start(parent, "openai.grade", trace.WithAttributes(
		attribute.String("model", g.cfg.Model),
		attribute.String("grading.kind", kind),
	))
	defer span.End()

	start := time.Now()
	request := openai.ChatCompletionRequest{
		Model:       g.cfg.Model,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: system,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}

	resp, err := g.client.CreateChatCompletion(ctx, request)
	gradingDuration.WithLabelValues("openai", g.cfg.Model, kind).Observe(time.Since(start).Seconds())
	if err != nil {
		gradingFailures.WithLabelValues("openai", g.cfg.Model, kind).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", gradingError("openai", "grade "+kind, err)
	}

	if len(resp.Choices) == 0 {
		err := fmt.Errorf("no choices returned from openai")
		gradingFailures.WithLabelValues("openai", g.cfg.Model, kind).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", gradingError("openai", "grade "+kind, err)
	}

	g.logger.Debug().Str("kind", kind).Int("total_tokens", resp.Usage.TotalTokens).Msg("openai grading completed")
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
