package decision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/adk/agent"
	"google.golang.org/adk/agent/llmagent"
	"google.golang.org/adk/model"
	"google.golang.org/adk/runner"
	"google.golang.org/adk/session"
	"google.golang.org/genai"

	"callflow_backend/internal/calls"
	"callflow_backend/platform/logger"
)

const (
	engineAppName      = "call-classifier"
	defaultTimeout     = 60 * time.Second
	maxResponseLogSize = 500
)

// EngineConfig tunes the classification engine.
type EngineConfig struct {
	Timeout  time.Duration
	Taxonomy *Taxonomy
}

// Engine classifies calls with one model request each.
type Engine struct {
	runner         *runner.Runner
	sessionService session.Service
	appName        string
	modelName      string
	taxonomy       *Taxonomy
	timeout        time.Duration
	log            *logger.Logger
}

// NewEngine creates a classification agent without tools around llm.
func NewEngine(llm model.LLM, cfg EngineConfig, log *logger.Logger) (*Engine, error) {
	if llm == nil {
		return nil, errors.New("decision engine: model is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Taxonomy == nil {
		cfg.Taxonomy = DefaultTaxonomy()
	}

	adkAgent, err := llmagent.New(llmagent.Config{
		Name:        "CallClassifier",
		Model:       llm,
		Description: "Classifies insurance brokerage calls into incidents and client actions.",
		Instruction: systemInstruction(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create classifier agent: %w", err)
	}

	sessionService := session.InMemoryService()
	r, err := runner.New(runner.Config{
		AppName:        engineAppName,
		Agent:          adkAgent,
		SessionService: sessionService,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create classifier runner: %w", err)
	}

	return &Engine{
		runner:         r,
		sessionService: sessionService,
		appName:        engineAppName,
		modelName:      llm.Name(),
		taxonomy:       cfg.Taxonomy,
		timeout:        cfg.Timeout,
		log:            log,
	}, nil
}

// Decide classifies call. It always returns a usable decision: any failure of
// the model request or its output yields Fallback.
func (e *Engine) Decide(ctx context.Context, call calls.Call) Decision {
	log := e.log.WithCall(call.ExternalCallID)

	text, err := e.classify(ctx, call)
	if err != nil {
		log.Warn("decision: classification failed, using fallback", "error", err)
		d := Fallback(err.Error())
		d.Meta.Model = e.modelName
		return d
	}

	raw, err := ParseResponse(text)
	if err != nil {
		log.Warn("decision: unusable classification output, using fallback",
			"error", err, "response", truncate(text, maxResponseLogSize))
		d := Fallback(err.Error())
		d.Meta.Model = e.modelName
		return d
	}

	d := NormalizeWith(e.taxonomy, raw)
	d.Meta.Model = e.modelName
	if len(d.Meta.Warnings) > 0 {
		log.Info("decision: normalized with warnings", "warnings", strings.Join(d.Meta.Warnings, "; "))
	}
	return d
}

// classify runs in its own session, so calls are classified concurrently.
func (e *Engine) classify(ctx context.Context, call calls.Call) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	sessionID := uuid.New().String()
	userID := "call-" + call.ExternalCallID

	_, err := e.sessionService.Create(ctx, &session.CreateRequest{
		AppName:   e.appName,
		UserID:    userID,
		SessionID: sessionID,
	})
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	defer func() {
		_ = e.sessionService.Delete(context.WithoutCancel(ctx), &session.DeleteRequest{
			AppName:   e.appName,
			UserID:    userID,
			SessionID: sessionID,
		})
	}()

	userMessage := &genai.Content{
		Role: "user",
		Parts: []*genai.Part{{
			Text: BuildPrompt(e.taxonomy, call),
		}},
	}
	runConfig := agent.RunConfig{StreamingMode: agent.StreamingModeNone}

	var output strings.Builder
	for event, err := range e.runner.Run(ctx, userID, sessionID, userMessage, runConfig) {
		if err != nil {
			return "", fmt.Errorf("run failed: %w", err)
		}
		if event.Content == nil {
			continue
		}
		for _, part := range event.Content.Parts {
			output.WriteString(part.Text)
		}
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("classification timed out: %w", err)
	}

	text := strings.TrimSpace(output.String())
	if text == "" {
		return "", errors.New("empty classification response")
	}
	return text, nil
}

// Unconfigured is used when no classification model is set up. Every call
// gets the fallback decision.
type Unconfigured struct{}

func (Unconfigured) Decide(context.Context, calls.Call) Decision {
	return Fallback("classifier not configured")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

var (
	_ Decider = (*Engine)(nil)
	_ Decider = Unconfigured{}
)
