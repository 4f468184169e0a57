package inference

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/signalpress/signalpress/ai/tracker"
	"github.com/signalpress/signalpress/config"
	"github.com/signalpress/signalpress/errors"
	"github.com/signalpress/signalpress/internal/util"
)

const (
	// DefaultModel is the fallback model when none is configured
	DefaultModel = "openai/gpt-4o-mini"

	// maxResponseBytes caps response bodies to protect against runaway payloads
	maxResponseBytes = 4 << 20
)

// Client talks to an OpenAI-compatible chat completions gateway and adapts
// it to the Engine contract. Safe for concurrent use.
type Client struct {
	apiKey            string
	baseURL           string
	model             string
	temperature       float64
	maxTokens         int
	validationTimeout time.Duration
	httpClient        *http.Client
	limiter           *rate.Limiter
	usageTracker      *tracker.UsageTracker
	logger            *zap.SugaredLogger

	// usage attribution context (see ForEntity)
	entityType string
	entityID   string
}

// NewClient creates a new inference client. If db is non-nil, every call is
// recorded in the model_usage table.
func NewClient(cfg config.InferenceConfig, db *sql.DB, logger *zap.SugaredLogger) *Client {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	var usageTracker *tracker.UsageTracker
	if db != nil {
		usageTracker = tracker.NewUsageTracker(db)
	}

	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 30
	}

	validationTimeout := time.Duration(cfg.ValidationTimeout) * time.Second
	if validationTimeout <= 0 {
		validationTimeout = 30 * time.Second
	}

	return &Client{
		apiKey:            cfg.APIKey,
		baseURL:           strings.TrimRight(cfg.BaseURL, "/"),
		model:             model,
		temperature:       cfg.Temperature,
		maxTokens:         cfg.MaxTokens,
		validationTimeout: validationTimeout,
		httpClient:        &http.Client{Timeout: 120 * time.Second},
		limiter:           rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm),
		usageTracker:      usageTracker,
		logger:            logger,
	}
}

// ForEntity returns a shallow copy of the client that attributes usage
// records to the given entity (e.g. a batch session or generation run).
func (c *Client) ForEntity(entityType, entityID string) Engine {
	scoped := *c
	scoped.entityType = entityType
	scoped.entityID = entityID
	return &scoped
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// chat issues one chat completion and unmarshals the model's JSON answer
// into out. Usage is recorded whether the call succeeds or fails.
func (c *Client) chat(ctx context.Context, operation, systemPrompt, userPrompt string, out interface{}) (*Usage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "rate limiter wait cancelled")
	}

	requestedAt := time.Now()

	reqBody := chatCompletionRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal chat request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build chat request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.trackUsage(operation, requestedAt, nil, 0, err)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errors.Wrapf(errors.ErrValidationTimeout, "%s call timed out", operation)
		}
		return nil, errors.Wrapf(errors.ErrAgentFailure, "%s request failed: %v", operation, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.trackUsage(operation, requestedAt, nil, 0, err)
		return nil, errors.Wrapf(errors.ErrAgentFailure, "%s response read failed: %v", operation, err)
	}

	var chatResp chatCompletionResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		c.trackUsage(operation, requestedAt, nil, 0, err)
		return nil, errors.Wrapf(errors.ErrAgentFailure, "%s response malformed: %v", operation, err)
	}

	if resp.StatusCode != http.StatusOK || chatResp.Error != nil {
		msg := fmt.Sprintf("status %d", resp.StatusCode)
		if chatResp.Error != nil {
			msg = chatResp.Error.Message
		}
		callErr := errors.Newf("gateway error: %s", msg)
		c.trackUsage(operation, requestedAt, nil, 0, callErr)
		return nil, errors.Wrapf(errors.ErrAgentFailure, "%s rejected: %s", operation, msg)
	}

	if len(chatResp.Choices) == 0 {
		callErr := errors.New("no choices in response")
		c.trackUsage(operation, requestedAt, nil, 0, callErr)
		return nil, errors.Wrapf(errors.ErrAgentFailure, "%s returned no content", operation)
	}

	usage := &Usage{
		PromptTokens:     chatResp.Usage.PromptTokens,
		CompletionTokens: chatResp.Usage.CompletionTokens,
		TotalTokens:      chatResp.Usage.TotalTokens,
		CostUSD:          CalculateCost(c.model, chatResp.Usage.PromptTokens, chatResp.Usage.CompletionTokens),
	}

	content := stripCodeFences(chatResp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), out); err != nil {
		c.trackUsage(operation, requestedAt, usage, usage.CostUSD, err)
		return usage, errors.Wrapf(errors.ErrAgentFailure, "%s output not valid JSON: %v", operation, err)
	}

	c.trackUsage(operation, requestedAt, usage, usage.CostUSD, nil)

	c.logger.Debugw("Inference call complete",
		"operation", operation,
		"model", c.model,
		"tokens", usage.TotalTokens,
		"cost_usd", usage.CostUSD)

	return usage, nil
}

// trackUsage records one call in model_usage; failures to record are logged,
// never propagated (observability must not break the pipeline).
func (c *Client) trackUsage(operation string, requestedAt time.Time, usage *Usage, cost float64, callErr error) {
	if c.usageTracker == nil {
		return
	}

	record := &tracker.ModelUsage{
		OperationType:     operation,
		EntityType:        c.entityType,
		EntityID:          c.entityID,
		ModelName:         c.model,
		ModelProvider:     "openrouter",
		RequestTimestamp:  requestedAt,
		ResponseTimestamp: util.Ptr(time.Now()),
		Success:           callErr == nil,
	}
	if record.EntityType == "" {
		record.EntityType = "system"
	}
	if usage != nil {
		record.TokensUsed = util.Ptr(usage.TotalTokens)
		record.Cost = util.Ptr(cost)
	}
	if callErr != nil {
		record.ErrorMessage = util.Ptr(callErr.Error())
	}

	if err := c.usageTracker.TrackUsage(record); err != nil {
		c.logger.Warnw("Failed to record model usage", "operation", operation, "error", err)
	}
}

// stripCodeFences removes markdown code fences some models wrap JSON in
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

// Analyze scores one article for signal strength, uniqueness, and confidence.
func (c *Client) Analyze(ctx context.Context, article Article) (*Analysis, *Usage, error) {
	system := "You are a trend analyst. Assess the article and respond with JSON only: " +
		`{"signal_strength":0..1,"uniqueness":0..1,"confidence":0..1,"summary":"..."}`
	user := fmt.Sprintf("Title: %s\nSource: %s\nPublished: %s\n\n%s",
		article.Title, article.SourceDomain, article.PublishedAt.Format(time.RFC3339), article.Content)

	var analysis Analysis
	usage, err := c.chat(ctx, "analyze", system, user, &analysis)
	if err != nil {
		return nil, usage, err
	}
	return &analysis, usage, nil
}

// Select ranks candidates and picks the strongest stories for a publication.
func (c *Client) Select(ctx context.Context, candidates []Candidate) (*Selection, *Usage, error) {
	system := "You are an editor choosing stories for a publication. Respond with JSON only: " +
		`{"article_ids":["..."],"rationale":"..."}`
	user := mustJSON(candidates)

	var selection Selection
	usage, err := c.chat(ctx, "select", system, user, &selection)
	if err != nil {
		return nil, usage, err
	}
	return &selection, usage, nil
}

// Synthesize finds cross-article themes and patterns in the selected stories.
func (c *Client) Synthesize(ctx context.Context, selected []Candidate) (*Synthesis, *Usage, error) {
	system := "You synthesize cross-article patterns. Respond with JSON only: " +
		`{"themes":["..."],"insights":["..."],"narrative":"...","confidence":0..1}`
	user := mustJSON(selected)

	var synthesis Synthesis
	usage, err := c.chat(ctx, "synthesize", system, user, &synthesis)
	if err != nil {
		return nil, usage, err
	}
	return &synthesis, usage, nil
}

// Write produces the structured draft from a synthesis.
func (c *Client) Write(ctx context.Context, synthesis Synthesis) (*Draft, *Usage, error) {
	system := "You are a staff writer. Produce a complete draft as JSON only: " +
		`{"title":"...","executive_summary":"...","sections":[{"heading":"...","body":"..."}],` +
		`"citations":["..."],"read_time_minutes":N,"editorial_quality":0..1,"coherence":0..1,"uniqueness":0..1}`
	user := mustJSON(synthesis)

	var draft Draft
	usage, err := c.chat(ctx, "write", system, user, &draft)
	if err != nil {
		return nil, usage, err
	}
	return &draft, usage, nil
}

// Validate asks the research service to confirm or refute a strong signal.
// Uses a tighter timeout than other calls; a deadline maps to
// ErrValidationTimeout so callers can apply the retry-once policy.
func (c *Client) Validate(ctx context.Context, candidate Candidate) (*Validation, *Usage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.validationTimeout)
	defer cancel()

	system := "You validate trend signals against known evidence. Respond with JSON only: " +
		`{"status":"VALIDATED"|"FAILED","evidence":["..."]}`
	user := mustJSON(candidate)

	var validation Validation
	usage, err := c.chat(ctx, "validate", system, user, &validation)
	if err != nil {
		if errors.Is(err, errors.ErrValidationTimeout) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, usage, errors.Wrapf(errors.ErrValidationTimeout, "validation of %s", candidate.ArticleID)
		}
		return nil, usage, err
	}
	return &validation, usage, nil
}

func mustJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
