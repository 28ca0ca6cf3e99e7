package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/uwase8/MedPredi/internal/clinical"
	"github.com/uwase8/MedPredi/internal/genai"
	"github.com/uwase8/MedPredi/internal/metrics"
)

// Generator produces text constrained to a JSON schema.
// An empty string with a nil error means the service returned no text.
type Generator interface {
	GenerateJSON(ctx context.Context, prompt string, schema *genai.Schema) (string, error)
}

// Options configure the analysis client
type Options struct {
	ScorePolicy ScorePolicy
	// Timeout bounds one analysis call; zero leaves it to the caller's context
	Timeout time.Duration
}

// Client turns patient records into validated predictions
type Client struct {
	generator Generator
	schema    *genai.Schema
	opts      Options
	logger    *slog.Logger
	metrics   *metrics.Metrics

	// Statistics
	totalRequests      uint64
	successRequests    uint64
	failedRequests     uint64
	validationFailures uint64
	clampedScores      uint64

	mu sync.RWMutex
}

// ClientStats represents analysis statistics
type ClientStats struct {
	TotalRequests      uint64 `json:"total_requests"`
	SuccessRequests    uint64 `json:"success_requests"`
	FailedRequests     uint64 `json:"failed_requests"`
	ValidationFailures uint64 `json:"validation_failures"`
	ClampedScores      uint64 `json:"clamped_scores"`
	ScorePolicy        string `json:"score_policy"`
}

// NewClient creates an analysis client on top of generator
func NewClient(generator Generator, logger *slog.Logger, opts Options, m *metrics.Metrics) (*Client, error) {
	if generator == nil {
		return nil, fmt.Errorf("generator cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	policy, err := ParseScorePolicy(string(opts.ScorePolicy))
	if err != nil {
		return nil, err
	}
	opts.ScorePolicy = policy

	return &Client{
		generator: generator,
		schema:    PredictionSchema(),
		opts:      opts,
		logger:    logger,
		metrics:   m,
	}, nil
}

// Analyze sends one prediction request for record and returns the validated result.
//
// Failures are a *clinical.InputError for a malformed record, an *AnalysisError when the
// service fails or returns no usable JSON, and a *ValidationError when the JSON breaks
// the result contract. A result that omits some of the requested conditions is still
// returned; the gap is only logged.
func (c *Client) Analyze(ctx context.Context, record *clinical.PatientRecord) (*clinical.PredictionResult, error) {
	if record == nil {
		return nil, &clinical.InputError{Field: "record", Reason: "cannot be nil"}
	}

	if err := record.Validate(); err != nil {
		return nil, err
	}

	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	startTime := time.Now()
	c.incrementTotalRequests()
	c.metrics.RecordAnalysisRequest()

	text, err := c.generator.GenerateJSON(ctx, clinical.BuildPrompt(record), c.schema)
	if err != nil {
		return nil, c.fail("upstream", startTime, &AnalysisError{Err: fmt.Errorf("prediction request failed: %w", err)})
	}

	if strings.TrimSpace(text) == "" {
		return nil, c.fail("no_output", startTime, &AnalysisError{Err: ErrNoOutput})
	}

	raw, err := parseResult(text)
	if err != nil {
		return nil, c.fail("malformed", startTime, &AnalysisError{Err: fmt.Errorf("%w: %v", ErrMalformedOutput, err)})
	}

	result, clamped, err := toResult(raw, c.opts.ScorePolicy)
	if err != nil {
		return nil, c.fail("validation", startTime, err)
	}

	if clamped > 0 {
		c.addClamped(uint64(clamped))
		for i := 0; i < clamped; i++ {
			c.metrics.RecordScoreClamped()
		}
		c.logger.Warn("Risk scores outside [0,100] were clamped",
			slog.Int("count", clamped))
	}

	if missing := result.MissingConditions(); len(missing) > 0 {
		c.metrics.RecordMissingConditions(len(missing))
		c.logger.Warn("Prediction does not cover every requested condition",
			slog.Any("missing", missing),
			slog.Int("risks", len(result.Risks)))
	}

	duration := time.Since(startTime)
	c.incrementSuccessRequests()
	c.metrics.RecordAnalysisSuccess(duration.Seconds(), riskLevels(result))

	attrs := []any{
		slog.Int("risks", len(result.Risks)),
		slog.Int("recommendations", len(result.Recommendations)),
		slog.Duration("duration", duration),
	}
	if highest := result.HighestRisk(); highest != nil {
		attrs = append(attrs,
			slog.String("highest_risk", highest.Disease),
			slog.String("highest_level", string(highest.RiskLevel)))
	}
	c.logger.Info("Risk analysis completed", attrs...)

	return result, nil
}

func (c *Client) fail(reason string, startTime time.Time, err error) error {
	duration := time.Since(startTime)

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		c.incrementValidationFailures()
	}
	c.incrementFailedRequests()
	c.metrics.RecordAnalysisFailure(reason, duration.Seconds())

	c.logger.Error("Risk analysis failed",
		slog.String("reason", reason),
		slog.String("error", err.Error()),
		slog.Duration("duration", duration))

	return err
}

func riskLevels(result *clinical.PredictionResult) []string {
	levels := make([]string, 0, len(result.Risks))
	for _, r := range result.Risks {
		levels = append(levels, string(r.RiskLevel))
	}
	return levels
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) incrementValidationFailures() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.validationFailures++
}

func (c *Client) addClamped(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clampedScores += n
}

// GetStats returns current analysis statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return ClientStats{
		TotalRequests:      c.totalRequests,
		SuccessRequests:    c.successRequests,
		FailedRequests:     c.failedRequests,
		ValidationFailures: c.validationFailures,
		ClampedScores:      c.clampedScores,
		ScorePolicy:        string(c.opts.ScorePolicy),
	}
}
