package genai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL       = "https://generativelanguage.googleapis.com/v1beta"
	DefaultAnalysisModel = "gemini-3-flash-preview"
	DefaultSpeechModel   = "gemini-2.5-flash-preview-tts"
	DefaultVoice         = "Kore"

	generateContentPath = "/models/{model}:generateContent"
	userAgent           = "MedPredi/1.0"
)

// Client provides access to the generateContent API
type Client struct {
	config       Config
	httpClient   *resty.Client
	speechClient *resty.Client
	limiter    *rate.Limiter
	semaphore  chan struct{}

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// Config contains client configuration
type Config struct {
	BaseURL           string
	APIKey            string
	AnalysisModel     string
	SpeechModel       string
	Timeout           time.Duration
	MaxRetries        int // speech requests only, prediction requests are never repeated
	MaxConcurrent     int
	RequestsPerSecond float64
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// StatusError is returned when the API answers with a non-2xx status
type StatusError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("HTTP error %d (%s): %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("HTTP error %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the request may succeed when repeated
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// NewClient creates a new API client. The API key is required.
func NewClient(config Config) (*Client, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}

	if config.AnalysisModel == "" {
		config.AnalysisModel = DefaultAnalysisModel
	}

	if config.SpeechModel == "" {
		config.SpeechModel = DefaultSpeechModel
	}

	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}

	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}

	httpClient := newRestyClient(config)

	speechClient := newRestyClient(config).
		SetRetryCount(config.MaxRetries).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(30 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return !errors.Is(err, context.Canceled)
			}
			return resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500
		})

	return &Client{
		config:       config,
		httpClient:   httpClient,
		speechClient: speechClient,
		limiter:      rate.NewLimiter(limit, config.MaxConcurrent),
		semaphore:    make(chan struct{}, config.MaxConcurrent),
	}, nil
}

func newRestyClient(config Config) *resty.Client {
	return resty.New().
		SetBaseURL(config.BaseURL).
		SetTimeout(config.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", userAgent).
		SetHeader("x-goog-api-key", config.APIKey)
}

// GenerateContent issues exactly one generateContent call against model
func (c *Client) GenerateContent(ctx context.Context, model string, request *GenerateContentRequest) (*GenerateContentResponse, error) {
	return c.generate(ctx, c.httpClient, model, request)
}

func (c *Client) generate(ctx context.Context, httpClient *resty.Client, model string, request *GenerateContentRequest) (*GenerateContentResponse, error) {
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	startTime := time.Now()
	c.incrementTotalRequests()

	response, err := c.doRequest(ctx, httpClient, model, request)
	if err != nil {
		c.incrementFailedRequests()
		return nil, err
	}

	c.incrementSuccessRequests()
	c.updateAvgResponseTime(time.Since(startTime))

	return response, nil
}

// doRequest performs the HTTP round trip, including any retries httpClient is set up for
func (c *Client) doRequest(ctx context.Context, httpClient *resty.Client, model string, request *GenerateContentRequest) (*GenerateContentResponse, error) {
	var result GenerateContentResponse
	var apiErr APIError

	resp, err := httpClient.R().
		SetContext(ctx).
		SetPathParam("model", model).
		SetBody(request).
		SetResult(&result).
		SetError(&apiErr).
		Post(generateContentPath)

	if resp != nil && resp.Request != nil && resp.Request.Attempt > 1 {
		c.addRetries(uint64(resp.Request.Attempt - 1))
	}

	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}

	if resp.IsError() {
		message := apiErr.Error.Message
		if message == "" {
			message = resp.String()
		}
		return nil, &StatusError{
			StatusCode: resp.StatusCode(),
			Status:     apiErr.Error.Status,
			Message:    message,
		}
	}

	return &result, nil
}

// GenerateJSON asks the analysis model for output conforming to schema and returns the
// response text. An empty string means the model returned no text.
func (c *Client) GenerateJSON(ctx context.Context, prompt string, schema *Schema) (string, error) {
	request := &GenerateContentRequest{
		Contents: []Content{{
			Role:  "user",
			Parts: []Part{{Text: prompt}},
		}},
		GenerationConfig: &GenerationConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   schema,
		},
	}

	response, err := c.GenerateContent(ctx, c.config.AnalysisModel, request)
	if err != nil {
		return "", err
	}

	return response.Text(), nil
}

// SynthesizeSpeech asks the speech model to read text with the given voice preset and
// returns the first inline audio payload, or nil when the response carries none.
// Failed attempts are repeated up to MaxRetries times.
func (c *Client) SynthesizeSpeech(ctx context.Context, text, voice string) (*InlineData, error) {
	if voice == "" {
		voice = DefaultVoice
	}

	request := &GenerateContentRequest{
		Contents: []Content{{
			Parts: []Part{{Text: text}},
		}},
		GenerationConfig: &GenerationConfig{
			ResponseModalities: []string{ModalityAudio},
			SpeechConfig: &SpeechConfig{
				VoiceConfig: &VoiceConfig{
					PrebuiltVoiceConfig: &PrebuiltVoiceConfig{VoiceName: voice},
				},
			},
		},
	}

	response, err := c.generate(ctx, c.speechClient, c.config.SpeechModel, request)
	if err != nil {
		return nil, err
	}

	return response.FirstInlineData(), nil
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

func (c *Client) addRetries(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRetries += n
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  len(c.semaphore),
	}
}

// Close waits for in-flight requests to finish
func (c *Client) Close() error {
	for i := 0; i < c.config.MaxConcurrent; i++ {
		c.semaphore <- struct{}{}
	}
	return nil
}
