package openaicompat

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/uwase8/MedPredi/internal/genai"
)

const (
	DefaultAnalysisModel = openai.GPT4oMini
	DefaultSpeechModel   = string(openai.TTSModel1)
	DefaultVoice         = string(openai.VoiceAlloy)

	// The pcm speech format is 24kHz 16-bit signed little-endian mono
	pcmMIMEType = "audio/L16;codec=pcm;rate=24000"
	schemaName  = "prediction_result"
)

// Config contains provider configuration
type Config struct {
	BaseURL       string
	APIKey        string
	AnalysisModel string
	SpeechModel   string
	Timeout       time.Duration
}

// Provider serves structured JSON generation and speech synthesis
type Provider struct {
	client     *openai.Client
	httpClient *http.Client
	config     Config
	timeout    time.Duration
}

// NewProvider creates a provider. The API key is required.
func NewProvider(config Config) (*Provider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	if config.AnalysisModel == "" {
		config.AnalysisModel = DefaultAnalysisModel
	}

	if config.SpeechModel == "" {
		config.SpeechModel = DefaultSpeechModel
	}

	httpClient := &http.Client{}
	clientConfig := openai.DefaultConfig(config.APIKey)
	clientConfig.HTTPClient = httpClient
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &Provider{
		client:     openai.NewClientWithConfig(clientConfig),
		httpClient: httpClient,
		config:     config,
		timeout:    config.Timeout,
	}, nil
}

// Close releases idle connections
func (p *Provider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// GenerateJSON requests a chat completion constrained to schema and returns its content.
// An empty string means the model returned no text.
func (p *Provider) GenerateJSON(ctx context.Context, prompt string, schema *genai.Schema) (string, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	definition := ToDefinition(schema)
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.config.AnalysisModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   schemaName,
				Schema: &definition,
				Strict: true,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// SynthesizeSpeech renders text as raw PCM and returns it base64-encoded, matching the
// inline payload shape of the genai client. A zero-length body yields nil.
func (p *Provider) SynthesizeSpeech(ctx context.Context, text, voice string) (*genai.InlineData, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	resp, err := p.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(p.config.SpeechModel),
		Input:          text,
		Voice:          openai.SpeechVoice(resolveVoice(voice)),
		ResponseFormat: openai.SpeechResponseFormatPcm,
	})
	if err != nil {
		return nil, fmt.Errorf("speech request failed: %w", err)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read speech response: %w", err)
	}

	if len(data) == 0 {
		return nil, nil
	}

	return &genai.InlineData{
		MIMEType: pcmMIMEType,
		Data:     base64.StdEncoding.EncodeToString(data),
	}, nil
}

// Voice presets of other providers have no equivalent here and fall back to DefaultVoice.
var knownVoices = map[string]bool{
	"alloy": true, "ash": true, "ballad": true, "coral": true, "echo": true, "fable": true,
	"onyx": true, "nova": true, "sage": true, "shimmer": true, "verse": true,
}

func resolveVoice(voice string) string {
	v := strings.ToLower(strings.TrimSpace(voice))
	if knownVoices[v] {
		return v
	}
	return DefaultVoice
}

func (p *Provider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.timeout)
}

// ToDefinition converts a response schema into a strict JSON schema definition.
// Strict mode requires every object to forbid additional properties.
func ToDefinition(schema *genai.Schema) jsonschema.Definition {
	if schema == nil {
		return jsonschema.Definition{}
	}

	def := jsonschema.Definition{
		Type:        dataType(schema.Type),
		Description: schema.Description,
		Enum:        schema.Enum,
		Required:    schema.Required,
	}

	if len(schema.Properties) > 0 {
		def.Properties = make(map[string]jsonschema.Definition, len(schema.Properties))
		for name, prop := range schema.Properties {
			def.Properties[name] = ToDefinition(prop)
		}
	}

	if schema.Type == genai.TypeObject {
		def.AdditionalProperties = false
	}

	if schema.Items != nil {
		items := ToDefinition(schema.Items)
		def.Items = &items
	}

	return def
}

func dataType(t string) jsonschema.DataType {
	switch t {
	case genai.TypeObject:
		return jsonschema.Object
	case genai.TypeArray:
		return jsonschema.Array
	case genai.TypeNumber:
		return jsonschema.Number
	case genai.TypeInteger:
		return jsonschema.Integer
	case genai.TypeBoolean:
		return jsonschema.Boolean
	default:
		return jsonschema.String
	}
}
