package analysis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uwase8/MedPredi/internal/clinical"
	"github.com/uwase8/MedPredi/internal/genai"
)

const scenarioResponse = `{
  "risks": [
    {"disease": "Cardiovascular Disease", "riskScore": 18, "riskLevel": "Low", "reasoning": "Normal blood pressure and cholesterol."},
    {"disease": "Type 2 Diabetes", "riskScore": 22.5, "riskLevel": "Low", "reasoning": "Fasting glucose within range."},
    {"disease": "Hypertension", "riskScore": 35, "riskLevel": "Moderate", "reasoning": "Age-related increase."},
    {"disease": "CKD", "riskScore": 10, "riskLevel": "Low", "reasoning": "No contributing factors."}
  ],
  "clinicalSummary": "Overall low risk profile with age-related hypertension risk.",
  "recommendations": ["Annual blood pressure check", "Maintain activity level"]
}`

type fakeGenerator struct {
	text   string
	err    error
	calls  int
	prompt string
	schema *genai.Schema
	wait   bool
}

func (f *fakeGenerator) GenerateJSON(ctx context.Context, prompt string, schema *genai.Schema) (string, error) {
	f.calls++
	f.prompt = prompt
	f.schema = schema
	if f.wait {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.text, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, gen Generator, opts Options) *Client {
	t.Helper()
	client, err := NewClient(gen, testLogger(), opts, nil)
	require.NoError(t, err)
	return client
}

func scenarioRecord() *clinical.PatientRecord {
	record := clinical.DefaultPatientRecord()
	return &record
}

func TestAnalyzeScenarioRecord(t *testing.T) {
	gen := &fakeGenerator{text: scenarioResponse}
	client := newTestClient(t, gen, Options{})

	result, err := client.Analyze(context.Background(), scenarioRecord())
	require.NoError(t, err)

	require.Len(t, result.Risks, 4)
	assert.Equal(t, "Cardiovascular Disease", result.Risks[0].Disease)
	assert.Equal(t, 22.5, result.Risks[1].RiskScore)
	assert.Equal(t, clinical.RiskModerate, result.Risks[2].RiskLevel)
	assert.NotEmpty(t, result.Risks[3].Reasoning)
	assert.Equal(t, "Overall low risk profile with age-related hypertension risk.", result.ClinicalSummary)
	assert.Equal(t, []string{"Annual blood pressure check", "Maintain activity level"}, result.Recommendations)
	assert.Empty(t, result.MissingConditions())

	assert.Equal(t, 1, gen.calls)
	assert.Contains(t, gen.prompt, "Age: 45")
	assert.Contains(t, gen.prompt, "Blood Pressure: 120/80 mmHg")
	assert.Contains(t, gen.prompt, "Identify risks for: Cardiovascular Disease, Type 2 Diabetes, Hypertension, and CKD.")
	require.NotNil(t, gen.schema)
	assert.ElementsMatch(t, []string{"risks", "clinicalSummary", "recommendations"}, gen.schema.Required)

	stats := client.GetStats()
	assert.Equal(t, uint64(1), stats.SuccessRequests)
	assert.Equal(t, "reject", stats.ScorePolicy)
}

func TestAnalyzeNoOutput(t *testing.T) {
	for _, text := range []string{"", "   \n"} {
		client := newTestClient(t, &fakeGenerator{text: text}, Options{})

		result, err := client.Analyze(context.Background(), scenarioRecord())
		assert.Nil(t, result)

		var analysisErr *AnalysisError
		require.True(t, errors.As(err, &analysisErr))
		assert.ErrorIs(t, err, ErrNoOutput)
		assert.Contains(t, err.Error(), "no text returned from model")
	}
}

func TestAnalyzeMalformedOutput(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"not json", "The patient is at low risk."},
		{"truncated", `{"risks": [`},
		{"array", `[]`},
		{"wrong type", `{"risks": "none", "clinicalSummary": "x", "recommendations": []}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, &fakeGenerator{text: tt.text}, Options{})
			result, err := client.Analyze(context.Background(), scenarioRecord())
			assert.Nil(t, result)

			var analysisErr *AnalysisError
			require.True(t, errors.As(err, &analysisErr))
			assert.ErrorIs(t, err, ErrMalformedOutput)
		})
	}
}

func TestAnalyzeUpstreamFailure(t *testing.T) {
	upstream := errors.New("connection reset")
	client := newTestClient(t, &fakeGenerator{err: upstream}, Options{})

	_, err := client.Analyze(context.Background(), scenarioRecord())

	var analysisErr *AnalysisError
	require.True(t, errors.As(err, &analysisErr))
	assert.ErrorIs(t, err, upstream)
	assert.Equal(t, uint64(1), client.GetStats().FailedRequests)
}

func TestAnalyzeValidation(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		field string
	}{
		{"missing risks", `{"clinicalSummary": "x", "recommendations": []}`, "risks"},
		{"empty risks", `{"risks": [], "clinicalSummary": "x", "recommendations": []}`, "risks"},
		{"missing summary", `{"risks": [{"disease": "CKD", "riskScore": 1, "riskLevel": "Low", "reasoning": "r"}], "recommendations": []}`, "clinicalSummary"},
		{"blank summary", `{"risks": [{"disease": "CKD", "riskScore": 1, "riskLevel": "Low", "reasoning": "r"}], "clinicalSummary": " ", "recommendations": []}`, "clinicalSummary"},
		{"missing recommendations", `{"risks": [{"disease": "CKD", "riskScore": 1, "riskLevel": "Low", "reasoning": "r"}], "clinicalSummary": "x"}`, "recommendations"},
		{"null recommendation", `{"risks": [{"disease": "CKD", "riskScore": 1, "riskLevel": "Low", "reasoning": "r"}], "clinicalSummary": "x", "recommendations": [null]}`, "recommendations[0]"},
		{"null risk", `{"risks": [null], "clinicalSummary": "x", "recommendations": []}`, "risks[0]"},
		{"missing score", `{"risks": [{"disease": "CKD", "riskLevel": "Low", "reasoning": "r"}], "clinicalSummary": "x", "recommendations": []}`, "risks[0].riskScore"},
		{"missing reasoning", `{"risks": [{"disease": "CKD", "riskScore": 1, "riskLevel": "Low"}], "clinicalSummary": "x", "recommendations": []}`, "risks[0].reasoning"},
		{"blank disease", `{"risks": [{"disease": "", "riskScore": 1, "riskLevel": "Low", "reasoning": "r"}], "clinicalSummary": "x", "recommendations": []}`, "risks[0].disease"},
		{"unknown level", `{"risks": [{"disease": "CKD", "riskScore": 1, "riskLevel": "Severe", "reasoning": "r"}], "clinicalSummary": "x", "recommendations": []}`, "risks[0].riskLevel"},
		{"score too high", `{"risks": [{"disease": "CKD", "riskScore": 120, "riskLevel": "Critical", "reasoning": "r"}], "clinicalSummary": "x", "recommendations": []}`, "risks[0].riskScore"},
		{"negative score", `{"risks": [{"disease": "CKD", "riskScore": -3, "riskLevel": "Low", "reasoning": "r"}], "clinicalSummary": "x", "recommendations": []}`, "risks[0].riskScore"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, &fakeGenerator{text: tt.text}, Options{})
			result, err := client.Analyze(context.Background(), scenarioRecord())
			assert.Nil(t, result)

			var validationErr *ValidationError
			require.True(t, errors.As(err, &validationErr), "got %v", err)
			assert.Equal(t, tt.field, validationErr.Field)

			var analysisErr *AnalysisError
			assert.False(t, errors.As(err, &analysisErr))
			assert.Equal(t, uint64(1), client.GetStats().ValidationFailures)
		})
	}
}

func TestAnalyzeClampPolicy(t *testing.T) {
	text := `{"risks": [
		{"disease": "CKD", "riskScore": 120, "riskLevel": "critical", "reasoning": "r"},
		{"disease": "Hypertension", "riskScore": -4, "riskLevel": "LOW", "reasoning": "r"},
		{"disease": "Type 2 Diabetes", "riskScore": 50, "riskLevel": "Moderate", "reasoning": "r"}
	], "clinicalSummary": "x", "recommendations": []}`

	client := newTestClient(t, &fakeGenerator{text: text}, Options{ScorePolicy: ScorePolicyClamp})
	result, err := client.Analyze(context.Background(), scenarioRecord())
	require.NoError(t, err)

	assert.Equal(t, 100.0, result.Risks[0].RiskScore)
	assert.Equal(t, clinical.RiskCritical, result.Risks[0].RiskLevel)
	assert.Equal(t, 0.0, result.Risks[1].RiskScore)
	assert.Equal(t, clinical.RiskLow, result.Risks[1].RiskLevel)
	assert.Equal(t, 50.0, result.Risks[2].RiskScore)
	assert.Equal(t, uint64(2), client.GetStats().ClampedScores)

	// Cardiovascular disease was not assessed; the result is still returned
	assert.Equal(t, []string{"Cardiovascular Disease"}, result.MissingConditions())
	assert.Empty(t, result.Recommendations)
	assert.NotNil(t, result.Recommendations)
}

func TestAnalyzeCodeFence(t *testing.T) {
	client := newTestClient(t, &fakeGenerator{text: "```json\n" + scenarioResponse + "\n```"}, Options{})
	result, err := client.Analyze(context.Background(), scenarioRecord())
	require.NoError(t, err)
	assert.Len(t, result.Risks, 4)
}

func TestAnalyzeRejectsInvalidRecord(t *testing.T) {
	gen := &fakeGenerator{text: scenarioResponse}
	client := newTestClient(t, gen, Options{})

	record := scenarioRecord()
	record.SmokingStatus = "sometimes"

	_, err := client.Analyze(context.Background(), record)
	var inputErr *clinical.InputError
	require.True(t, errors.As(err, &inputErr))
	assert.Equal(t, "smokingStatus", inputErr.Field)
	assert.Equal(t, 0, gen.calls)

	_, err = client.Analyze(context.Background(), nil)
	assert.True(t, errors.As(err, &inputErr))
}

func TestAnalyzeTimeout(t *testing.T) {
	client := newTestClient(t, &fakeGenerator{wait: true}, Options{Timeout: 20 * time.Millisecond})

	_, err := client.Analyze(context.Background(), scenarioRecord())

	var analysisErr *AnalysisError
	require.True(t, errors.As(err, &analysisErr))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewClientErrors(t *testing.T) {
	_, err := NewClient(nil, testLogger(), Options{}, nil)
	assert.Error(t, err)

	_, err = NewClient(&fakeGenerator{}, testLogger(), Options{ScorePolicy: "round"}, nil)
	assert.Error(t, err)
}

func TestParseScorePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    ScorePolicy
		wantErr bool
	}{
		{"", ScorePolicyReject, false},
		{"reject", ScorePolicyReject, false},
		{" Clamp ", ScorePolicyClamp, false},
		{"ignore", "", true},
	}

	for _, tt := range tests {
		got, err := ParseScorePolicy(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		assert.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestPredictionSchema(t *testing.T) {
	schema := PredictionSchema()
	assert.Equal(t, genai.TypeObject, schema.Type)

	risks := schema.Properties["risks"]
	require.NotNil(t, risks)
	assert.Equal(t, genai.TypeArray, risks.Type)
	assert.ElementsMatch(t, []string{"disease", "riskScore", "riskLevel", "reasoning"}, risks.Items.Required)
	assert.Equal(t, []string{"Low", "Moderate", "High", "Critical"}, risks.Items.Properties["riskLevel"].Enum)
	assert.Equal(t, genai.TypeString, schema.Properties["recommendations"].Items.Type)
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence("```\n{\"a\":1}```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence(`  {"a":1}  `))
	assert.True(t, strings.HasPrefix(stripCodeFence(scenarioResponse), "{"))
}
