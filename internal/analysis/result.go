package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/uwase8/MedPredi/internal/clinical"
)

// ScorePolicy decides what happens to a risk score outside [0,100]
type ScorePolicy string

const (
	ScorePolicyReject ScorePolicy = "reject"
	ScorePolicyClamp  ScorePolicy = "clamp"
)

const (
	minScore = 0.0
	maxScore = 100.0
)

// ParseScorePolicy maps a config value onto a policy; empty means reject
func ParseScorePolicy(s string) (ScorePolicy, error) {
	switch ScorePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", ScorePolicyReject:
		return ScorePolicyReject, nil
	case ScorePolicyClamp:
		return ScorePolicyClamp, nil
	}
	return "", fmt.Errorf("unknown score policy '%s' (must be reject or clamp)", s)
}

// Pointer fields tell a missing key apart from a zero value
type rawRisk struct {
	Disease   *string  `json:"disease"`
	RiskScore *float64 `json:"riskScore"`
	RiskLevel *string  `json:"riskLevel"`
	Reasoning *string  `json:"reasoning"`
}

type rawResult struct {
	Risks           []*rawRisk `json:"risks"`
	ClinicalSummary *string    `json:"clinicalSummary"`
	Recommendations []*string  `json:"recommendations"`
}

// parseResult decodes model output. A surrounding markdown code fence is tolerated.
func parseResult(text string) (*rawResult, error) {
	body := bytes.TrimSpace([]byte(stripCodeFence(text)))
	if len(body) == 0 || body[0] != '{' {
		return nil, fmt.Errorf("expected a JSON object")
	}

	var raw rawResult
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	return &raw, nil
}

func stripCodeFence(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```")
	if nl := strings.IndexByte(t, '\n'); nl >= 0 {
		t = t[nl+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(t), "```")
}

// toResult checks raw against the result contract and converts it.
// It also returns how many scores were clamped.
func toResult(raw *rawResult, policy ScorePolicy) (*clinical.PredictionResult, int, error) {
	if raw.Risks == nil {
		return nil, 0, &ValidationError{Field: "risks", Reason: "is required"}
	}
	if len(raw.Risks) == 0 {
		return nil, 0, &ValidationError{Field: "risks", Reason: "must not be empty"}
	}
	if raw.ClinicalSummary == nil {
		return nil, 0, &ValidationError{Field: "clinicalSummary", Reason: "is required"}
	}
	if strings.TrimSpace(*raw.ClinicalSummary) == "" {
		return nil, 0, &ValidationError{Field: "clinicalSummary", Reason: "must not be blank"}
	}
	if raw.Recommendations == nil {
		return nil, 0, &ValidationError{Field: "recommendations", Reason: "is required"}
	}

	result := &clinical.PredictionResult{
		Risks:           make([]clinical.DiseaseRisk, 0, len(raw.Risks)),
		ClinicalSummary: *raw.ClinicalSummary,
		Recommendations: make([]string, 0, len(raw.Recommendations)),
	}

	clamped := 0
	for i, r := range raw.Risks {
		risk, wasClamped, err := toRisk(i, r, policy)
		if err != nil {
			return nil, 0, err
		}
		if wasClamped {
			clamped++
		}
		result.Risks = append(result.Risks, risk)
	}

	for i, rec := range raw.Recommendations {
		if rec == nil {
			return nil, 0, &ValidationError{Field: fmt.Sprintf("recommendations[%d]", i), Reason: "must be a string"}
		}
		result.Recommendations = append(result.Recommendations, *rec)
	}

	return result, clamped, nil
}

func toRisk(i int, r *rawRisk, policy ScorePolicy) (clinical.DiseaseRisk, bool, error) {
	field := func(name string) string { return fmt.Sprintf("risks[%d].%s", i, name) }

	if r == nil {
		return clinical.DiseaseRisk{}, false, &ValidationError{Field: fmt.Sprintf("risks[%d]", i), Reason: "must be an object"}
	}

	switch {
	case r.Disease == nil:
		return clinical.DiseaseRisk{}, false, &ValidationError{Field: field("disease"), Reason: "is required"}
	case r.RiskScore == nil:
		return clinical.DiseaseRisk{}, false, &ValidationError{Field: field("riskScore"), Reason: "is required"}
	case r.RiskLevel == nil:
		return clinical.DiseaseRisk{}, false, &ValidationError{Field: field("riskLevel"), Reason: "is required"}
	case r.Reasoning == nil:
		return clinical.DiseaseRisk{}, false, &ValidationError{Field: field("reasoning"), Reason: "is required"}
	}

	if strings.TrimSpace(*r.Disease) == "" {
		return clinical.DiseaseRisk{}, false, &ValidationError{Field: field("disease"), Reason: "must not be blank"}
	}

	level, ok := normalizeLevel(*r.RiskLevel)
	if !ok {
		return clinical.DiseaseRisk{}, false, &ValidationError{
			Field:  field("riskLevel"),
			Reason: fmt.Sprintf("must be one of [Low, Moderate, High, Critical], got '%s'", *r.RiskLevel),
		}
	}

	score := *r.RiskScore
	clamped := false
	if score < minScore || score > maxScore {
		if policy != ScorePolicyClamp {
			return clinical.DiseaseRisk{}, false, &ValidationError{
				Field:  field("riskScore"),
				Reason: fmt.Sprintf("must be within [0, 100], got %v", score),
			}
		}
		score = min(max(score, minScore), maxScore)
		clamped = true
	}

	return clinical.DiseaseRisk{
		Disease:   *r.Disease,
		RiskScore: score,
		RiskLevel: level,
		Reasoning: *r.Reasoning,
	}, clamped, nil
}

// normalizeLevel matches case-insensitively and returns the canonical spelling
func normalizeLevel(s string) (clinical.RiskLevel, bool) {
	s = strings.TrimSpace(s)
	for _, level := range clinical.RiskLevels {
		if strings.EqualFold(s, string(level)) {
			return level, true
		}
	}
	return "", false
}
