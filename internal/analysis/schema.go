package analysis

import (
	"github.com/uwase8/MedPredi/internal/clinical"
	"github.com/uwase8/MedPredi/internal/genai"
)

// PredictionSchema returns the structured-output schema every analysis request carries.
// All fields are required.
func PredictionSchema() *genai.Schema {
	levels := make([]string, 0, len(clinical.RiskLevels))
	for _, level := range clinical.RiskLevels {
		levels = append(levels, string(level))
	}

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"risks": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"disease":   {Type: genai.TypeString},
						"riskScore": {Type: genai.TypeNumber},
						"riskLevel": {Type: genai.TypeString, Enum: levels},
						"reasoning": {Type: genai.TypeString},
					},
					Required: []string{"disease", "riskScore", "riskLevel", "reasoning"},
				},
			},
			"clinicalSummary": {Type: genai.TypeString},
			"recommendations": {
				Type:  genai.TypeArray,
				Items: &genai.Schema{Type: genai.TypeString},
			},
		},
		Required: []string{"risks", "clinicalSummary", "recommendations"},
	}
}
