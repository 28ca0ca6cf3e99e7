package clinical

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatientRecordValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *PatientRecord)
		field   string
	}{
		{name: "default form values", mutate: func(p *PatientRecord) {}},
		{name: "zero age", mutate: func(p *PatientRecord) { p.Age = 0 }, field: "age"},
		{name: "blank gender", mutate: func(p *PatientRecord) { p.Gender = "  " }, field: "gender"},
		{name: "negative weight", mutate: func(p *PatientRecord) { p.Weight = -1 }, field: "weight"},
		{name: "zero height", mutate: func(p *PatientRecord) { p.Height = 0 }, field: "height"},
		{name: "NaN cholesterol", mutate: func(p *PatientRecord) { p.Cholesterol = math.NaN() }, field: "cholesterol"},
		{name: "unknown smoking status", mutate: func(p *PatientRecord) { p.SmokingStatus = "sometimes" }, field: "smokingStatus"},
		{name: "unknown activity", mutate: func(p *PatientRecord) { p.PhysicalActivity = "" }, field: "physicalActivity"},
		{name: "diastolic above systolic is allowed", mutate: func(p *PatientRecord) { p.DiastolicBP = 130 }},
		{name: "free text gender is allowed", mutate: func(p *PatientRecord) { p.Gender = "Non-binary" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPatientRecord()
			tt.mutate(&p)

			err := p.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}

			var inputErr *InputError
			require.True(t, errors.As(err, &inputErr), "expected InputError, got %v", err)
			assert.Equal(t, tt.field, inputErr.Field)
		})
	}
}

func TestNormalizedFamilyHistory(t *testing.T) {
	p := PatientRecord{FamilyHistory: []string{"Diabetes", "Stroke", "diabetes", " ", "Heart Disease", "Stroke"}}
	assert.Equal(t, []string{"Diabetes", "Stroke", "Heart Disease"}, p.NormalizedFamilyHistory())

	empty := PatientRecord{}
	assert.Empty(t, empty.NormalizedFamilyHistory())
}

func TestRiskLevel(t *testing.T) {
	for i, level := range RiskLevels {
		assert.True(t, level.Valid())
		assert.Equal(t, i, level.Severity())
	}

	assert.False(t, RiskLevel("low").Valid())
	assert.Equal(t, -1, RiskLevel("Severe").Severity())
}

func TestBuildPrompt(t *testing.T) {
	p := DefaultPatientRecord()
	p.FamilyHistory = []string{"Diabetes", "Hypertension", "diabetes"}

	prompt := BuildPrompt(&p)

	for _, want := range []string{
		"Perform a disease risk assessment",
		"Age: 45",
		"Gender: Male",
		"Weight: 75kg, Height: 175cm",
		"Blood Pressure: 120/80 mmHg",
		"Fasting Blood Sugar: 95 mg/dL",
		"Cholesterol: 180 mg/dL",
		"Smoking: never",
		"Activity: moderate",
		"Family History: Diabetes, Hypertension\n",
		"Identify risks for: Cardiovascular Disease, Type 2 Diabetes, Hypertension, and CKD.",
	} {
		assert.Contains(t, prompt, want)
	}

	assert.Equal(t, 1, strings.Count(prompt, "Diabetes, "))
}

func TestBuildPromptFractionalValues(t *testing.T) {
	p := DefaultPatientRecord()
	p.Weight = 72.5
	p.FastingBloodSugar = 101.25

	prompt := BuildPrompt(&p)
	assert.Contains(t, prompt, "Weight: 72.5kg")
	assert.Contains(t, prompt, "Fasting Blood Sugar: 101.25 mg/dL")
}

func TestStyleFor(t *testing.T) {
	assert.Equal(t, "#10b981", StyleFor(RiskLow).Color)
	assert.Equal(t, "#ef4444", StyleFor(RiskCritical).Color)
	assert.Equal(t, "Critical Severity", StyleFor(RiskCritical).Label)
	assert.Equal(t, "#64748b", StyleFor("Unknown").Color)
	assert.Equal(t, -1, StyleFor("Unknown").Severity)

	styles := LevelStyles()
	assert.Len(t, styles, 4)
	for i, style := range styles {
		assert.Equal(t, i, style.Severity)
	}
}

func TestHighestRisk(t *testing.T) {
	result := PredictionResult{
		Risks: []DiseaseRisk{
			{Disease: "Type 2 Diabetes", RiskLevel: RiskModerate},
			{Disease: "Hypertension", RiskLevel: RiskHigh},
			{Disease: "Chronic Kidney Disease", RiskLevel: RiskHigh},
			{Disease: "Heart Disease", RiskLevel: "Severe"},
		},
	}

	highest := result.HighestRisk()
	require.NotNil(t, highest)
	assert.Equal(t, "Hypertension", highest.Disease)

	empty := PredictionResult{Risks: []DiseaseRisk{{Disease: "x", RiskLevel: "unknown"}}}
	assert.Nil(t, empty.HighestRisk())
}

func TestMissingConditions(t *testing.T) {
	result := PredictionResult{
		Risks: []DiseaseRisk{
			{Disease: "Cardiovascular Disease"},
			{Disease: "Type 2 Diabetes Mellitus"},
			{Disease: "Chronic Kidney Disease"},
		},
	}
	assert.Equal(t, []string{"Hypertension"}, result.MissingConditions())

	result.Risks = append(result.Risks, DiseaseRisk{Disease: "High Blood Pressure"})
	assert.Empty(t, result.MissingConditions())

	assert.Equal(t, Conditions, (&PredictionResult{}).MissingConditions())
}
