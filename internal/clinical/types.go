package clinical

import (
	"fmt"
	"math"
	"strings"
)

// SmokingStatus is the patient's smoking history
type SmokingStatus string

const (
	SmokingNever   SmokingStatus = "never"
	SmokingFormer  SmokingStatus = "former"
	SmokingCurrent SmokingStatus = "current"
)

// ActivityLevel is the patient's physical activity bucket
type ActivityLevel string

const (
	ActivityLow      ActivityLevel = "low"
	ActivityModerate ActivityLevel = "moderate"
	ActivityHigh     ActivityLevel = "high"
)

// RiskLevel is the coarse ordinal bucket summarising a risk score
type RiskLevel string

const (
	RiskLow      RiskLevel = "Low"
	RiskModerate RiskLevel = "Moderate"
	RiskHigh     RiskLevel = "High"
	RiskCritical RiskLevel = "Critical"
)

// RiskLevels lists the valid levels in ascending severity
var RiskLevels = []RiskLevel{RiskLow, RiskModerate, RiskHigh, RiskCritical}

// Valid reports whether the level is one of the four known buckets
func (l RiskLevel) Valid() bool {
	switch l {
	case RiskLow, RiskModerate, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// Severity returns the ordinal position of the level, or -1 when unknown
func (l RiskLevel) Severity() int {
	for i, level := range RiskLevels {
		if level == l {
			return i
		}
	}
	return -1
}

// Conditions assessed for every patient
var Conditions = []string{
	"Cardiovascular Disease",
	"Type 2 Diabetes",
	"Hypertension",
	"CKD",
}

// PatientRecord holds the vitals submitted by the dashboard form.
// Weight is in kg, height in cm, blood pressure in mmHg, blood sugar and cholesterol in mg/dL.
type PatientRecord struct {
	Age               int           `json:"age"`
	Gender            string        `json:"gender"`
	Weight            float64       `json:"weight"`
	Height            float64       `json:"height"`
	SystolicBP        float64       `json:"systolicBP"`
	DiastolicBP       float64       `json:"diastolicBP"`
	FastingBloodSugar float64       `json:"fastingBloodSugar"`
	Cholesterol       float64       `json:"cholesterol"`
	SmokingStatus     SmokingStatus `json:"smokingStatus"`
	PhysicalActivity  ActivityLevel `json:"physicalActivity"`
	FamilyHistory     []string      `json:"familyHistory"`
}

// DiseaseRisk is the assessment for a single condition
type DiseaseRisk struct {
	Disease   string    `json:"disease"`
	RiskScore float64   `json:"riskScore"`
	RiskLevel RiskLevel `json:"riskLevel"`
	Reasoning string    `json:"reasoning"`
}

// PredictionResult is the structured outcome of one analysis call
type PredictionResult struct {
	Risks           []DiseaseRisk `json:"risks"`
	ClinicalSummary string        `json:"clinicalSummary"`
	Recommendations []string      `json:"recommendations"`
}

// InputError reports a patient record field that cannot be sent for analysis
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid patient record: %s %s", e.Field, e.Reason)
}

// Validate checks the record's shape. Systolic > diastolic is not enforced.
func (p *PatientRecord) Validate() error {
	if p.Age < 1 {
		return &InputError{Field: "age", Reason: fmt.Sprintf("must be a positive integer, got %d", p.Age)}
	}

	if strings.TrimSpace(p.Gender) == "" {
		return &InputError{Field: "gender", Reason: "cannot be empty"}
	}

	positives := []struct {
		name  string
		value float64
	}{
		{"weight", p.Weight},
		{"height", p.Height},
		{"systolicBP", p.SystolicBP},
		{"diastolicBP", p.DiastolicBP},
		{"fastingBloodSugar", p.FastingBloodSugar},
		{"cholesterol", p.Cholesterol},
	}
	for _, f := range positives {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) || f.value <= 0 {
			return &InputError{Field: f.name, Reason: fmt.Sprintf("must be a positive number, got %v", f.value)}
		}
	}

	switch p.SmokingStatus {
	case SmokingNever, SmokingFormer, SmokingCurrent:
	default:
		return &InputError{Field: "smokingStatus", Reason: fmt.Sprintf("must be one of [never, former, current], got '%s'", p.SmokingStatus)}
	}

	switch p.PhysicalActivity {
	case ActivityLow, ActivityModerate, ActivityHigh:
	default:
		return &InputError{Field: "physicalActivity", Reason: fmt.Sprintf("must be one of [low, moderate, high], got '%s'", p.PhysicalActivity)}
	}

	return nil
}

// NormalizedFamilyHistory returns the family history with blanks dropped and
// case-insensitive duplicates removed, keeping first-seen order.
func (p *PatientRecord) NormalizedFamilyHistory() []string {
	seen := make(map[string]bool, len(p.FamilyHistory))
	out := make([]string, 0, len(p.FamilyHistory))
	for _, h := range p.FamilyHistory {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		key := strings.ToLower(h)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, h)
	}
	return out
}

// DefaultPatientRecord returns the values the dashboard form starts with
func DefaultPatientRecord() PatientRecord {
	return PatientRecord{
		Age:               45,
		Gender:            "Male",
		Weight:            75,
		Height:            175,
		SystolicBP:        120,
		DiastolicBP:       80,
		FastingBloodSugar: 95,
		Cholesterol:       180,
		SmokingStatus:     SmokingNever,
		PhysicalActivity:  ActivityModerate,
		FamilyHistory:     []string{},
	}
}
