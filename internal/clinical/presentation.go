package clinical

import "strings"

// LevelStyle is how the dashboard renders a risk level
type LevelStyle struct {
	Level    RiskLevel `json:"level"`
	Severity int       `json:"severity"`
	Color    string    `json:"color"`
	Label    string    `json:"label"`
}

const unknownLevelColor = "#64748b"

var levelColors = map[RiskLevel]string{
	RiskLow:      "#10b981",
	RiskModerate: "#f59e0b",
	RiskHigh:     "#f97316",
	RiskCritical: "#ef4444",
}

// StyleFor returns the presentation for a level; unknown levels get a neutral slate colour
func StyleFor(level RiskLevel) LevelStyle {
	color := unknownLevelColor
	if level.Valid() {
		color = levelColors[level]
	}
	return LevelStyle{
		Level:    level,
		Severity: level.Severity(),
		Color:    color,
		Label:    string(level) + " Severity",
	}
}

// LevelStyles returns the presentation table in ascending severity
func LevelStyles() []LevelStyle {
	styles := make([]LevelStyle, 0, len(RiskLevels))
	for _, level := range RiskLevels {
		styles = append(styles, StyleFor(level))
	}
	return styles
}

// ConditionCategory maps a free-text disease name onto one of the assessed conditions.
// It returns "" when the name matches none of them.
func ConditionCategory(disease string) string {
	d := strings.ToLower(disease)
	switch {
	case strings.Contains(d, "heart"), strings.Contains(d, "cardio"):
		return Conditions[0]
	case strings.Contains(d, "diabetes"):
		return Conditions[1]
	case strings.Contains(d, "hypertension"), strings.Contains(d, "blood pressure"):
		return Conditions[2]
	case strings.Contains(d, "ckd"), strings.Contains(d, "kidney"):
		return Conditions[3]
	}
	return ""
}

// HighestRisk returns the most severe assessed risk, or nil when no risk carries a known level
func (r *PredictionResult) HighestRisk() *DiseaseRisk {
	var highest *DiseaseRisk
	for i := range r.Risks {
		risk := &r.Risks[i]
		if !risk.RiskLevel.Valid() {
			continue
		}
		if highest == nil || risk.RiskLevel.Severity() > highest.RiskLevel.Severity() {
			highest = risk
		}
	}
	return highest
}

// MissingConditions lists the assessed conditions not represented in the result
func (r *PredictionResult) MissingConditions() []string {
	covered := make(map[string]bool, len(r.Risks))
	for _, risk := range r.Risks {
		if c := ConditionCategory(risk.Disease); c != "" {
			covered[c] = true
		}
	}

	var missing []string
	for _, c := range Conditions {
		if !covered[c] {
			missing = append(missing, c)
		}
	}
	return missing
}
