package clinical

import (
	"fmt"
	"strconv"
	"strings"
)

// BuildPrompt renders the risk assessment prompt for a patient record.
// Every field of the record is embedded.
func BuildPrompt(p *PatientRecord) string {
	var b strings.Builder

	b.WriteString("Perform a disease risk assessment based on the following patient data:\n")
	fmt.Fprintf(&b, "    Age: %d\n", p.Age)
	fmt.Fprintf(&b, "    Gender: %s\n", p.Gender)
	fmt.Fprintf(&b, "    Weight: %skg, Height: %scm\n", formatNumber(p.Weight), formatNumber(p.Height))
	fmt.Fprintf(&b, "    Blood Pressure: %s/%s mmHg\n", formatNumber(p.SystolicBP), formatNumber(p.DiastolicBP))
	fmt.Fprintf(&b, "    Fasting Blood Sugar: %s mg/dL\n", formatNumber(p.FastingBloodSugar))
	fmt.Fprintf(&b, "    Cholesterol: %s mg/dL\n", formatNumber(p.Cholesterol))
	fmt.Fprintf(&b, "    Smoking: %s\n", p.SmokingStatus)
	fmt.Fprintf(&b, "    Activity: %s\n", p.PhysicalActivity)
	fmt.Fprintf(&b, "    Family History: %s\n", strings.Join(p.NormalizedFamilyHistory(), ", "))
	b.WriteString("\n")
	fmt.Fprintf(&b, "    Identify risks for: %s.", joinConditions(Conditions))

	return b.String()
}

// joinConditions produces "A, B, C, and D"
func joinConditions(conditions []string) string {
	switch len(conditions) {
	case 0:
		return ""
	case 1:
		return conditions[0]
	}
	return strings.Join(conditions[:len(conditions)-1], ", ") + ", and " + conditions[len(conditions)-1]
}

// formatNumber prints whole numbers without a fractional part
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
