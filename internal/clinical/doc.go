// Package clinical defines the patient record submitted by the dashboard form and the
// structured risk prediction returned for it. It also builds the assessment prompt and
// provides the risk level presentation table used by the dashboard.
package clinical
