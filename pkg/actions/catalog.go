package actions

import (
	"fmt"

	"github.com/clinicvoice/relay/pkg/realtime"
)

// Recognized action names.
const (
	ActionScheduleFollowUp = "schedule_follow_up"
	ActionSendLabOrder     = "send_lab_order"
)

// Spec describes one recognized action: its model-facing schema, its
// required and defaulted arguments, and how arguments map onto the webhook
// payload.
type Spec struct {
	Name        string
	Description string
	Required    []string
	Defaults    map[string]string
	PayloadKeys map[string]string
	KeyPrefix   string
	Parameters  map[string]any
	Summary     func(fields map[string]any) string
}

// Catalog returns the fixed set of action specs. The set is identical for
// every session.
func Catalog() []Spec {
	return []Spec{
		{
			Name:        ActionScheduleFollowUp,
			Description: "Schedule a follow-up appointment for the patient",
			Required:    []string{"patientName", "date"},
			Defaults:    map[string]string{"reason": "Follow-up appointment"},
			PayloadKeys: map[string]string{
				"patientName": "patient_name",
				"date":        "appointment_date",
				"reason":      "reason",
			},
			KeyPrefix: "APPT",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"patientName": map[string]any{"type": "string", "description": "The name of the patient"},
					"reason":      map[string]any{"type": "string", "description": "The reason for the follow-up"},
					"date":        map[string]any{"type": "string", "description": "The requested date in YYYY-MM-DD format"},
				},
				"required": []string{"patientName", "date"},
			},
			Summary: func(fields map[string]any) string {
				return fmt.Sprintf("Follow-up appointment scheduled for %v on %v for %v",
					fields["patient_name"], fields["appointment_date"], fields["reason"])
			},
		},
		{
			Name:        ActionSendLabOrder,
			Description: "Send a lab order for the patient",
			Required:    []string{"patientName", "testType"},
			Defaults:    map[string]string{"urgency": "routine"},
			PayloadKeys: map[string]string{
				"patientName": "patient_name",
				"testType":    "test_type",
				"urgency":     "urgency",
			},
			KeyPrefix: "LAB",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"patientName": map[string]any{"type": "string", "description": "The name of the patient"},
					"testType":    map[string]any{"type": "string", "description": "The type of lab test ordered"},
					"urgency":     map[string]any{"type": "string", "enum": []string{"routine", "urgent", "stat"}, "description": "Urgency level"},
				},
				"required": []string{"patientName", "testType"},
			},
			Summary: func(fields map[string]any) string {
				return fmt.Sprintf("Lab order for %v sent for %v with %v urgency",
					fields["test_type"], fields["patient_name"], fields["urgency"])
			},
		},
	}
}

// Tools converts the catalog into the schemas advertised to the model.
func Tools() []realtime.Tool {
	specs := Catalog()
	out := make([]realtime.Tool, 0, len(specs))
	for _, s := range specs {
		out = append(out, realtime.Tool{
			Name:        s.Name,
			Description: s.Description,
			Parameters:  s.Parameters,
		})
	}
	return out
}
