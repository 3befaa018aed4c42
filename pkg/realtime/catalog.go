package realtime

import "fmt"

// Tool is one function schema advertised to the model at session
// configuration time. The catalog is static and identical for every session.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

func toolPayload(tools []Tool) []map[string]any {
	if len(tools) == 0 {
		return nil
	}
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]any{
			"type":        "function",
			"name":        t.Name,
			"description": t.Description,
			"parameters":  t.Parameters,
		})
	}
	return out
}

const sessionInstructions = `You are a Medical Interpreter facilitating communication between a Spanish-speaking patient and an English-speaking doctor. Your task is to translate audio inputs literally and perform specific actions when requested.`

const summaryPrompt = "Generate a summary of this medical conversation."

const summaryInstructions = `Generate a concise summary of the medical conversation:
- Key medical issues discussed
- Recommendations or treatment plans
- Follow-up appointments needed
- Lab orders needed
- Urgent concerns`

func speechInstructions(lastDoctorText string) string {
	base := `- Primary Tasks:
  - When given Spanish audio input, assume it's from the patient and translate it to English text verbatim, without adding your own interpretation.
  - When given English audio input, assume it's from the doctor and translate it to Spanish text verbatim, without adding your own interpretation.

- Additional Tasks:
  - If the patient says "repite eso" (Spanish for "repeat that"), repeat the doctor's most recent statement in Spanish, based on provided context.
  - If the doctor asks to schedule a follow-up appointment or send a lab order, call the respective function (schedule_follow_up or send_lab_order) with appropriate arguments inferred from the conversation.
- Output Format: Always return a JSON object in this exact format: {"text": "<translated_text>", "role": "<patient or doctor>"}.
- Notes: Audio input language indicates the speaker (Spanish = patient, English = doctor) unless otherwise specified.`
	if lastDoctorText == "" {
		return base
	}
	return base + fmt.Sprintf("\n- Context: the doctor's most recent statement was: %q.", lastDoctorText)
}
