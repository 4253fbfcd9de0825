package gemini

import "unicode/utf8"

const maxPromptChars = 12000

func buildExtractionPrompt(text string) string {
	snippet := text
	if len(snippet) > maxPromptChars {
		// Back off to a rune boundary so the cut never produces invalid
		// UTF-8 in the request body.
		cut := maxPromptChars
		for cut > 0 && !utf8.RuneStart(snippet[cut]) {
			cut--
		}
		snippet = snippet[:cut]
	}

	return `You are a medical claims processing AI. Extract the following information from this medical claim document and return it in JSON format:
{
    "patientName": "Full name of the patient",
    "providerName": "Name of the healthcare provider",
    "dateOfService": "YYYY-MM-DD format",
    "amount": "numeric value only",
    "claimType": "one of: medical, dental, vision, pharmacy",
    "diagnosisCodes": ["array of ICD-10 codes"],
    "procedureCodes": ["array of CPT codes"]
}

Only return the JSON object, no additional text or explanation.

Document text:
` + snippet
}
