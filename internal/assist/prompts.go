package assist

import (
	"encoding/json"
	"fmt"

	"github.com/dukerupert/smartform/internal/form"
)

const autofillPrompt = `Extract job application details from the resume below.
Reply with JSON only, shaped like:
{"step1":{"fullName":"","email":"","phone":"","location":""},
 "step2":{"currentPosition":"","company":"","yearsOfExperience":0,"keyAchievements":""},
 "step3":{"primarySkills":"","programmingLanguages":"","frameworksAndTools":""}}
Leave a field empty when the resume does not mention it.

Resume:
%s`

var improveGuidance = map[string]string{
	"keyAchievements": "Rewrite these achievements to be specific and quantified where possible.",
	"primarySkills":   "Rewrite this skills summary to be concise and well organised.",
	"motivation":      "Rewrite this motivation statement to be clear, sincere and persuasive.",
}

const improvePrompt = `%s
Keep the author's facts. Reply with the improved text only, no preamble.

Text:
%s`

const validatePrompt = `Review this job application for problems: inconsistencies, vague answers,
unrealistic claims or missing detail.
Reply with a JSON array only, each element shaped like
{"field":"step2.keyAchievements","message":"...","severity":"error|warning|info"}.
Reply with [] when there is nothing to report.

Application:
%s`

func buildAutofillPrompt(resume string) string {
	return fmt.Sprintf(autofillPrompt, resume)
}

func buildImprovePrompt(text, field string) string {
	return fmt.Sprintf(improvePrompt, improveGuidance[field], text)
}

func buildValidatePrompt(d form.Data) (string, error) {
	raw, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(validatePrompt, raw), nil
}
