package llm

import (
	"fmt"
	"sort"
	"strings"
)

func labelPrompt(text string) string {
	return `You are a highly precise document extraction assistant. Extract all identifiable "label: value" pairs from the provided document text, and return them as a structured JSON object.

Requirements:
1. Do not omit any information from the text. Extract every detail.
2. If a main label (like "Father's Information") has sub-labels (like Name, Address, Phone), reflect the hierarchy in the labels:
   - Example: "Father's Name", "Father's Address", "Father's Phone"
3. If a label is implied but not explicitly written, infer a clear and meaningful label.
4. Keep the label formatting consistent and human-readable.
5. Output must be valid JSON only. No code blocks, no explanations, no markdown.

Document Text:
"""
` + text + `
"""

Return:
A valid JSON object with "label: value" pairs.
`
}

func alignPrompt(fields []string, labels map[string]any) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var lb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&lb, "%s: %v\n", k, labels[k])
	}

	return `You are given:

1. A list of AcroForm field names (used in a PDF form):
` + strings.Join(fields, "\n") + `

2. A list of user-provided information (label: value pairs):
` + lb.String() + `
Your task is:
- Match each field name from list 1 with the most relevant value from list 2.
- For example, if the user's full name is "Ammar Bin Halim" and a field is "First Name", return "Ammar".
- If it's "Last Name", return "Halim".
- If no logical match is found, omit that field entirely from your output.

Output a valid JSON object keyed by field name, like this:
{
  "form1[0].#subform[1].FirstName[0]": "Ammar",
  "form1[0].#subform[1].LastName[0]": "Halim"
}
No explanations. Only JSON.
`
}
