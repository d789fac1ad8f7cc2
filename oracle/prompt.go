package oracle

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/tbxark/visaflow/types"
)

// DefaultInterpretSystemPromptTemplate may contain a single "%s" placeholder for the tool name.
const DefaultInterpretSystemPromptTemplate = `
You are the language understanding step of a visa application assistant. The assistant collects
the application stage by stage. You never decide which fields a stage needs; the tables you are
given are authoritative.

Read the user's latest message in the context of the assistant's last question and choose exactly one intent:
- progress: the user answers what the current stage asks for. Put every value the message provides for a field of the current stage in fields.
- modification: the user wants to change a value given earlier, possibly in another stage. Put the field and its new value in fields. Use only names listed as modifiable.
- deviation: the message is unrelated to the application (a general question, small talk). Leave fields empty.
- resume: the user wants to continue where they left off after a digression. Leave fields empty.

Rules:
- Use field names exactly as written in the tables.
- Copy values as the user wrote them; do not invent or reformat values you are unsure about.
- For fields with options, pick the matching option text.
- Set stage_complete only when, after this message, every required field of the current stage has a value.

Call the '%s' tool with the result.
`

// DefaultExtractSystemPromptTemplate may contain a single "%s" placeholder for the tool name.
const DefaultExtractSystemPromptTemplate = `
You read identity and travel documents for a visa application.

Extract the requested fields from the attached document. Return a field only when its value is
clearly legible. Dates use YYYY-MM-DD. Names keep the spelling printed in the document.

Call the '%s' tool with the result.
`

func formatStageContext(sc StageContext, now time.Time) (string, error) {
	sections := []string{
		fmt.Sprintf("# Current Date:\n%s", now.Format(time.DateOnly)),
	}
	title := sc.StageTitle
	if title == "" {
		title = sc.StageID
	}
	stage := fmt.Sprintf("# Current Stage:\n%s (%s)", title, sc.StageID)
	if sc.Description != "" {
		stage += "\n" + sc.Description
	}
	sections = append(sections, stage)
	if s := types.FormatFieldsTable(sc.Fields); s != "" {
		sections = append(sections, "# Fields of this stage:\n"+s)
	}
	if s := types.FormatDocumentsTable(sc.Documents); s != "" {
		sections = append(sections, "# Documents of this stage:\n"+s)
	}
	if len(sc.Collected) > 0 {
		collected, err := sonic.ConfigStd.MarshalToString(sc.Collected)
		if err != nil {
			return "", err
		}
		sections = append(sections, fmt.Sprintf("# Values collected so far:\n```json\n%s\n```", collected))
	}
	if len(sc.Modifiable) > 0 {
		sections = append(sections, "# Modifiable fields:\n"+strings.Join(sc.Modifiable, ", "))
	}
	if sc.LastQuestion != "" {
		sections = append(sections, fmt.Sprintf("## Assistant Question:\n%s", sc.LastQuestion))
	}
	return strings.Join(sections, "\n\n"), nil
}

func mimeTypeOf(doc Document) string {
	if doc.MIMEType != "" {
		return strings.ToLower(strings.TrimSpace(strings.Split(doc.MIMEType, ";")[0]))
	}
	return strings.Split(http.DetectContentType(doc.Data), ";")[0]
}

func isTextual(mime string) bool {
	return strings.HasPrefix(mime, "text/") || mime == "application/json" || mime == "application/xml"
}
