package types

import (
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
)

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// FormatDocumentsTable renders the stage documents as a markdown table. It returns "" when there are none.
func FormatDocumentsTable(docs []DocumentItem) string {
	if len(docs) == 0 {
		return ""
	}
	var buf strings.Builder
	table := tablewriter.NewTable(&buf, tablewriter.WithRenderer(renderer.NewMarkdown()))
	table.Header("Document", "Type", "Required", "Uploaded", "Provides")
	for _, doc := range docs {
		_ = table.Append(doc.Name, doc.Type, yesNo(doc.Required), yesNo(doc.Satisfied), strings.Join(doc.Extracts, ", "))
	}
	_ = table.Render()
	return buf.String()
}

// FormatFieldsTable renders user-facing fields as a markdown table. It returns "" when there are none.
func FormatFieldsTable(fields []FieldItem) string {
	if len(fields) == 0 {
		return ""
	}
	var buf strings.Builder
	table := tablewriter.NewTable(&buf, tablewriter.WithRenderer(renderer.NewMarkdown()))
	table.Header("Field", "Type", "Required", "Provided", "Options", "Hint")
	for _, field := range fields {
		_ = table.Append(field.Name, field.FieldType, yesNo(field.Required), yesNo(field.Satisfied), strings.Join(field.Options, " / "), field.PromptHint)
	}
	_ = table.Render()
	return buf.String()
}

// FormatIssuesTable renders rejected values as a markdown table.
func FormatIssuesTable(issues []*ValidationError) string {
	if len(issues) == 0 {
		return ""
	}
	var buf strings.Builder
	table := tablewriter.NewTable(&buf, tablewriter.WithRenderer(renderer.NewMarkdown()))
	table.Header("Field", "Problem")
	for _, issue := range issues {
		_ = table.Append(issue.Field, issue.Reason)
	}
	_ = table.Render()
	return buf.String()
}
