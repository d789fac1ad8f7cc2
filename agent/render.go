package agent

import (
	"fmt"
	"strings"

	"github.com/tbxark/visaflow"
	"github.com/tbxark/visaflow/engine"
	"github.com/tbxark/visaflow/types"
)

// Render formats a router response as chat text.
func Render(resp *visaflow.Response) string {
	var sections []string
	switch resp.Outcome {
	case visaflow.OutcomeCompleted:
		return "All stages are complete. Your application is ready to export."
	case visaflow.OutcomeRetry, visaflow.OutcomeContinue:
		sections = append(sections, resp.Message)
	case visaflow.OutcomeUnexpectedDocument:
		sections = append(sections, "That document is not needed at this step.")
	case visaflow.OutcomeValidationFailed:
		sections = append(sections, "Some values could not be accepted:\n"+types.FormatIssuesTable(resp.Issues))
	}
	if resp.Outcome == visaflow.OutcomeOK && len(resp.Issues) > 0 {
		sections = append(sections, "Some values read from the document were not accepted:\n"+types.FormatIssuesTable(resp.Issues))
	}
	if resp.Interrupted && resp.DeviationContext != nil {
		question := resp.DeviationContext.LastQuestion
		if question == "" {
			question = engine.Summary(resp.Requirements)
		}
		sections = append(sections, "Whenever you are ready, we can continue with "+question+".")
		return strings.Join(sections, "\n\n")
	}
	sections = append(sections, RenderRequirements(resp.Requirements))
	return strings.Join(sections, "\n\n")
}

func RenderRequirements(req types.Requirements) string {
	if req.Complete && req.StageIndex >= req.TotalStages {
		return "Nothing else is needed."
	}
	title := req.StageTitle
	if title == "" {
		title = req.StageID
	}
	sections := []string{fmt.Sprintf("## %s (step %d of %d)", title, req.StageIndex+1, req.TotalStages)}
	if req.StageDescription != "" {
		sections = append(sections, req.StageDescription)
	}
	if s := types.FormatDocumentsTable(req.Documents); s != "" {
		sections = append(sections, "Please upload:\n"+s)
	}
	if s := types.FormatFieldsTable(req.Fields); s != "" {
		sections = append(sections, "Please provide:\n"+s)
	}
	if len(req.AwaitingDerivation) > 0 {
		sections = append(sections, "Still missing from your documents or account: "+strings.Join(req.AwaitingDerivation, ", "))
	}
	return strings.Join(sections, "\n\n")
}
