package definition

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tbxark/visaflow/types"
)

var pointerEscaper = strings.NewReplacer("~", "~0", "/", "~1")

func location(segments ...string) string {
	var b strings.Builder
	for _, seg := range segments {
		b.WriteByte('/')
		b.WriteString(pointerEscaper.Replace(seg))
	}
	return b.String()
}

// build converts a structurally valid document and collects every semantic issue.
func build(doc *rawWorkflow) (*Definition, []Issue) {
	var issues []Issue
	report := func(loc, format string, args ...any) {
		issues = append(issues, Issue{Location: loc, Message: fmt.Sprintf(format, args...)})
	}

	def := &Definition{
		VisaType:      strings.TrimSpace(doc.VisaType),
		Version:       doc.Version,
		Description:   doc.Description,
		DefaultValues: doc.DefaultValues,
		Stages:        make([]Stage, 0, len(doc.Stages)),
	}
	if len(doc.Stages) == 0 {
		report("/collection_sequence", "stage list is empty")
	}

	stageIDs := make(map[string]bool)
	fieldOwner := make(map[string]string)
	// extracts declared by documents of this and every earlier stage
	extractable := make(map[string]bool)
	type pendingRef struct {
		loc, field, source string
	}
	var derivedRefs []pendingRef

	for i, rs := range doc.Stages {
		idx := strconv.Itoa(i)
		stageLoc := location("collection_sequence", idx)
		if stageIDs[rs.ID] {
			report(stageLoc+"/stage", "duplicate stage id %q", rs.ID)
		}
		stageIDs[rs.ID] = true
		if len(rs.Documents) == 0 && len(rs.Fields) == 0 {
			report(stageLoc, "stage %q declares no documents or fields", rs.ID)
		}

		stage := Stage{
			ID:          rs.ID,
			Title:       rs.Title,
			Description: rs.Description,
		}
		docTypes := make(map[string]bool)
		for j, rd := range rs.Documents {
			docLoc := location("collection_sequence", idx, "required_documents", strconv.Itoa(j))
			if docTypes[rd.Type] {
				report(docLoc+"/type", "duplicate document type %q in stage %q", rd.Type, rs.ID)
			}
			docTypes[rd.Type] = true
			required := true
			if rd.Required != nil {
				required = *rd.Required
			}
			name := rd.Name
			if name == "" {
				name = rd.Type
			}
			for _, extract := range rd.Extracts {
				extractable[extract] = true
			}
			stage.Documents = append(stage.Documents, DocumentRequirement{
				Type:        rd.Type,
				Name:        name,
				Description: rd.Description,
				Required:    required,
				Extracts:    rd.Extracts,
			})
		}

		for _, entry := range rs.Fields {
			rf := entry.spec
			fieldLoc := location("collection_sequence", idx, "fields", entry.name)
			if strings.TrimSpace(entry.name) == "" {
				report(fieldLoc, "field name is empty")
			}
			if owner, ok := fieldOwner[entry.name]; ok {
				report(fieldLoc, "field %q already declared in stage %q", entry.name, owner)
			}
			fieldOwner[entry.name] = rs.ID

			method := types.ExtractionMethod(rf.ExtractionMethod)
			required := true
			if rf.Required != nil {
				required = *rf.Required
			}
			hint := rf.PromptHint
			if hint == "" {
				hint = rf.Prompt
			}
			field := FieldSpec{
				Name:             entry.name,
				FieldType:        rf.FieldType,
				Required:         required,
				ExtractionMethod: method,
				OverwritePolicy:  OverwritePolicy(rf.OverwritePolicy),
				Validation:       rf.Validation,
				Options:          rf.Options,
				PromptHint:       hint,
				DerivedFrom:      rf.DerivedFrom,
				Default:          rf.Default,
			}
			if field.FieldType == "" {
				field.FieldType = "text"
			}

			v := rf.Validation
			if v.MinLength != nil && v.MaxLength != nil && *v.MinLength > *v.MaxLength {
				report(fieldLoc+"/validation", "min_length %d exceeds max_length %d", *v.MinLength, *v.MaxLength)
			}
			if v.Pattern != "" {
				if _, err := regexp.Compile(v.Pattern); err != nil {
					report(fieldLoc+"/validation/pattern", "invalid pattern: %v", err)
				}
			}

			switch method {
			case types.ExtractionDocumentDerived:
				if !extractable[entry.name] {
					report(fieldLoc, "document_derived field %q is not extracted by any document of this or an earlier stage", entry.name)
				}
			case types.ExtractionDerivedField:
				if rf.DerivedFrom == "" {
					report(fieldLoc, "derived_from_other_field field %q must declare derived_from", entry.name)
				} else if rf.DerivedFrom == entry.name {
					report(fieldLoc+"/derived_from", "field %q cannot derive from itself", entry.name)
				} else {
					derivedRefs = append(derivedRefs, pendingRef{loc: fieldLoc + "/derived_from", field: entry.name, source: rf.DerivedFrom})
				}
			case types.ExtractionPreSelected:
				if rf.Default == nil && len(rf.Options) != 1 {
					report(fieldLoc, "pre_selected field %q needs a default or exactly one option", entry.name)
				}
			}
			stage.Fields = append(stage.Fields, field)
		}
		stage.Kind = stageKind(stage)
		def.Stages = append(def.Stages, stage)
	}

	for _, ref := range derivedRefs {
		if _, ok := fieldOwner[ref.source]; ok || extractable[ref.source] || handoffKeys[ref.source] {
			continue
		}
		report(ref.loc, "field %q derives from unknown field %q", ref.field, ref.source)
	}

	if len(issues) > 0 {
		return nil, issues
	}
	def.index()
	return def, nil
}

// handoffKeys are the names a derived field may copy from handoff data.
var handoffKeys = map[string]bool{
	"visa_type":      true,
	"country":        true,
	"purpose":        true,
	"traveler_count": true,
	"arrival_date":   true,
	"departure_date": true,
}
