package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tbxark/visaflow/definition"
)

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>...",
		Short: "Check workflow definition files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateFiles(cmd.OutOrStdout(), args)
		},
	}
}

func validateFiles(out io.Writer, files []string) error {
	failed := 0
	for _, file := range files {
		def, err := validateFile(file)
		if err != nil {
			failed++
			fmt.Fprintf(out, "FAIL %s\n", file)
			var malformed *definition.MalformedError
			if errors.As(err, &malformed) {
				for _, issue := range malformed.Issues {
					location := issue.Location
					if location == "" {
						location = "#"
					}
					fmt.Fprintf(out, "  %s: %s\n", location, issue.Message)
				}
			} else {
				fmt.Fprintf(out, "  %v\n", err)
			}
			continue
		}
		fmt.Fprintf(out, "ok   %s (%s, %d stages)\n", file, def.VisaType, def.StageCount())
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d definitions are invalid", failed, len(files))
	}
	return nil
}

func validateFile(file string) (*definition.Definition, error) {
	format, ok := definition.FormatFromName(filepath.Base(file))
	if !ok {
		return nil, fmt.Errorf("unsupported file type %s", filepath.Ext(file))
	}
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	return definition.Parse(raw, format)
}
