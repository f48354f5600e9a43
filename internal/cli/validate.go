package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sendas-app/recorridos/internal/service/journey"
)

// NewValidateCmd creates the "validate" subcommand.
func NewValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file.yaml|file.json>",
		Short: "Validate a journey definition without importing it",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}

	cmd.Flags().String("format", "text", "Output format: text | json")
	cmd.Flags().Bool("strict", false, "Treat warnings as errors")

	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	strict, _ := cmd.Flags().GetBool("strict")

	_, report, err := loadDefinition(args[0])
	if err != nil {
		return err
	}
	if err := printReport(cmd.OutOrStdout(), report, format); err != nil {
		return err
	}

	if !report.OK() || (strict && len(report.Warnings) > 0) {
		return exitError(exitValidation, "validation failed")
	}
	return nil
}

func printReport(w io.Writer, report journey.ValidationReport, format string) error {
	switch format {
	case "json":
		if report.Errors == nil {
			report.Errors = []string{}
		}
		if report.Warnings == nil {
			report.Warnings = []string{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "text", "":
		for _, e := range report.Errors {
			fmt.Fprintf(w, "error: %s\n", e)
		}
		for _, warn := range report.Warnings {
			fmt.Fprintf(w, "warning: %s\n", warn)
		}
		if report.OK() {
			fmt.Fprintf(w, "ok (%d warnings)\n", len(report.Warnings))
		}
		return nil
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}
