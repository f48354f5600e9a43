// Package cli implements the recorridoctl operator commands.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sendas-app/recorridos/internal/condition"
	"github.com/sendas-app/recorridos/internal/eventschema"
	"github.com/sendas-app/recorridos/internal/loader"
	"github.com/sendas-app/recorridos/internal/model"
	"github.com/sendas-app/recorridos/internal/service/journey"
)

// NewRootCmd builds the recorridoctl command tree.
func NewRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "recorridoctl",
		Short: "Operator tool for the recorridos journey runtime",
		Long:  "recorridoctl validates and imports journey definitions issues development tokens and generates signing keys.",
		// SilenceUsage prevents printing usage on every error
		SilenceUsage: true,
	}
	root.Version = version
	root.SetVersionTemplate(fmt.Sprintf("recorridoctl version %s\n", version))

	root.AddCommand(NewValidateCmd())
	root.AddCommand(NewImportCmd())
	root.AddCommand(NewTokenCmd())
	root.AddCommand(NewHashKeyCmd())
	root.AddCommand(NewGenKeyCmd())
	return root
}

// loadDefinition reads a definition file and validates it against the
// built-in condition and event types.
func loadDefinition(path string) (model.JourneyDefinition, journey.ValidationReport, error) {
	def, err := loader.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return def, journey.ValidationReport{}, exitError(exitFileNotFound, "file not found: %s", path)
		}
		return def, journey.ValidationReport{}, exitError(exitValidation, "%v", err)
	}
	events, err := eventschema.NewBuiltinRegistry()
	if err != nil {
		return def, journey.ValidationReport{}, fmt.Errorf("event types: %w", err)
	}
	return def, journey.ValidateDefinition(def, condition.NewRegistry(), events), nil
}
