package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sendas-app/recorridos/internal/config"
	"github.com/sendas-app/recorridos/internal/model"
	"github.com/sendas-app/recorridos/internal/storage"
	"github.com/sendas-app/recorridos/internal/storage/sqlitestore"
	"github.com/sendas-app/recorridos/migrations"
)

// NewImportCmd creates the "import" subcommand.
func NewImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file.yaml|file.json>",
		Short: "Store a definition as a new journey version",
		Long: "Validates the definition and inserts it as the next version of the recorrido.\n" +
			"Versions are never updated; --publish stores it as published, otherwise as a draft.\n" +
			"The store is selected by RECORRIDOS_STORE as for the server.",
		Args: cobra.ExactArgs(1),
		RunE: runImport,
	}

	cmd.Flags().String("recorrido-id", "", "Recorrido identifier (defaults to the definition's id)")
	cmd.Flags().Bool("publish", false, "Publish the new version")

	return cmd
}

// versionInserter is implemented by both stores' version repositories.
type versionInserter interface {
	Insert(ctx context.Context, recorridoID string, def model.JourneyDefinition, status model.VersionStatus) (model.JourneyVersion, error)
}

func runImport(cmd *cobra.Command, args []string) error {
	recorridoID, _ := cmd.Flags().GetString("recorrido-id")
	publish, _ := cmd.Flags().GetBool("publish")
	out := cmd.OutOrStdout()

	def, report, err := loadDefinition(args[0])
	if err != nil {
		return err
	}
	if !report.OK() {
		_ = printReport(out, report, "text")
		return exitError(exitValidation, "refusing to import an invalid definition")
	}
	if recorridoID == "" {
		recorridoID = def.ID
	}
	if err := model.ValidateRecorridoID(recorridoID); err != nil {
		return exitError(exitValidation, "%v", err)
	}
	if def.ID != "" && def.ID != recorridoID {
		return exitError(exitValidation, "definition id %q does not match --recorrido-id %q", def.ID, recorridoID)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	status := model.VersionDraft
	if publish {
		status = model.VersionPublished
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	versions, closeStore, err := openVersions(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	v, err := versions.Insert(ctx, recorridoID, def, status)
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}
	fmt.Fprintf(out, "imported %s version %d (%s)\n", recorridoID, v.Version, v.Status)
	return nil
}

func openVersions(ctx context.Context, cfg config.Config) (versionInserter, func(), error) {
	if cfg.Store == config.StoreSQLite {
		st, err := sqlitestore.Open(ctx, cfg.SQLiteDSN, slog.Default())
		if err != nil {
			return nil, nil, err
		}
		return st.Versions(), func() { _ = st.Close() }, nil
	}
	// Publishing notifies running servers; no LISTEN connection is needed here.
	db, err := storage.New(ctx, cfg.DatabaseURL, "", slog.Default())
	if err != nil {
		return nil, nil, err
	}
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		db.Close(ctx)
		return nil, nil, err
	}
	return db.Versions(), func() { db.Close(context.Background()) }, nil
}
