package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/circdesk/internal/cli"
	"github.com/Veraticus/circdesk/internal/config"
	"github.com/Veraticus/circdesk/internal/sheets"
	"github.com/Veraticus/circdesk/internal/storage"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Prepare the local outbox database and the workbook",
		Long: `Bring the local outbox database up to the current schema.

With --workbook, also create the Google Sheets workbook (when no
spreadsheet id is configured) and add any missing collection tabs.`,
		RunE: runMigrate,
	}
	cmd.Flags().Bool("status", false, "show the schema version without changing anything")
	cmd.Flags().Bool("workbook", false, "also set up the Google Sheets workbook")
	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	status, _ := cmd.Flags().GetBool("status")
	workbook, _ := cmd.Flags().GetBool("workbook")

	dbPath := config.DatabasePath()
	db, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if status {
		version, err := db.SchemaVersion(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, cli.RenderBox("Outbox Database", fmt.Sprintf(
			"Path:     %s\nVersion:  %d\nLatest:   %d", dbPath, version, storage.ExpectedSchemaVersion)))
		return nil
	}

	slog.Info("Running database migrations", "database", dbPath)
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	fmt.Fprintln(out, cli.FormatSuccess("Outbox database is up to date"))

	if !workbook {
		return nil
	}

	sheetsConfig, err := config.LoadSheetsConfig()
	if err != nil {
		return err
	}
	gw, err := sheets.NewGateway(ctx, *sheetsConfig, slog.Default())
	if err != nil {
		return err
	}
	id, err := gw.EnsureWorkbook(ctx)
	if err != nil {
		return err
	}
	if sheetsConfig.SpreadsheetID == "" {
		viper.Set("sheets.spreadsheet_id", id)
		if err := saveConfig(); err != nil {
			slog.Warn("Failed to save spreadsheet id", "error", err)
			fmt.Fprintln(out, cli.FormatWarning(fmt.Sprintf("Add sheets.spreadsheet_id: %s to config.yaml", id)))
		}
	}
	fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Workbook %s is ready", id)))
	return nil
}
