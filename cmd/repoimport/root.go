package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/JonMunkholm/repoimport/internal/config"
	"github.com/JonMunkholm/repoimport/internal/core"
	"github.com/JonMunkholm/repoimport/internal/logging"
	"github.com/JonMunkholm/repoimport/internal/sheet"
	"github.com/JonMunkholm/repoimport/internal/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// importOptions holds the command line flags.
type importOptions struct {
	repositoryID int64
	file         string
	mapping      string
	userID       int64
	preview      bool
	importID     string
	envFile      string
	overwrite    bool
}

// newRootCmd builds the repoimport command. run performs the import once
// the flags are parsed; main passes runImport.
func newRootCmd(run func(ctx context.Context, cmd *cobra.Command, opts importOptions) error) *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "repoimport",
		Short: "Import a spreadsheet into an inventory repository",
		Long: `repoimport reads a CSV, TSV or XLSX file and creates or updates the records
of one repository. Each row runs in its own transaction; rows that fail are
reported and skipped. With --preview nothing is written.

The mapping lists one marker per spreadsheet column: 0 for the record id,
-1 for the record name, a column id for a repository column, or ~ to skip.

Example:
  repoimport --repository 1 --file items.xlsx --mapping map.yaml --user 7 --preview
  repoimport --repository 1 --file items.csv --mapping "[0, -1, 12]" --user 7`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.repositoryID <= 0 {
				return fmt.Errorf("--repository must be a positive id")
			}
			if opts.userID <= 0 {
				return fmt.Errorf("--user must be a positive id")
			}
			return run(cmd.Context(), cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.Int64VarP(&opts.repositoryID, "repository", "r", 0, "repository id to import into")
	flags.StringVarP(&opts.file, "file", "f", "", "spreadsheet to import (.csv, .tsv, .xlsx)")
	flags.StringVarP(&opts.mapping, "mapping", "m", "", "YAML mapping file or inline YAML list/map")
	flags.Int64VarP(&opts.userID, "user", "u", 0, "id of the user the import acts as")
	flags.BoolVar(&opts.preview, "preview", false, "report what would change without writing")
	flags.StringVar(&opts.importID, "import-id", "", "import id used in logs (generated when empty)")
	flags.StringVar(&opts.envFile, "env-file", "", "dotenv file with the configuration (default: .env if present)")
	flags.BoolVar(&opts.overwrite, "overwrite-with-empty", false, "clear stored cells when the spreadsheet cell is empty")

	for _, name := range []string{"repository", "file", "mapping", "user"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

// runImport loads the configuration, connects to the database and imports
// the file. The report is printed as JSON even when the import fails.
func runImport(ctx context.Context, cmd *cobra.Command, opts importOptions) error {
	cfg, err := loadConfig(opts.envFile)
	if err != nil {
		return err
	}
	logger := logging.New(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	mapping, err := loadMapping(opts.mapping)
	if err != nil {
		return err
	}

	rows, err := sheet.Open(opts.file, cfg.Import.MaxFileSize)
	if err != nil {
		return fmt.Errorf("read spreadsheet: %w", err)
	}
	if limit := cfg.Import.MaxRows; limit > 0 && len(rows)-1 > limit {
		return fmt.Errorf("file has %d data rows, the limit is %d", len(rows)-1, limit)
	}

	pool, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()
	if cfg.Database.Migrate {
		if err := store.Migrate(ctx, pool); err != nil {
			return err
		}
	}

	service := core.NewService(store.New(pool, cfg.Import.IDPrefix), cfg.Import.ServiceConfig())
	req := core.ImportRequest{
		ImportID:     opts.importID,
		RepositoryID: opts.repositoryID,
		Mapping:      mapping,
		Rows:         rows,
		ActorID:      opts.userID,
		Preview:      opts.preview,
	}
	if cmd.Flags().Changed("overwrite-with-empty") {
		req.OverwriteWithEmpty = &opts.overwrite
	}

	report, importErr := service.Import(ctx, req)
	if report != nil {
		if err := printReport(cmd, report); err != nil {
			return err
		}
	}
	if importErr != nil {
		slog.Error("import failed", "error", importErr)
		return core.NewUserError(importErr)
	}
	return nil
}

// loadConfig reads path when given, otherwise the environment plus an
// optional .env in the working directory.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read .env: %w", err)
	}
	return config.Load()
}

func printReport(cmd *cobra.Command, report *core.BatchReport) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
