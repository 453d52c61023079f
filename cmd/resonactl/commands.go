package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Harshitk-cp/resona/internal/backend"
	"github.com/Harshitk-cp/resona/internal/buildconfig"
	"github.com/Harshitk-cp/resona/internal/config"
	"github.com/Harshitk-cp/resona/internal/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// openBackend is replaced in tests.
var openBackend = func(ctx context.Context) (*backend.Backend, error) {
	return backend.Open(ctx, backend.ConfigFromEnv(), zap.NewNop())
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "resonactl",
		Short:         "Operate a Resona coherence store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.Load()
		},
	}
	root.AddCommand(newMigrateCmd(), newCheckCmd(), newExportCmd(), newVersionCmd())
	return root
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()

			if err := b.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema applied (%s)\n", b.Driver)
			return nil
		},
	}
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the store is reachable and has every required table",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()

			if err := b.Stores.Health.Ping(cmd.Context()); err != nil {
				return fmt.Errorf("store unreachable: %w", err)
			}
			missing, err := b.Stores.Health.MissingTables(cmd.Context())
			if err != nil {
				return err
			}
			if len(missing) > 0 {
				return fmt.Errorf("missing tables: %s", strings.Join(missing, ", "))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok (%s)\n", b.Driver)
			return nil
		},
	}
}

type exportFlags struct {
	sessions        []string
	start           string
	end             string
	format          string
	out             string
	noAnonymize     bool
	includePayloads bool
}

func newExportCmd() *cobra.Command {
	var f exportFlags
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a research export to a directory",
		Long: `Writes a research export of the selected sessions.

Examples:
  resonactl export --out ./export
  resonactl export --format csv --session s1 --session s2 --out ./export
  resonactl export --start 2026-03-01T00:00:00Z --no-anonymize --out ./export`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, f)
		},
	}
	cmd.Flags().StringSliceVar(&f.sessions, "session", nil, "session id to include (repeatable; default all)")
	cmd.Flags().StringVar(&f.start, "start", "", "include records at or after this RFC 3339 time")
	cmd.Flags().StringVar(&f.end, "end", "", "include records at or before this RFC 3339 time")
	cmd.Flags().StringVar(&f.format, "format", "json", "json, jsonl or csv")
	cmd.Flags().StringVarP(&f.out, "out", "o", ".", "output directory")
	cmd.Flags().BoolVar(&f.noAnonymize, "no-anonymize", false, "keep raw session and actor ids")
	cmd.Flags().BoolVar(&f.includePayloads, "include-payloads", false, "keep event payloads")
	return cmd
}

func runExport(cmd *cobra.Command, f exportFlags) error {
	opts := service.ExportOptions{
		SessionIDs:      f.sessions,
		Anonymize:       !f.noAnonymize,
		IncludePayloads: f.includePayloads,
		Format:          service.ExportFormat(f.format),
	}
	var err error
	if opts.Start, err = parseTime(f.start); err != nil {
		return fmt.Errorf("--start: %w", err)
	}
	if opts.End, err = parseTime(f.end); err != nil {
		return fmt.Errorf("--end: %w", err)
	}

	b, err := openBackend(cmd.Context())
	if err != nil {
		return err
	}
	defer b.Close()

	agg, err := service.NewAggregator(config.CoherenceAggregator(), config.CoherenceSignalKey())
	if err != nil {
		return err
	}
	svc := service.NewExportService(b.Stores.Export, agg.Name(), config.ReturnEpsilon(), config.ExportSalt(), zap.NewNop())

	out, err := svc.Export(cmd.Context(), opts)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(f.out, 0o755); err != nil {
		return err
	}
	for _, file := range out.Files {
		path := filepath.Join(f.out, file.Name)
		if err := os.WriteFile(path, file.Data, 0o644); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
	}

	summary, _ := json.Marshal(map[string]int{
		"sessions":        out.Metadata.SessionCount,
		"events":          out.Metadata.EventCount,
		"checkpoints":     out.Metadata.CheckpointCount,
		"return_mappings": out.Metadata.ReturnMappingCount,
		"incidents":       out.Metadata.IncidentCount,
	})
	fmt.Fprintf(cmd.OutOrStdout(), "export %s: %s\n", out.Metadata.ExportID, summary)
	return nil
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), buildconfig.Current())
			return nil
		},
	}
}
