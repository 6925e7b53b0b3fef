package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/alexjbarnes/folder-mirror/internal/config"
	"github.com/alexjbarnes/folder-mirror/internal/guard"
	"github.com/alexjbarnes/folder-mirror/internal/mirror"
	"github.com/alexjbarnes/folder-mirror/internal/state"
	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

type checkRow struct {
	Mapping  config.FolderMapping
	Decision guard.Decision
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run the deletion guard once for every mapping without syncing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCheck(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func runCheck(ctx context.Context, out io.Writer) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	mappings, err := config.LoadMappings(cfg.MappingFile, logger)
	if err != nil {
		return err
	}

	appState, err := openState(cfg)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer appState.Close()

	inv := appState.Inventory()
	rows := make([]checkRow, 0, len(mappings))

	for _, m := range mappings {
		rows = append(rows, checkRow{Mapping: m, Decision: checkMapping(ctx, cfg, inv, m, logger)})
	}

	writeCheckTable(out, rows, cfg.DeleteThreshold)

	return nil
}

func checkMapping(ctx context.Context, cfg *config.Config, inv *state.Inventory, m config.FolderMapping, logger *slog.Logger) guard.Decision {
	logger = logger.With(slog.String("folder", m.LocalPath), slog.String("remote", m.RemoteTarget))

	target, err := mirror.Open(ctx, m.RemoteTarget, mirror.Options{
		Retries:    cfg.SyncRetries,
		Timeout:    cfg.SyncTimeout,
		RclonePath: cfg.RclonePath,
		S3:         cfg.S3Options(),
		Logger:     logger,
	})
	if err != nil {
		return guard.Decision{Verdict: guard.Blocked, Reason: "cannot open remote", Err: err}
	}

	return guard.New(target, inv, cfg.DeleteThreshold, logger).Evaluate(ctx, m.LocalPath, m.RemoteTarget)
}

func writeCheckTable(w io.Writer, rows []checkRow, threshold float64) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Folder", "Remote", "Verdict", "Deletes", "Remote Files", "Reason"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, r := range rows {
		d := r.Decision

		reason := d.Reason
		if d.Err != nil {
			reason += ": " + d.Err.Error()
		}

		total := "-"
		if d.Total > 0 || d.Verdict == guard.Proceed {
			total = humanize.Comma(d.Total)
		}

		table.Append([]string{
			r.Mapping.LocalPath,
			r.Mapping.RemoteTarget,
			d.Verdict.String(),
			strconv.Itoa(d.Deleted),
			total,
			reason,
		})
	}

	table.Render()

	fmt.Fprintf(w, "\ndelete threshold: %.0f%%\n", threshold*100)
}
