package main

import (
	"fmt"
	"io"
	"time"

	"github.com/alexjbarnes/folder-mirror/internal/state"
	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newCacheCmd() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or reset the remote inventory cache",
	}

	cacheCmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "Show cached remote object counts",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withInventory(func(inv *state.Inventory) error {
					entries, err := inv.All()
					if err != nil {
						return fmt.Errorf("reading inventory: %w", err)
					}

					writeCacheTable(cmd.OutOrStdout(), entries, time.Now())

					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "invalidate <remote>...",
			Short: "Drop cached counts so the next check recounts the remote",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withInventory(func(inv *state.Inventory) error {
					for _, target := range args {
						if err := inv.Invalidate(target); err != nil {
							return fmt.Errorf("invalidating %s: %w", target, err)
						}

						fmt.Fprintf(cmd.OutOrStdout(), "invalidated %s\n", target)
					}

					return nil
				})
			},
		},
	)

	return cacheCmd
}

func withInventory(fn func(inv *state.Inventory) error) error {
	cfg, _, err := setup()
	if err != nil {
		return err
	}

	appState, err := openState(cfg)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer appState.Close()

	return fn(appState.Inventory())
}

func writeCacheTable(w io.Writer, entries []state.Entry, now time.Time) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "inventory cache is empty")
		return
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Remote", "Files", "Updated", "Status"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, e := range entries {
		count := "-"
		status := fmt.Sprintf("corrupt (%q), will recount", e.Raw)

		if e.Valid {
			count = humanize.Comma(e.Count)
			status = "ok"
		}

		updated := "never"
		if !e.LastUpdated.IsZero() {
			updated = humanize.RelTime(e.LastUpdated, now, "ago", "from now")
		}

		table.Append([]string{e.Target, count, updated, status})
	}

	table.Render()
}
