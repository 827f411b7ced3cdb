package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/sslauro/stratum/journal"
	"github.com/sslauro/stratum/logging"
)

// BootsCmd lists recorded bring-ups.
type BootsCmd struct {
	Last   int    `name:"last" short:"n" help:"Show only the most recent N boots (0 for all)." default:"10"`
	Stages bool   `name:"stages" help:"Include the stages of each boot."`
	Output string `name:"output" short:"o" help:"Output format." enum:"table,json" default:"table"`
}

// BootRecord is one boot with its stages, as printed by BootsCmd.
type BootRecord struct {
	journal.Boot
	Stages []journal.Entry `json:",omitempty"`
}

// Run executes the boots command.
func (c *BootsCmd) Run(cli *CLI) error {
	cfg, err := cli.LoadConfig()
	if err != nil {
		return err
	}
	dirs, err := cli.RuntimeDirs(cfg)
	if err != nil {
		return err
	}
	path := cfg.Runtime.JournalPath(dirs)
	if path == "" {
		return fmt.Errorf("boot journal is disabled")
	}

	ctx := context.Background()
	store, err := journal.OpenHistory(ctx, path, logging.Discard())
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := c.records(ctx, store)
	if err != nil {
		return err
	}
	return c.print(os.Stdout, records)
}

func (c *BootsCmd) records(ctx context.Context, store *journal.Store) ([]BootRecord, error) {
	boots, err := store.Boots(ctx)
	if err != nil {
		return nil, fmt.Errorf("list boots: %w", err)
	}
	if c.Last > 0 && len(boots) > c.Last {
		boots = boots[len(boots)-c.Last:]
	}

	out := make([]BootRecord, 0, len(boots))
	for _, b := range boots {
		rec := BootRecord{Boot: b}
		if c.Stages {
			if rec.Stages, err = store.Entries(ctx, b.ID); err != nil {
				return nil, fmt.Errorf("list stages of %s: %w", b.ID, err)
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func (c *BootsCmd) print(w io.Writer, records []BootRecord) error {
	if c.Output == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BOOT\tSTARTED\tEXIT\tDIGEST")
	for _, r := range records {
		exit := "-"
		if r.Finished {
			exit = fmt.Sprint(r.ExitCode)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.StartedAt.Format(time.RFC3339), exit, shortDigest(r.ConfigDigest))
		for _, e := range r.Stages {
			fmt.Fprintf(tw, "  %d %s\t%s\t%s\t\n", e.Seq, e.Stage, e.Outcome, e.Detail)
		}
	}
	return tw.Flush()
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	if d == "" {
		return "-"
	}
	return d
}
