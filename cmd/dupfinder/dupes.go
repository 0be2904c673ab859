package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/harishkarthiktk/dupFinder/internal/dupes"
)

func newDupesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "dupes",
		Short: "List duplicate groups from the last scan",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.ensureConfig(); err != nil {
				return err
			}
			st, closeStore, err := a.openStore()
			if err != nil {
				return err
			}
			defer closeStore()

			records, err := st.All(cmd.Context())
			if err != nil {
				return fmt.Errorf("load records: %w", err)
			}

			groups := dupes.Groups(records)
			stats := dupes.Summarize(records)
			if len(groups) == 0 {
				fmt.Println("no duplicates found")
				return nil
			}

			fmt.Printf("%d groups, %d duplicate files, %s wasted\n\n",
				stats.Groups, stats.Duplicates, humanize.IBytes(uint64(stats.WastedBytes)))
			for _, g := range groups {
				fmt.Printf("%s  %d files x %s  (%s wasted)\n",
					shortHash(g.Hash), len(g.Paths),
					humanize.IBytes(uint64(g.Size)), humanize.IBytes(uint64(g.Wasted)))
				for _, p := range g.Paths {
					fmt.Printf("  %s\n", p)
				}
				fmt.Println()
			}
			if stats.Pending > 0 {
				fmt.Printf("%d files are still awaiting full hashes; run a scan to settle them\n", stats.Pending)
			}
			return nil
		},
	}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
