package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/harishkarthiktk/dupFinder/internal/scan"
)

func newScanCmd(a *app) *cobra.Command {
	var prune bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Walk the configured paths and refresh the duplicate index",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.ensureConfig(); err != nil {
				return err
			}
			st, closeStore, err := a.openStore()
			if err != nil {
				return err
			}
			defer closeStore()

			cfg := a.scanConfig()
			cfg.Prune = prune

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			progress := &scan.Progress{}
			scanner, err := scan.New(st, cfg, progress, nil)
			if err != nil {
				return err
			}

			var stopTicker func()
			if isatty.IsTerminal(os.Stdout.Fd()) {
				stopTicker = startProgressTicker(progress)
			}
			sum, err := scanner.Run(ctx)
			if stopTicker != nil {
				stopTicker()
			}
			if err != nil {
				return err
			}

			printScanSummary(sum)
			return nil
		},
	}
	cmd.Flags().BoolVar(&prune, "prune", false, "remove records for files that no longer exist under the scan paths")
	return cmd
}

// startProgressTicker redraws a single status line once a second until
// the returned stop func is called.
func startProgressTicker(p *scan.Progress) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(time.Second)
		defer t.Stop()
		for {
			select {
			case <-done:
				fmt.Fprint(os.Stdout, "\r\033[K")
				return
			case <-t.C:
				s := p.Snapshot()
				fmt.Fprintf(os.Stdout, "\r\033[Kwalked %s  unchanged %s  tier1 %s  full %s  read %s  errors %d",
					humanize.Comma(s.Walked),
					humanize.Comma(s.Unchanged),
					humanize.Comma(s.TierOneHashed),
					humanize.Comma(s.FullHashed),
					humanize.IBytes(uint64(s.BytesHashed)),
					s.Errors,
				)
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func printScanSummary(sum *scan.Summary) {
	fmt.Printf("scan finished in %s\n", sum.Duration.Round(time.Millisecond))
	fmt.Printf("  walked    %s files (%s unchanged, %s refreshed, %s pruned)\n",
		humanize.Comma(sum.Walked), humanize.Comma(sum.Unchanged),
		humanize.Comma(sum.Refreshed), humanize.Comma(sum.Pruned))
	fmt.Printf("  hashed    %s tier-1, %s full (%s read)\n",
		humanize.Comma(sum.TierOneHashed), humanize.Comma(sum.FullHashed),
		humanize.IBytes(uint64(sum.BytesHashed)))
	fmt.Printf("  skipped   %s unique sizes\n", humanize.Comma(sum.SkippedUnique))
	if sum.Errors > 0 {
		fmt.Printf("  errors    %s (see log)\n", humanize.Comma(sum.Errors))
	}
}
