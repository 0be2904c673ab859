package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/harishkarthiktk/dupFinder/internal/report"
)

func newReportCmd(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Write an HTML duplicate report",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.ensureConfig(); err != nil {
				return err
			}
			st, closeStore, err := a.openStore()
			if err != nil {
				return err
			}
			defer closeStore()

			ctx := cmd.Context()
			records, err := st.All(ctx)
			if err != nil {
				return fmt.Errorf("load records: %w", err)
			}
			algorithm, err := st.Algorithm(ctx)
			if err != nil {
				return fmt.Errorf("read algorithm: %w", err)
			}

			path := output
			if path == "" {
				path = a.cfg.ReportPath
			}
			f, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("create report file: %w", err)
			}

			data := report.Build(records, algorithm, time.Now())
			if err := report.Write(f, data); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}

			fmt.Printf("report written to %s (%d duplicate groups)\n", path, len(data.Groups))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (default from config)")
	return cmd
}
