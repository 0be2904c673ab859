package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/harishkarthiktk/dupFinder/internal/dupes"
	"github.com/harishkarthiktk/dupFinder/internal/hash"
	"github.com/harishkarthiktk/dupFinder/internal/mover"
)

func newMoveCmd(a *app) *cobra.Command {
	var (
		csvPath string
		fromDB  bool
		destDir string
		keep    string
		dryRun  bool
	)

	cmd := &cobra.Command{
		Use:   "move",
		Short: "Consolidate duplicates by moving redundant copies",
		Long: `Consolidate duplicate files with copy-verify-delete moves.

With --csv, a dupeguru results export drives the plan: each (group,
filename) cluster moves the copy in the shortest folder to the longest
one. With --from-db, duplicate groups from the last scan drive it: one
member of each group is kept in place and the rest land under --dest
with their directory tree preserved.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (csvPath != "") == fromDB {
				return errors.New("exactly one of --csv or --from-db is required")
			}
			if fromDB && destDir == "" {
				return errors.New("--from-db requires --dest")
			}
			if err := a.ensureConfig(); err != nil {
				return err
			}

			var tasks []mover.Task
			switch {
			case csvPath != "":
				f, err := os.Open(csvPath)
				if err != nil {
					return fmt.Errorf("open csv: %w", err)
				}
				tasks, err = mover.PlanFromCSV(f)
				f.Close()
				if err != nil {
					return err
				}
			case fromDB:
				policy, err := mover.ParseKeepPolicy(keep)
				if err != nil {
					return err
				}
				st, closeStore, err := a.openStore()
				if err != nil {
					return err
				}
				records, err := st.All(cmd.Context())
				closeStore()
				if err != nil {
					return fmt.Errorf("load records: %w", err)
				}
				tasks = mover.PlanFromGroups(dupes.Groups(records), policy, destDir)
			}

			if len(tasks) == 0 {
				fmt.Println("nothing to move")
				return nil
			}

			algorithm, err := hash.ParseAlgorithm(a.cfg.Algorithm)
			if err != nil {
				return err
			}
			hasher, err := hash.New(algorithm, a.cfg.ChunkSize)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, err := mover.Execute(ctx, tasks, mover.Options{
				Workers: a.cfg.Workers,
				DryRun:  dryRun,
				Hasher:  hasher,
			})
			if err != nil {
				return err
			}

			if dryRun {
				fmt.Printf("dry run: %d moves planned\n", res.Planned)
				return nil
			}
			fmt.Printf("moved %d files (%s), %d deduplicated, %d conflicts renamed, %d skipped, %d empty dirs removed\n",
				res.Moved, humanize.IBytes(uint64(res.BytesMoved)),
				res.Deduped, res.Conflicts, res.Skipped, res.CleanedDirs)
			if res.Errors > 0 {
				return fmt.Errorf("%d moves failed, see log", res.Errors)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&csvPath, "csv", "", "dupeguru results export to execute")
	cmd.Flags().BoolVar(&fromDB, "from-db", false, "plan moves from the duplicate groups in the database")
	cmd.Flags().StringVar(&destDir, "dest", "", "destination directory for --from-db moves")
	cmd.Flags().StringVar(&keep, "keep", "shortest", "which group member stays in place: shortest or longest path")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log the plan without moving anything")
	return cmd
}
