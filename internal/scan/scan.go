package scan

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/harishkarthiktk/dupFinder/internal/hash"
	"github.com/harishkarthiktk/dupFinder/internal/store"
)

// Config carries everything one scan cycle needs. Zero values for
// ChunkSize, BatchSize and Workers are replaced with defaults by New.
type Config struct {
	Roots        []string
	ExcludePaths []string
	ExcludeNames []string
	ExcludeExts  []string
	Algorithm    string
	ChunkSize    int
	BatchSize    int
	Workers      int
	Prune        bool
}

// Summary is the outcome of one completed scan cycle.
type Summary struct {
	Start         time.Time     `json:"start"`
	Duration      time.Duration `json:"duration"`
	Walked        int64         `json:"walked"`
	Unchanged     int64         `json:"unchanged"`
	Refreshed     int64         `json:"refreshed"`
	Pruned        int64         `json:"pruned"`
	Pending       int64         `json:"pending"`
	TierOneHashed int64         `json:"tier1_hashed"`
	FullHashed    int64         `json:"full_hashed"`
	SkippedUnique int64         `json:"skipped_unique"`
	BytesHashed   int64         `json:"bytes_hashed"`
	Errors        int64         `json:"errors"`
}

// Scanner runs one cycle against a store: walk the roots, decide per
// file whether stored digests survive, compute tier-1 digests for
// whatever is pending, escalate colliding signatures to full digests,
// and finally advance the watermark.
type Scanner struct {
	store    *store.Store
	cfg      Config
	hasher   *hash.Hasher
	rules    walkRules
	progress *Progress
	report   ErrorReporter
}

// New validates cfg and returns a ready Scanner. An unknown algorithm
// name fails here, before any filesystem or database work.
func New(st *store.Store, cfg Config, progress *Progress, report ErrorReporter) (*Scanner, error) {
	alg, err := hash.ParseAlgorithm(cfg.Algorithm)
	if err != nil {
		return nil, err
	}
	hasher, err := hash.New(alg, cfg.ChunkSize)
	if err != nil {
		return nil, err
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = store.DefaultBatchSize
	}
	if progress == nil {
		progress = &Progress{}
	}
	base := report
	if base == nil {
		base = func(path, stage, errMsg string) {
			slog.Warn("scan error", "path", path, "stage", stage, "error", errMsg)
		}
	}
	s := &Scanner{
		store:    st,
		cfg:      cfg,
		hasher:   hasher,
		rules:    newWalkRules(cfg.ExcludePaths, cfg.ExcludeNames, cfg.ExcludeExts),
		progress: progress,
	}
	s.report = func(path, stage, errMsg string) {
		s.progress.Errors.Add(1)
		base(path, stage, errMsg)
	}
	return s, nil
}

// Progress exposes the live counters of a running scan.
func (s *Scanner) Progress() *Progress { return s.progress }

// Run executes one cycle. On success the watermark advances to the
// completion time. On error or cancellation every batch committed so
// far stays in the store and the watermark is left alone, so the next
// run resumes instead of repeating finished work.
func (s *Scanner) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	slog.Info("scan started", "roots", s.cfg.Roots, "algorithm", string(s.hasher.Algorithm()))

	if err := s.syncAlgorithm(ctx); err != nil {
		return nil, err
	}
	watermark, err := s.store.Watermark(ctx)
	if err != nil {
		return nil, err
	}
	index, err := s.loadIndex(ctx)
	if err != nil {
		return nil, err
	}
	roots, err := normalizeRoots(s.cfg.Roots)
	if err != nil {
		return nil, err
	}

	seen, err := s.walkPhase(ctx, roots, index, watermark)
	if err != nil {
		return nil, fmt.Errorf("walk: %w", err)
	}
	if s.cfg.Prune {
		if err := s.prunePhase(ctx, roots, index, seen); err != nil {
			return nil, fmt.Errorf("prune: %w", err)
		}
	}

	pending, err := s.store.Pending(ctx)
	if err != nil {
		return nil, err
	}
	s.progress.Pending.Store(int64(len(pending)))

	pending, err = s.tierOnePhase(ctx, pending)
	if err != nil {
		return nil, fmt.Errorf("tier1: %w", err)
	}
	if err := s.fullPhase(ctx, pending); err != nil {
		return nil, fmt.Errorf("full: %w", err)
	}

	if err := s.store.SetWatermark(ctx, time.Now()); err != nil {
		return nil, fmt.Errorf("advance watermark: %w", err)
	}

	sum := s.summary(start)
	slog.Info("scan finished",
		"walked", sum.Walked,
		"unchanged", sum.Unchanged,
		"tier1_hashed", sum.TierOneHashed,
		"full_hashed", sum.FullHashed,
		"skipped_unique", sum.SkippedUnique,
		"errors", sum.Errors,
		"duration", sum.Duration.Round(time.Millisecond))
	return sum, nil
}

// syncAlgorithm invalidates every stored digest when the configured
// algorithm differs from the one that produced them. Digests from
// different algorithms must never be compared.
func (s *Scanner) syncAlgorithm(ctx context.Context) error {
	stored, err := s.store.Algorithm(ctx)
	if err != nil {
		return err
	}
	current := string(s.hasher.Algorithm())
	if stored == current {
		return nil
	}
	if stored != "" {
		slog.Warn("hash algorithm changed, clearing stored digests", "from", stored, "to", current)
		if err := s.store.ClearHashes(ctx); err != nil {
			return err
		}
	}
	return s.store.SetAlgorithm(ctx, current)
}

// loadIndex snapshots the store so walk-phase policy decisions run
// against memory instead of one query per file.
func (s *Scanner) loadIndex(ctx context.Context) (map[string]*store.FileRecord, error) {
	records, err := s.store.All(ctx)
	if err != nil {
		return nil, err
	}
	index := make(map[string]*store.FileRecord, len(records))
	for i := range records {
		index[records[i].AbsolutePath] = &records[i]
	}
	return index, nil
}

// walkPhase discovers files under the roots sequentially and streams
// observations to the store in batches. It returns the set of paths
// seen this cycle for the prune phase.
func (s *Scanner) walkPhase(ctx context.Context, roots []string, index map[string]*store.FileRecord, watermark time.Time) (map[string]struct{}, error) {
	seen := make(map[string]struct{}, len(index))
	scanDate := time.Now()
	buf := make([]store.Observation, 0, s.cfg.BatchSize)

	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		// Fresh context: observations already collected are committed
		// even when the scan context is cancelled between batches.
		if err := s.store.ObserveBatch(context.Background(), buf); err != nil {
			return err
		}
		buf = buf[:0]
		return nil
	}

	var walkErr error
	for _, root := range roots {
		walkErr = walk(ctx, root, s.rules, s.report, func(fi FileInfo) error {
			if _, dup := seen[fi.Path]; dup {
				return nil
			}
			seen[fi.Path] = struct{}{}
			s.progress.Walked.Add(1)

			rec := index[fi.Path]
			keep := metaEqual(rec, fi.Size, fi.MTime)
			fresh := Unchanged(rec, fi.Size, fi.MTime, watermark)
			if keep && rec.FullHash != "" {
				s.progress.Unchanged.Add(1)
			}
			if fresh {
				s.progress.Refreshed.Add(1)
			}

			buf = append(buf, store.Observation{
				AbsolutePath: fi.Path,
				Filename:     filepath.Base(fi.Path),
				FileSize:     fi.Size,
				ModifiedTime: fi.MTime,
				ScanDate:     scanDate,
				// The fast path needs matching metadata on top of the
				// policy verdict: a regressed mtime must go through the
				// full upsert so its digests get cleared.
				Refresh: fresh && keep,
			})
			if len(buf) >= s.cfg.BatchSize {
				return flush()
			}
			return nil
		})
		if walkErr != nil {
			break
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if walkErr != nil {
		return nil, walkErr
	}
	return seen, nil
}

// prunePhase deletes records under the scanned roots whose paths the
// walk did not see. Records outside the roots are left alone.
func (s *Scanner) prunePhase(ctx context.Context, roots []string, index map[string]*store.FileRecord, seen map[string]struct{}) error {
	var gone []string
	for path := range index {
		if _, ok := seen[path]; ok {
			continue
		}
		for _, root := range roots {
			if underPath(path, root) {
				gone = append(gone, path)
				break
			}
		}
	}
	if len(gone) == 0 {
		return nil
	}
	if err := s.store.Remove(ctx, gone); err != nil {
		return err
	}
	s.progress.Pruned.Add(int64(len(gone)))
	slog.Info("pruned vanished files", "count", len(gone))
	return nil
}

// tierOnePhase computes missing tier-1 digests on a bounded worker
// pool and persists them in batches. It returns the pending set with
// digests filled in; files that could not be read drop out and are
// retried next cycle.
func (s *Scanner) tierOnePhase(ctx context.Context, pending []store.PendingFile) ([]store.PendingFile, error) {
	var todo []store.PendingFile
	for _, p := range pending {
		if p.TierOne == "" {
			todo = append(todo, p)
		}
	}

	got := make(map[int64]string, len(todo))
	if len(todo) > 0 {
		results := make(chan store.TierOneUpdate, s.cfg.BatchSize)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.Workers)
		go func() {
			defer close(results)
			for _, p := range todo {
				p := p
				if gctx.Err() != nil {
					break
				}
				g.Go(func() error {
					digest, err := s.hasher.TierOne(p.AbsolutePath)
					if err != nil {
						s.report(p.AbsolutePath, "tier1", err.Error())
						return nil
					}
					s.progress.TierOneHashed.Add(1)
					s.progress.BytesHashed.Add(min(p.FileSize, hash.TierOneBytes))
					select {
					case results <- store.TierOneUpdate{ID: p.ID, TierOne: digest}:
					case <-gctx.Done():
					}
					return nil
				})
			}
			g.Wait()
		}()

		err := flushBatches(results, s.cfg.BatchSize, func(fctx context.Context, batch []store.TierOneUpdate) error {
			if err := s.store.SetTierOneBatch(fctx, batch); err != nil {
				return err
			}
			for _, u := range batch {
				got[u.ID] = u.TierOne
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]store.PendingFile, 0, len(pending))
	for _, p := range pending {
		if p.TierOne == "" {
			digest, ok := got[p.ID]
			if !ok {
				continue
			}
			p.TierOne = digest
		}
		out = append(out, p)
	}
	return out, nil
}

// fullPhase confirms full digests for pending files whose signature
// collides with another pending file or with an already confirmed
// record. Unique signatures stay unconfirmed and cost no extra reads.
func (s *Scanner) fullPhase(ctx context.Context, pending []store.PendingFile) error {
	groups := make(map[store.Signature][]store.PendingFile)
	for _, p := range pending {
		sig := store.Signature{Size: p.FileSize, TierOne: p.TierOne}
		groups[sig] = append(groups[sig], p)
	}

	var candidates, lone []store.PendingFile
	for _, members := range groups {
		if len(members) >= 2 {
			candidates = append(candidates, members...)
		} else {
			lone = append(lone, members[0])
		}
	}

	// A lone pending signature still needs confirmation when the store
	// holds a confirmed record with the same size and tier-1 digest.
	if len(lone) > 0 {
		var sizes []int64
		distinct := make(map[int64]struct{}, len(lone))
		for _, p := range lone {
			if _, ok := distinct[p.FileSize]; !ok {
				distinct[p.FileSize] = struct{}{}
				sizes = append(sizes, p.FileSize)
			}
		}
		confirmed, err := s.store.ConfirmedSignatures(ctx, sizes)
		if err != nil {
			return err
		}
		for _, p := range lone {
			if confirmed[store.Signature{Size: p.FileSize, TierOne: p.TierOne}] {
				candidates = append(candidates, p)
			} else {
				s.progress.SkippedUnique.Add(1)
			}
		}
	}
	if len(candidates) == 0 {
		return ctx.Err()
	}

	results := make(chan store.HashUpdate, s.cfg.BatchSize)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	go func() {
		defer close(results)
		for _, p := range candidates {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				update, ok := s.confirm(p)
				if !ok {
					return nil
				}
				select {
				case results <- update:
				case <-gctx.Done():
				}
				return nil
			})
		}
		g.Wait()
	}()

	err := flushBatches(results, s.cfg.BatchSize, func(fctx context.Context, batch []store.HashUpdate) error {
		return s.store.SetHashBatch(fctx, batch)
	})
	if err != nil {
		return err
	}
	return ctx.Err()
}

// confirm computes the full digest for one candidate. Files no larger
// than the tier-1 prefix reuse the tier-1 digest without another read.
func (s *Scanner) confirm(p store.PendingFile) (store.HashUpdate, bool) {
	if p.FileSize <= hash.TierOneBytes {
		s.progress.FullHashed.Add(1)
		return store.HashUpdate{ID: p.ID, TierOne: p.TierOne, Full: p.TierOne}, true
	}
	tier1, full, err := s.hasher.Tiered(p.AbsolutePath, true)
	if err != nil {
		s.report(p.AbsolutePath, "full", err.Error())
		return store.HashUpdate{}, false
	}
	s.progress.FullHashed.Add(1)
	s.progress.BytesHashed.Add(p.FileSize)
	return store.HashUpdate{ID: p.ID, TierOne: tier1, Full: full}, true
}

func (s *Scanner) summary(start time.Time) *Summary {
	p := s.progress
	return &Summary{
		Start:         start,
		Duration:      time.Since(start),
		Walked:        p.Walked.Load(),
		Unchanged:     p.Unchanged.Load(),
		Refreshed:     p.Refreshed.Load(),
		Pruned:        p.Pruned.Load(),
		Pending:       p.Pending.Load(),
		TierOneHashed: p.TierOneHashed.Load(),
		FullHashed:    p.FullHashed.Load(),
		SkippedUnique: p.SkippedUnique.Load(),
		BytesHashed:   p.BytesHashed.Load(),
		Errors:        p.Errors.Load(),
	}
}

// flushBatches drains results and writes them through write in chunks.
// Writes run on a fresh context so chunks already assembled commit even
// when the scan context is cancelled mid-phase.
func flushBatches[T any](results <-chan T, batchSize int, write func(context.Context, []T) error) error {
	buf := make([]T, 0, batchSize)
	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		if err := write(context.Background(), buf); err != nil {
			return err
		}
		buf = buf[:0]
		return nil
	}
	for r := range results {
		buf = append(buf, r)
		if len(buf) >= batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

// normalizeRoots absolutizes the configured roots and drops any nested
// inside another so overlapping configurations walk each file once.
func normalizeRoots(roots []string) ([]string, error) {
	if len(roots) == 0 {
		return nil, fmt.Errorf("no scan roots configured")
	}
	abs := make([]string, 0, len(roots))
	for _, r := range roots {
		a, err := filepath.Abs(r)
		if err != nil {
			return nil, fmt.Errorf("resolve root %q: %w", r, err)
		}
		abs = append(abs, filepath.Clean(a))
	}
	sort.Strings(abs)
	var out []string
	for _, r := range abs {
		nested := false
		for _, kept := range out {
			if underPath(r, kept) {
				nested = true
				break
			}
		}
		if !nested {
			out = append(out, r)
		}
	}
	return out, nil
}
