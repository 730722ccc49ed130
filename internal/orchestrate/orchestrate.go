// Package orchestrate composes the name scanner, tree validator, blob
// locator, and tree extractor into the end-to-end recovery pipeline
// (spec.md §4.6): for every candidate name table, rank candidate trees
// and blob bases by proximity and try extraction until one candidate
// set succeeds all the way through.
package orchestrate

import (
	"fmt"
	"os"
	"sort"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/deploymenttheory/qtrc-extract/internal/blob"
	"github.com/deploymenttheory/qtrc-extract/internal/bundle"
	"github.com/deploymenttheory/qtrc-extract/internal/config"
	"github.com/deploymenttheory/qtrc-extract/internal/execmap"
	"github.com/deploymenttheory/qtrc-extract/internal/extract"
	"github.com/deploymenttheory/qtrc-extract/internal/names"
	"github.com/deploymenttheory/qtrc-extract/internal/tree"
)

// Stats summarizes what a run produced, for the CLI's final report.
type Stats struct {
	NameTablesSeen int
	TreesWritten   *atomic.Int64
	BytesWritten   *atomic.Int64
}

func newStats() Stats {
	return Stats{TreesWritten: atomic.NewInt64(0), BytesWritten: atomic.NewInt64(0)}
}

// Run executes the full pipeline over data, writing recovered files
// under root on fs. A failing candidate never stops the run: it moves
// on to the next one (spec.md §7). When nothing at all was extracted it
// returns an error: bundle.ErrNoNameTables if the scan found no name
// table, otherwise every table's discovery failure aggregated with
// multierr, so the caller gets one combined diagnostic instead of
// silence. It also returns an error if the executable mapping cannot
// be parsed, before any name table is scanned.
//
// maxCandidates bounds how many name tables, trees per table, and blob
// bases per tree are attempted, guarding against pathological scans of
// very large or adversarial inputs; a value <= 0 means unbounded.
func Run(fs afero.Fs, root string, data []byte, log *config.Logger, maxCandidates int) (Stats, error) {
	stats := newStats()
	runID := uuid.New().String()[:8]

	mapping, err := execmap.Parse(data)
	if err != nil {
		return stats, fmt.Errorf("qtrc[%s]: parse executable mapping: %w", runID, err)
	}

	tables := names.Scan(data)
	stats.NameTablesSeen = len(tables)

	starts := capCandidates(sortedTableStarts(tables), maxCandidates)

	var errs error
	extracted := false

	for _, start := range starts {
		table := tables[start]
		log.Infof("[%s] Found set of names at 0x%x-0x%x...", runID, table.Start, table.End)

		nameOffsets := make(map[int]struct{}, len(table.Names))
		for offset := range table.Names {
			nameOffsets[offset] = struct{}{}
		}

		trees := tree.FindTrees(nameOffsets, data)
		if len(trees) == 0 {
			errs = multierr.Append(errs, fmt.Errorf("qtrc[%s]: name table at 0x%x: %w", runID, start, bundle.ErrNoValidTree))
			continue
		}

		rankByProximityToRange(trees, table.Start, table.End)
		trees = capTreeCandidates(trees, maxCandidates)

		if tryTrees(fs, root, data, mapping, table, trees, log, runID, &stats, maxCandidates) {
			extracted = true
			continue
		}

		errs = multierr.Append(errs, fmt.Errorf("qtrc[%s]: name table at 0x%x: %w", runID, start, bundle.ErrNoBlobRegion))
	}

	if !extracted && len(tables) == 0 {
		return stats, bundle.ErrNoNameTables
	}
	if !extracted {
		return stats, errs
	}

	return stats, nil
}

// tryTrees attempts extraction for each candidate tree in ascending
// proximity order, returning true on the first that fully succeeds.
func tryTrees(fs afero.Fs, root string, data []byte, mapping *execmap.Mapping, table bundle.NameTable, trees []tree.Tree, log *config.Logger, runID string, stats *Stats, maxCandidates int) bool {
	for _, t := range trees {
		log.Infof("[%s] Found file tree at 0x%x-0x%x...", runID, t.Offset, t.End)

		dataOffsets := tree.CollectDataOffsets(data, 0, 1, t.Offset)
		blobOffsets := locateBlobs(data, mapping, t.Offset, table.Start, dataOffsets)

		if len(blobOffsets) == 0 {
			if offset, ok := blob.PaddingFallback(data, table.End); ok {
				blobOffsets = []int{offset}
			}
		}

		rankOffsetsByProximity(blobOffsets, table.Start, table.End)
		blobOffsets = capCandidates(blobOffsets, maxCandidates)

		for _, base := range blobOffsets {
			log.Infof("[%s] Found data blobs at 0x%x...", runID, base)
			log.Infof("[%s] Extracting into %s...", runID, root)

			if base >= len(data) {
				continue
			}

			before := treeBytes(fs, root)
			err := extract.Walk(fs, root, table.Names, data[base:], data[t.Offset:], 0, 1)
			if err != nil {
				log.Debugf("[%s] extraction at blob base 0x%x failed: %v", runID, base, err)
				continue
			}

			stats.TreesWritten.Inc()
			stats.BytesWritten.Add(treeBytes(fs, root) - before)
			return true
		}
	}

	return false
}

// locateBlobs runs S1, then S2, then S3 (System V), then S3
// (Microsoft), returning the first nonempty result, per spec.md §4.6
// step 3a.
func locateBlobs(data []byte, mapping *execmap.Mapping, treeOffset, nameOffset int, dataOffsets []int) []int {
	if found := blob.S1(dataOffsets, data); len(found) > 0 {
		return found
	}
	if found := blob.S2(data, mapping, treeOffset, nameOffset); len(found) > 0 {
		return found
	}
	if found := blob.S3(data, mapping, treeOffset, nameOffset, false); len(found) > 0 {
		return found
	}
	if found := blob.S3(data, mapping, treeOffset, nameOffset, true); len(found) > 0 {
		return found
	}
	return nil
}

// rankByProximityToRange sorts trees in place by distance to
// [rangeStart, rangeEnd), per spec.md §4.6 step 2.
func rankByProximityToRange(trees []tree.Tree, rangeStart, rangeEnd int) {
	sort.Slice(trees, func(i, j int) bool {
		return proximity(trees[i].Offset, trees[i].End, rangeStart, rangeEnd) <
			proximity(trees[j].Offset, trees[j].End, rangeStart, rangeEnd)
	})
}

// rankOffsetsByProximity sorts single-point blob-base candidates by
// distance to [rangeStart, rangeEnd), per spec.md §4.6 step 3b.
func rankOffsetsByProximity(offsets []int, rangeStart, rangeEnd int) {
	sort.Slice(offsets, func(i, j int) bool {
		return proximity(offsets[i], offsets[i], rangeStart, rangeEnd) <
			proximity(offsets[j], offsets[j], rangeStart, rangeEnd)
	})
}

// sortedTableStarts returns tables' keys in ascending order, so a run
// over multiple name tables visits them in the same order every time
// given identical input bytes — ranging a map directly would make
// narration order, multierr aggregation order, and first-success
// short-circuit order vary run to run (spec.md §5), matching the
// ordered BTreeMap iteration original_source/src/main.rs relies on.
func sortedTableStarts(tables map[int]bundle.NameTable) []int {
	starts := make([]int, 0, len(tables))
	for start := range tables {
		starts = append(starts, start)
	}
	sort.Ints(starts)
	return starts
}

// capCandidates truncates offsets to at most max entries, leaving it
// unbounded when max <= 0. Blob bases are ranked by proximity first, so
// there truncation drops the least promising candidates; name-table
// starts arrive in ascending offset order, so there it keeps the
// lowest-offset tables.
func capCandidates(offsets []int, max int) []int {
	if max > 0 && len(offsets) > max {
		return offsets[:max]
	}
	return offsets
}

// capTreeCandidates is capCandidates for []tree.Tree.
func capTreeCandidates(trees []tree.Tree, max int) []tree.Tree {
	if max > 0 && len(trees) > max {
		return trees[:max]
	}
	return trees
}

// proximity implements spec.md §4.6 step 2's distance metric: zero iff
// the ranges overlap, else the gap between them.
func proximity(aStart, aEnd, bStart, bEnd int) int {
	d := aStart - bEnd
	if e := bStart - aEnd; e > d {
		d = e
	}
	if d < 0 {
		d = 0
	}
	return d
}

// treeBytes sums the size of every regular file already written under
// root, used to report incremental bytes written by a successful
// extraction attempt.
func treeBytes(fs afero.Fs, root string) int64 {
	var total int64
	_ = afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total
}
