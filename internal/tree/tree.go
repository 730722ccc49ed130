// Package tree implements the recursive tree validator (spec.md §4.3):
// given a candidate base offset into the executable, it checks whether
// treating that offset as a 22-byte-entry array produces a structurally
// consistent directory tree whose every name_offset lies in an
// accompanying name table, then searches the whole buffer for such
// candidates.
package tree

import (
	"sort"

	"github.com/deploymenttheory/qtrc-extract/internal/bundle"
)

// Tree is one accepted candidate: its base offset, the inclusive byte
// range it occupies, and the count of valid (name_offset, flags)
// entries it exercises. FindTrees accepts a candidate only when that
// count is at least the name table's size.
type Tree struct {
	Offset     int
	End        int
	ValidCount int
}

// visited tracks node-id ranges already consumed during one parse_tree
// walk, rejecting any re-entry (cycle or overlap) per spec.md §4.3 step 3.
type visited struct {
	ranges [][2]int
}

func (v *visited) overlaps(lo, hi int) bool {
	for _, r := range v.ranges {
		if lo < r[1] && hi > r[0] {
			return true
		}
	}
	return false
}

func (v *visited) insert(lo, hi int) {
	v.ranges = append(v.ranges, [2]int{lo, hi})
}

// FindTrees scans bytes for candidate tree roots, returning every
// offset that validates against nameOffsets. Per spec.md §4.3, the scan
// stride is 8 bytes and proceeds in descending order — trees tend to
// sit late in the file, so a descending scan tends to find the real
// tree first, and accepted candidates are returned in that same
// (descending) order.
func FindTrees(nameOffsets map[int]struct{}, bytes []byte) []Tree {
	var found []Tree

	if len(bytes) == 0 {
		return found
	}

	last := ((len(bytes) - 1) / 8) * 8
	for offset := last; offset >= 0; offset -= 8 {
		v := &visited{}
		count := parseTree(nameOffsets, v, bytes, 0, 1, offset)
		if count == 0 {
			continue
		}
		if count < len(nameOffsets) {
			continue
		}

		found = append(found, Tree{
			Offset:     offset,
			End:        offset + lastVisitedEnd(v)*bundle.EntrySize,
			ValidCount: count,
		})
	}

	return found
}

// parseTree validates the node range [nodeID, nodeID+count) of the
// entry array starting at base, per spec.md §4.3's numbered checks.
// Returns 0 on any rejection, otherwise the number of valid entries
// this call and its recursive directory descents accounted for.
func parseTree(nameOffsets map[int]struct{}, v *visited, data []byte, nodeID, count, base int) int {
	entries := (len(data) - base) / bundle.EntrySize
	if entries <= nodeID {
		return 0
	}
	if entries-nodeID <= count {
		return 0
	}

	if v.overlaps(nodeID, nodeID+count) {
		return 0
	}
	v.insert(nodeID, nodeID+count)

	result := 0

	for i := 0; i < count; i++ {
		start := base + (nodeID+i)*bundle.EntrySize
		entry, err := bundle.ParseEntry(data[start : start+bundle.EntrySize])
		if err != nil {
			return 0
		}

		if _, ok := nameOffsets[entry.NameOffset]; !ok {
			return 0
		}
		if entry.Flags > bundle.MaxValidFlags {
			return 0
		}

		if entry.IsDir() {
			sub := parseTree(nameOffsets, v, data, entry.ChildNodeID, entry.ChildCount, base)
			if sub == 0 {
				return 0
			}
			result += sub
		}

		result++
	}

	return result
}

// lastVisitedEnd returns the highest node-id range end seen during a
// parse_tree walk, used to compute a tree's total byte span.
func lastVisitedEnd(v *visited) int {
	max := 0
	for _, r := range v.ranges {
		if r[1] > max {
			max = r[1]
		}
	}
	return max
}

// CollectDataOffsets walks the validated node range starting at
// (nodeID, count) within the entry array based at base and returns the
// ascending, deduplicated set of file-entry data_offset values — the
// input the blob locator's S1 size-chain strategy needs. Unlike
// parseTree this does not re-validate structure; it is only ever called
// on a range FindTrees already accepted.
func CollectDataOffsets(data []byte, nodeID, count, base int) []int {
	set := map[int]struct{}{}
	collect(data, nodeID, count, base, set)

	offsets := make([]int, 0, len(set))
	for o := range set {
		offsets = append(offsets, o)
	}
	sort.Ints(offsets)

	return offsets
}

func collect(data []byte, nodeID, count, base int, set map[int]struct{}) {
	entries := (len(data) - base) / bundle.EntrySize
	if entries <= nodeID || entries-nodeID <= count {
		return
	}

	for i := 0; i < count; i++ {
		start := base + (nodeID+i)*bundle.EntrySize
		entry, err := bundle.ParseEntry(data[start : start+bundle.EntrySize])
		if err != nil {
			continue
		}

		if entry.IsDir() {
			collect(data, entry.ChildNodeID, entry.ChildCount, base, set)
			continue
		}

		set[entry.DataOffset] = struct{}{}
	}
}
