// Package blob implements the three (plus one supplemental fallback)
// data-blob location strategies of spec.md §4.4: a size-chain match
// over the validated tree's data offsets, and two instruction-scan
// strategies that exploit the compiler-emitted references to the
// name-table, tree, and blob bases in nearby code.
package blob

import (
	"sort"

	"github.com/deploymenttheory/qtrc-extract/internal/execmap"
)

// Register-select bytes for the S3 lea rip+disp32 scan, keyed by
// calling convention (spec.md §4.4, Strategy S3).
const (
	sysvTreeReg = 0x35 // RSI
	sysvNameReg = 0x15 // RDX
	sysvBlobReg = 0x0d // RCX

	winTreeReg = 0x15 // RDX
	winNameReg = 0x05 // R8
	winBlobReg = 0x0d // R9
)

// S1 is the size-chain strategy: given the sorted, deduplicated
// data_offset values collected from a validated tree, it computes the
// expected blob-size deltas and scans every 4-byte window of raw as a
// candidate chain start, returning every start offset whose size chain
// matches in full. A chain of fewer than two offsets has no deltas to
// confirm and always yields no candidates.
func S1(dataOffsets []int, raw []byte) []int {
	if len(dataOffsets) < 2 {
		return nil
	}

	deltas := make([]int, len(dataOffsets)-1)
	for i := 0; i < len(deltas); i++ {
		deltas[i] = dataOffsets[i+1] - dataOffsets[i] - 4
	}

	first := deltas[0]

	var found []int
	for start := 0; start+4 <= len(raw); start++ {
		size := int(be32(raw[start:]))
		if size != first {
			continue
		}

		offset := start
		ok := true
		for _, delta := range deltas[1:] {
			offset += size + 4
			if offset+4 > len(raw) {
				ok = false
				break
			}
			size = int(be32(raw[offset:]))
			if size != delta {
				ok = false
				break
			}
		}

		if ok {
			found = append(found, start)
		}
	}

	return found
}

// candidate is a resolved blob-base offset paired with its proximity
// score (distance to the nearest anchor), as ranked by rankByScore.
type candidate struct {
	offset int
	score  int
}

// S2 is the push-imm32 scan: it finds push instructions whose immediate
// resolves (via mapping) to the tree or name-table base, then finds the
// non-anchor push instructions nearest those anchors by instruction
// position, proximity-scoring their resolved targets as blob-base
// candidates. Returns candidate file offsets sorted ascending by
// proximity (best guess first), deduplicated by offset.
func S2(raw []byte, mapping *execmap.Mapping, treeOffset, nameOffset int) []int {
	var anchors []int

	for pos := 0; pos+5 <= len(raw); pos++ {
		if raw[pos] != 0x68 {
			continue
		}

		target, ok := resolvePush(raw, pos, mapping)
		if !ok {
			continue
		}
		if target == treeOffset || target == nameOffset {
			anchors = append(anchors, pos)
		}
	}

	if len(anchors) == 0 {
		return nil
	}

	best := map[int]int{}
	for pos := 0; pos+5 <= len(raw); pos++ {
		if raw[pos] != 0x68 {
			continue
		}

		target, ok := resolvePush(raw, pos, mapping)
		if !ok {
			continue
		}

		if isAnchor(anchors, pos) {
			continue
		}

		score, found := nearest(anchors, pos)
		if !found {
			continue
		}

		if old, seen := best[target]; !seen || score < old {
			best[target] = score
		}
	}

	return rankByScore(best)
}

func resolvePush(raw []byte, pos int, mapping *execmap.Mapping) (int, bool) {
	imm := int(le32(raw[pos+1:]))
	return mapping.RVAToFile(imm)
}

// S3 is the lea rip+disp32 scan: symmetric to S2 but for x86-64
// RIP-relative addressing, with register-select bytes depending on the
// calling convention (isWin selects Microsoft x64 over System V
// AMD64). Unlike S2, a non-anchor lea instruction that lands exactly on
// an anchor position is accepted at that anchor rather than skipped.
func S3(raw []byte, mapping *execmap.Mapping, treeOffset, nameOffset int, isWin bool) []int {
	treeReg, nameReg, blobReg := byte(sysvTreeReg), byte(sysvNameReg), byte(sysvBlobReg)
	if isWin {
		treeReg, nameReg, blobReg = byte(winTreeReg), byte(winNameReg), byte(winBlobReg)
	}

	var anchors []int

	for pos := 0; pos+6 <= len(raw); pos++ {
		if raw[pos] != 0x8d {
			continue
		}

		modrm := raw[pos+1]
		target, ok := resolveLea(raw, pos, mapping)
		if !ok {
			continue
		}

		if modrm == treeReg && target == treeOffset {
			anchors = append(anchors, pos)
		} else if modrm == nameReg && target == nameOffset {
			anchors = append(anchors, pos)
		}
	}

	if len(anchors) == 0 {
		return nil
	}

	best := map[int]int{}
	for pos := 0; pos+6 <= len(raw); pos++ {
		if raw[pos] != 0x8d || raw[pos+1] != blobReg {
			continue
		}

		target, ok := resolveLea(raw, pos, mapping)
		if !ok {
			continue
		}

		score, _ := nearest(anchors, pos)

		if old, seen := best[target]; !seen || score < old {
			best[target] = score
		}
	}

	return rankByScore(best)
}

func resolveLea(raw []byte, pos int, mapping *execmap.Mapping) (int, bool) {
	disp := int(int32(le32(raw[pos+2:])))
	return mapping.RVAToFile(pos + disp + 6)
}

// PaddingFallback is the supplemented S0 strategy (not in spec.md; see
// the original packer's own orchestrator): when none of S1/S2/S3 find a
// candidate, align the end of the name range up to 8 bytes and skip
// forward over all-zero padding, offering whatever lies beyond as a
// last-resort blob base guess.
func PaddingFallback(raw []byte, nameRangeEnd int) (int, bool) {
	offset := (nameRangeEnd + 7) &^ 7

	for offset+8 <= len(raw) && isZero(raw[offset:offset+8]) {
		offset += 8
	}

	if offset+8 > len(raw) {
		return 0, false
	}

	return offset, true
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func isAnchor(anchors []int, pos int) bool {
	for _, a := range anchors {
		if a == pos {
			return true
		}
	}
	return false
}

func nearest(anchors []int, pos int) (int, bool) {
	if len(anchors) == 0 {
		return 0, false
	}

	best := abs(anchors[0] - pos)
	for _, a := range anchors[1:] {
		if d := abs(a - pos); d < best {
			best = d
		}
	}
	return best, true
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func rankByScore(scored map[int]int) []int {
	cands := make([]candidate, 0, len(scored))
	for offset, score := range scored {
		cands = append(cands, candidate{offset: offset, score: score})
	}

	sort.Slice(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score < cands[j].score
		}
		return cands[i].offset < cands[j].offset
	})

	offsets := make([]int, len(cands))
	for i, c := range cands {
		offsets[i] = c.offset
	}
	return offsets
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
