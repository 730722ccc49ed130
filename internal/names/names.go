// Package names implements the heuristic name-table scanner (spec.md
// §4.2): candidate discovery by the "00 XX" ASCII-graphic UTF-16BE
// heuristic, followed by a strict field-by-field parse of each
// candidate into a NameTable.
package names

import (
	"sort"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/deploymenttheory/qtrc-extract/internal/bundle"
	"github.com/deploymenttheory/qtrc-extract/internal/qhash"
)

var utf16be = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)

// Scan runs candidate discovery at both byte parities and fully parses
// each distinct candidate, returning a map keyed by absolute table start
// offset. Overlapping candidates (a later candidate offset that falls
// inside an already-parsed table) are skipped, and empty parses are
// discarded — both per spec.md §4.2.
func Scan(data []byte) map[int]bundle.NameTable {
	offsets := candidateOffsets(data)

	tables := make(map[int]bundle.NameTable)
	covered := make([][2]int, 0)

	for _, offset := range offsets {
		if inCoveredRange(covered, offset) {
			continue
		}

		table, ok := parseAt(data, offset)
		if !ok {
			continue
		}

		covered = append(covered, [2]int{table.Start, table.End})
		tables[table.Start] = table
	}

	return tables
}

// candidateOffsets runs the two-parity scan and returns the union of
// candidate table-start offsets in ascending order, deduplicated.
func candidateOffsets(data []byte) []int {
	set := map[int]struct{}{}
	scanParity(set, data, 0)
	scanParity(set, data, 1)

	offsets := make([]int, 0, len(set))
	for o := range set {
		offsets = append(offsets, o)
	}
	sort.Ints(offsets)

	return offsets
}

// scanParity walks data in non-overlapping 2-byte pairs starting at
// offset 6+delta, accumulating a run of ASCII-graphic UTF-16BE code
// units and, whenever the run breaks, checking whether the 6 bytes
// preceding the run start look like a valid (size, hash) header for the
// text that was just accumulated.
func scanParity(offsets map[int]struct{}, data []byte, delta int) {
	if len(data) < 6+delta {
		return
	}

	pairs := data[6+delta:]

	var s []rune
	start := 6 + delta

	flush := func(breakOffset int) {
		defer func() {
			s = s[:0]
			start = breakOffset
		}()

		if len(s) == 0 {
			return
		}
		if start < 6 {
			return
		}

		size := int(be16(data[start-6:]))
		if size == 0 || len(s) < size {
			return
		}

		candidate := string(s[:size])
		hash := be32(data[start-4:])

		if qhash.Hash(candidate) == hash {
			offsets[start-6] = struct{}{}
		}
	}

	n := len(pairs) / 2 * 2
	for i := 0; i < n; i += 2 {
		offset := i + 6 + delta
		hi, lo := pairs[i], pairs[i+1]

		if hi == 0 && isASCIIGraphic(lo) {
			s = append(s, rune(lo))
			continue
		}

		flush(offset + 2)
	}
}

func isASCIIGraphic(b byte) bool {
	return b >= 0x21 && b <= 0x7e
}

// parseAt performs the strict field-by-field parse of successive name
// entries starting at offset, stopping at the first size==0 terminator,
// a short read, a UTF-16 decode failure, or a hash mismatch.
func parseAt(data []byte, offset int) (bundle.NameTable, bool) {
	start := offset
	end := offset

	names := make(map[int]string)

	for offset < len(data) {
		if offset+2 > len(data) {
			break
		}
		size := int(be16(data[offset:]))
		offset += 2

		if size == 0 {
			break
		}

		if offset+4 > len(data) {
			break
		}
		hash := be32(data[offset:])
		offset += 4

		textLen := 2 * size
		if offset+textLen > len(data) {
			break
		}

		text, ok := decodeUTF16BE(data[offset : offset+textLen])
		if !ok {
			break
		}
		offset += textLen

		if qhash.Hash(text) != hash {
			break
		}

		names[end-start] = text
		end = offset
	}

	if end == start {
		return bundle.NameTable{}, false
	}

	return bundle.NameTable{Start: start, End: end, Names: names}, true
}

func decodeUTF16BE(b []byte) (string, bool) {
	out, _, err := transform.Bytes(utf16be.NewDecoder(), b)
	if err != nil {
		return "", false
	}
	return string(out), true
}

func inCoveredRange(covered [][2]int, offset int) bool {
	for _, r := range covered {
		if offset >= r[0] && offset < r[1] {
			return true
		}
	}
	return false
}

func be16(b []byte) uint16 { return uint16(b[0])<<8 | uint16(b[1]) }

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
