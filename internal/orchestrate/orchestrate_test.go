package orchestrate

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/qtrc-extract/internal/bundle"
	"github.com/deploymenttheory/qtrc-extract/internal/config"
	"github.com/deploymenttheory/qtrc-extract/internal/qhash"
	"github.com/deploymenttheory/qtrc-extract/internal/tree"
)

func putBE16(b []byte, v uint16) { b[0] = byte(v >> 8); b[1] = byte(v) }

func putBE32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func encodeName(s string) []byte {
	runes := []rune(s)
	out := make([]byte, 0, 6+2*len(runes))
	out = append(out, byte(len(runes)>>8), byte(len(runes)))
	hash := qhash.Hash(s)
	out = append(out, byte(hash>>24), byte(hash>>16), byte(hash>>8), byte(hash))
	for _, r := range runes {
		out = append(out, byte(r>>8), byte(r))
	}
	return out
}

func encodeTreeEntry(nameOffset int, flags uint16, a, b uint32) []byte {
	out := make([]byte, 22)
	putBE32(out[0:4], uint32(nameOffset))
	putBE16(out[4:6], flags)
	putBE32(out[6:10], a)
	putBE32(out[10:14], b)
	return out
}

func encodeBlobRecord(payload string) []byte {
	out := make([]byte, 4)
	putBE32(out, uint32(len(payload)))
	return append(out, []byte(payload)...)
}

// buildSyntheticBundle lays out a minimal but complete name table, tree,
// and S1-discoverable blob region in one buffer, mirroring the shape
// original_source/src/main.rs recovers: a directory root ("aaa") with
// three file children ("bbb", "ccc", "ddd") whose data_offset
// chain validates against their blob sizes.
func buildSyntheticBundle() []byte {
	var data []byte
	data = append(data, make([]byte, 8)...) // leading junk

	data = append(data, encodeName("aaa")...)
	data = append(data, encodeName("bbb")...)
	data = append(data, encodeName("ccc")...)
	data = append(data, encodeName("ddd")...)
	data = append(data, 0, 0) // terminator

	for len(data)%8 != 0 {
		data = append(data, 0)
	}

	root := encodeTreeEntry(0, 2 /* directory */, 1 /* child_node_id */, 3 /* child_count */)
	child1 := encodeTreeEntry(12 /* "bbb" */, 0, 0, 0)
	child2 := encodeTreeEntry(24 /* "ccc" */, 0, 0, 9)
	child3 := encodeTreeEntry(36 /* "ddd" */, 0, 0, 19)
	padding := encodeTreeEntry(0, 0, 0, 0)
	data = append(data, root...)
	data = append(data, child1...)
	data = append(data, child2...)
	data = append(data, child3...)
	data = append(data, padding...)

	data = append(data, encodeBlobRecord("hello")...)    // data_offset 0, size 5
	data = append(data, encodeBlobRecord("world!")...)   // data_offset 9, size 6
	data = append(data, encodeBlobRecord("abcdefgh")...) // data_offset 19, size 8

	return data
}

func TestRunExtractsSyntheticBundleViaS1(t *testing.T) {
	data := buildSyntheticBundle()

	cfg := &config.Config{Quiet: true}
	log := config.NewLogger(cfg)

	fs := afero.NewMemMapFs()
	stats, err := Run(fs, "/out", data, log, 0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.TreesWritten.Load(), int64(1))

	content, err := afero.ReadFile(fs, "/out/aaa/bbb")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))
}

func TestRunWithNoNameTablesReportsErrNoNameTables(t *testing.T) {
	cfg := &config.Config{Quiet: true}
	log := config.NewLogger(cfg)

	fs := afero.NewMemMapFs()
	_, err := Run(fs, "/out", make([]byte, 16), log, 0)
	assert.ErrorIs(t, err, bundle.ErrNoNameTables)
}

func TestRunHonorsMaxCandidatesWithoutBreakingExtraction(t *testing.T) {
	data := buildSyntheticBundle()

	cfg := &config.Config{Quiet: true}
	log := config.NewLogger(cfg)

	fs := afero.NewMemMapFs()
	stats, err := Run(fs, "/out", data, log, 1)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.TreesWritten.Load(), int64(1))
}

func TestSortedTableStartsIsDeterministicAscendingOrder(t *testing.T) {
	tables := map[int]bundle.NameTable{
		900: {Start: 900},
		10:  {Start: 10},
		500: {Start: 500},
	}

	for i := 0; i < 5; i++ {
		assert.Equal(t, []int{10, 500, 900}, sortedTableStarts(tables))
	}
}

func TestCapCandidatesTruncatesToMax(t *testing.T) {
	offsets := []int{1, 2, 3, 4, 5}
	assert.Equal(t, []int{1, 2}, capCandidates(offsets, 2))
	assert.Equal(t, offsets, capCandidates(offsets, 0))
	assert.Equal(t, offsets, capCandidates(offsets, 10))
}

func TestProximityIsZeroWhenRangesOverlap(t *testing.T) {
	assert.Equal(t, 0, proximity(10, 20, 15, 25))
}

func TestProximityIsGapWhenRangesDisjoint(t *testing.T) {
	assert.Equal(t, 5, proximity(30, 40, 10, 25))
	assert.Equal(t, 5, proximity(10, 25, 30, 40))
}

func TestRankByProximityToRangeOrdersAscending(t *testing.T) {
	trees := []tree.Tree{
		{Offset: 1000, End: 1100}, // far
		{Offset: 50, End: 60},     // close
		{Offset: 200, End: 210},   // medium
	}
	rankByProximityToRange(trees, 0, 100)

	assert.Equal(t, 50, trees[0].Offset)
	assert.Equal(t, 200, trees[1].Offset)
	assert.Equal(t, 1000, trees[2].Offset)
}

func TestRankOffsetsByProximityOrdersAscending(t *testing.T) {
	offsets := []int{900, 10, 500}
	rankOffsetsByProximity(offsets, 0, 20)

	assert.Equal(t, []int{10, 500, 900}, offsets)
}
