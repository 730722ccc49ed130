package extract

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/qtrc-extract/internal/bundle"
)

// encodeEntry builds one on-disk 22-byte tree entry.
func encodeEntry(nameOffset int, flags uint16, a, b uint32) []byte {
	out := make([]byte, bundle.EntrySize)
	putBE32(out[0:4], uint32(nameOffset))
	putBE16(out[4:6], flags)
	putBE32(out[6:10], a)
	putBE32(out[10:14], b)
	return out
}

func putBE16(b []byte, v uint16) { b[0] = byte(v >> 8); b[1] = byte(v) }

func putBE32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func TestWalkWritesUncompressedFile(t *testing.T) {
	// Root (node 0) is a directory named "a" with one child (node 1), a
	// file named "b" at data_offset 0. Blob: [00 00 00 05 | "hello"].
	root := encodeEntry(0 /* name "a" */, 2, 1, 1)
	child := encodeEntry(1 /* name "b" */, 0, 0, 0)

	var tree []byte
	tree = append(tree, root...)
	tree = append(tree, child...)
	tree = append(tree, encodeEntry(0, 0, 0, 0)...) // trailing entry, matches parse_tree's margin requirement

	blobBytes := append([]byte{0, 0, 0, 5}, []byte("hello")...)

	names := map[int]string{0: "a", 1: "b"}

	fs := afero.NewMemMapFs()
	err := Walk(fs, "/out", names, blobBytes, tree, 0, 1)
	require.NoError(t, err)

	content, err := afero.ReadFile(fs, "/out/a/b")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))
}

func TestWalkInflatesCompressedFile(t *testing.T) {
	root := encodeEntry(0, 2, 1, 1)
	child := encodeEntry(1, 1 /* compressed */, 0, 0)

	var tree []byte
	tree = append(tree, root...)
	tree = append(tree, child...)
	tree = append(tree, encodeEntry(0, 0, 0, 0)...)

	// zlib("hello") = 78 9c cb 48 cd c9 c9 07 00 06 2c 02 15, prefixed
	// with a 4-byte uncompressed-size hint (unused by decompression).
	zlibHello := []byte{0x78, 0x9c, 0xcb, 0x48, 0xcd, 0xc9, 0xc9, 0x07, 0x00, 0x06, 0x2c, 0x02, 0x15}
	blobPayload := append([]byte{0, 0, 0, 5}, zlibHello...)
	blobBytes := append([]byte{0, 0, 0, byte(len(blobPayload))}, blobPayload...)

	names := map[int]string{0: "a", 1: "b"}

	fs := afero.NewMemMapFs()
	err := Walk(fs, "/out", names, blobBytes, tree, 0, 1)
	require.NoError(t, err)

	content, err := afero.ReadFile(fs, "/out/a/b")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))
}

func TestWalkRejectsPathTraversal(t *testing.T) {
	root := encodeEntry(0 /* name ".." */, 0, 0, 0)

	var tree []byte
	tree = append(tree, root...)
	tree = append(tree, encodeEntry(0, 0, 0, 0)...)

	names := map[int]string{0: ".."}

	fs := afero.NewMemMapFs()
	err := Walk(fs, "/out", names, nil, tree, 0, 1)
	assert.ErrorIs(t, err, bundle.ErrUnsafePath)
}

func TestWalkSkipsEntryWithMissingNameOffset(t *testing.T) {
	// The root is a directory with two children: the first has a
	// name_offset absent from names (defensive case — the validator
	// should have ruled this out already), the second is a well-formed
	// file. The missing entry must be skipped, not abort the whole walk.
	root := encodeEntry(0 /* name "a" */, 2, 1, 2)
	missing := encodeEntry(99 /* not in names */, 0, 0, 0)
	child := encodeEntry(1 /* name "b" */, 0, 0, 0)

	var tree []byte
	tree = append(tree, root...)
	tree = append(tree, missing...)
	tree = append(tree, child...)
	tree = append(tree, encodeEntry(0, 0, 0, 0)...)

	blobBytes := append([]byte{0, 0, 0, 5}, []byte("hello")...)
	names := map[int]string{0: "a", 1: "b"}

	fs := afero.NewMemMapFs()
	err := Walk(fs, "/out", names, blobBytes, tree, 0, 1)
	require.NoError(t, err)

	content, err := afero.ReadFile(fs, "/out/a/b")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))
}

func TestWalkAllowsEmptyRootName(t *testing.T) {
	// The implicit bundle root is conventionally named "": its
	// directory entry should extract straight into the output root
	// rather than rejecting or nesting an extra level.
	root := encodeEntry(0 /* name "" */, 2, 1, 1)
	child := encodeEntry(1 /* name "b" */, 0, 0, 0)

	var tree []byte
	tree = append(tree, root...)
	tree = append(tree, child...)
	tree = append(tree, encodeEntry(0, 0, 0, 0)...)

	blobBytes := append([]byte{0, 0, 0, 5}, []byte("hello")...)
	names := map[int]string{0: "", 1: "b"}

	fs := afero.NewMemMapFs()
	err := Walk(fs, "/out", names, blobBytes, tree, 0, 1)
	require.NoError(t, err)

	content, err := afero.ReadFile(fs, "/out/b")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))
}
