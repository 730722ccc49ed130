// Package extract implements the tree extractor (spec.md §4.5): walks a
// validated tree, mirroring it onto a filesystem abstraction, inflating
// zlib-compressed file payloads along the way.
package extract

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/deploymenttheory/qtrc-extract/internal/bundle"
)

// Walk extracts the tree rooted at (nodeID, count) within treeBytes onto
// fs under root, resolving entry names from names and file payloads
// from blobBytes (already sliced to the discovered blob base). It
// mirrors the teacher's fail-fast style: an unrecoverable error aborts
// the whole walk, letting the orchestrator fall back to the next
// candidate — except an entry whose name_offset isn't in names, which
// is skipped rather than treated as fatal (spec.md §4.5: the validator
// should have guaranteed every name_offset resolves, so a miss here is
// defensive, not a reason to discard the rest of the tree).
func Walk(fs afero.Fs, root string, names map[int]string, blobBytes, treeBytes []byte, nodeID, count int) error {
	entries := len(treeBytes) / bundle.EntrySize
	if entries <= nodeID || entries-nodeID <= count {
		return nil
	}

	for i := 0; i < count; i++ {
		start := (nodeID + i) * bundle.EntrySize
		entry, err := bundle.ParseEntry(treeBytes[start : start+bundle.EntrySize])
		if err != nil {
			return fmt.Errorf("qtrc: read tree entry %d: %w", nodeID+i, err)
		}

		name, ok := names[entry.NameOffset]
		if !ok {
			continue
		}

		if err := validateComponent(name); err != nil {
			return fmt.Errorf("%w: %q", bundle.ErrUnsafePath, name)
		}

		path := filepath.Join(root, name)

		if entry.IsDir() {
			if err := fs.MkdirAll(path, 0o755); err != nil {
				return fmt.Errorf("qtrc: create directory %q: %w", path, err)
			}
			if err := Walk(fs, path, names, blobBytes, treeBytes, entry.ChildNodeID, entry.ChildCount); err != nil {
				return err
			}
			continue
		}

		if err := writeFile(fs, path, blobBytes, entry); err != nil {
			return err
		}
	}

	return nil
}

// writeFile parses the blob record at entry.DataOffset and writes its
// (possibly decompressed) content to path.
func writeFile(fs afero.Fs, path string, blobBytes []byte, entry bundle.Entry) error {
	if entry.DataOffset < 0 || entry.DataOffset+4 > len(blobBytes) {
		return fmt.Errorf("qtrc: blob record at %d: short read", entry.DataOffset)
	}

	size := int(be32(blobBytes[entry.DataOffset:]))
	if size == 0 {
		return fmt.Errorf("qtrc: blob record at %d: zero size", entry.DataOffset)
	}

	payloadStart := entry.DataOffset + 4
	if payloadStart+size > len(blobBytes) {
		return fmt.Errorf("qtrc: blob record at %d: payload of %d bytes exceeds buffer", entry.DataOffset, size)
	}
	payload := blobBytes[payloadStart : payloadStart+size]

	content := payload
	if entry.IsCompressed() {
		if len(payload) < 4 {
			return fmt.Errorf("qtrc: compressed blob at %d: missing uncompressed-size hint", entry.DataOffset)
		}

		decoded, err := inflate(payload[4:])
		if err != nil {
			return fmt.Errorf("qtrc: inflate blob at %d: %w", entry.DataOffset, err)
		}
		content = decoded
	}

	if err := afero.WriteFile(fs, path, content, 0o644); err != nil {
		return fmt.Errorf("qtrc: write %q: %w", path, err)
	}

	return nil
}

func inflate(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return io.ReadAll(r)
}

// validateComponent rejects a decoded name that would escape the
// output root: absolute paths, embedded path separators, and "..".
// Resolved per the Open Question in spec.md §9: a safe implementation
// rejects rather than silently sanitizes. An empty name is left alone —
// the implicit bundle root is conventionally named this way, and
// filepath.Join no-ops on it exactly as the reference packer's
// PathBuf::push("") does.
func validateComponent(name string) error {
	if name == "" {
		return nil
	}
	if name == "." || name == ".." {
		return bundle.ErrUnsafePath
	}
	if filepath.IsAbs(name) {
		return bundle.ErrUnsafePath
	}
	for _, r := range name {
		if r == '/' || r == '\\' {
			return bundle.ErrUnsafePath
		}
	}
	return nil
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
