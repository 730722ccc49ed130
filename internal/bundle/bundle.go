// Package bundle holds the shared on-disk record shapes of the embedded
// resource bundle (name table, tree, blob region) and the sentinel errors
// the discovery pipeline uses to report "nothing found here" up to the
// orchestrator.
package bundle

import "errors"

// Sentinel errors surfaced by the discovery stages. The orchestrator
// treats these as "move on to the next candidate", per the error
// taxonomy: they are never fatal on their own.
var (
	// ErrUnrecognizedFormat names the case of an input that is neither a
	// recognizable ELF nor PE image. execmap.Parse does not return it: it
	// yields an empty mapping for such input, so the instruction-scan
	// blob strategies find nothing while S1 can still succeed.
	ErrUnrecognizedFormat = errors.New("qtrc: unrecognized executable format")

	// ErrNoNameTables means the name scanner found no candidate name
	// table anywhere in the input.
	ErrNoNameTables = errors.New("qtrc: no name tables found")

	// ErrNoValidTree means no candidate offset validated as a tree that
	// exhausts every name in its associated name table.
	ErrNoValidTree = errors.New("qtrc: no valid tree found")

	// ErrNoBlobRegion means none of the blob-location strategies
	// produced a candidate base offset for a validated tree.
	ErrNoBlobRegion = errors.New("qtrc: no data blob region located")

	// ErrUnsafePath is an extraction error: a decoded name would escape
	// the output root (absolute path, "..", or embedded separator).
	ErrUnsafePath = errors.New("qtrc: unsafe path component in bundle name")
)

// NameTable is a parsed, contiguous name-table region: its absolute byte
// range in the source buffer and a map from each entry's relative offset
// (from the table start, NOT the absolute file offset) to its decoded
// text. Per spec, entries are addressed by relative offset everywhere
// outside of this package.
type NameTable struct {
	Start int
	End   int
	Names map[int]string
}

// Len reports the length in bytes of the half-open interval [Start, End)
// this name table occupies in the source buffer.
func (t NameTable) Len() int { return t.End - t.Start }

// EntryFlags are the two meaningful bits of a tree entry's flags field.
// Any other bit set makes an entry invalid (spec.md §3 invariant).
type EntryFlags uint16

const (
	// FlagCompressed marks a file entry whose blob payload is a 4-byte
	// uncompressed-size hint followed by a zlib stream.
	FlagCompressed EntryFlags = 1 << 0
	// FlagDirectory marks a directory entry (child_node_id/child_count
	// variant) as opposed to a file entry (locale/data_offset variant).
	FlagDirectory EntryFlags = 1 << 1
)

// MaxValidFlags is the highest flags value a structurally valid tree
// entry may carry. A directory can never also be compressed: 3 (both
// bits set) is a structural read failure, not a combination of the two
// flags, so this is 2 (FlagDirectory) and not their bitwise OR.
const MaxValidFlags = FlagDirectory

// EntrySize is the fixed on-disk stride of a tree entry, regardless of
// which payload variant it carries (spec.md §3).
const EntrySize = 22

// Entry is one parsed 22-byte tree record. Directory and file fields are
// both populated from the same 12-byte variant payload based on Flags;
// callers branch on IsDir.
type Entry struct {
	NameOffset int
	Flags      EntryFlags

	// Directory variant.
	ChildNodeID int
	ChildCount  int

	// File variant.
	Locale     uint32
	DataOffset int

	LastModified uint64
}

// IsDir reports whether this entry is a directory (flags bit 1).
func (e Entry) IsDir() bool { return e.Flags&FlagDirectory != 0 }

// IsCompressed reports whether this entry's payload is zlib-compressed
// (flags bit 0). Only meaningful for file entries.
func (e Entry) IsCompressed() bool { return e.Flags&FlagCompressed != 0 }

// ParseEntry decodes one fixed-size tree entry from the first EntrySize
// bytes of data. The caller must ensure len(data) >= EntrySize.
func ParseEntry(data []byte) (Entry, error) {
	if len(data) < EntrySize {
		return Entry{}, errors.New("qtrc: short tree entry read")
	}

	e := Entry{
		NameOffset: int(be32(data[0:4])),
		Flags:      EntryFlags(be16(data[4:6])),
	}

	if e.IsDir() {
		e.ChildNodeID = int(be32(data[6:10]))
		e.ChildCount = int(be32(data[10:14]))
	} else {
		e.Locale = be32(data[6:10])
		e.DataOffset = int(be32(data[10:14]))
	}

	e.LastModified = be64(data[14:22])

	return e, nil
}

func be16(b []byte) uint16 { return uint16(b[0])<<8 | uint16(b[1]) }

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func be64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}
