// Package execmap builds the bidirectional virtual-address↔file-offset
// mapping used to resolve instruction operands during blob discovery
// (spec.md §4.1). It understands ELF PT_LOAD segments and PE sections
// via the standard library's debug/elf and debug/pe readers; anything
// else yields an empty, always-miss mapping rather than an error, since
// S1 (the size-chain strategy) needs no mapping at all.
package execmap

import (
	"bytes"
	"debug/elf"
	"debug/pe"
	"encoding/binary"
	"errors"
	"sort"
)

// interval is a half-open [Start, End) range translating to Base in the
// other address space: file_offset = va - Start + Base (for the RVA
// mapping) or rva = file_offset - Start + Base (for the file mapping).
type interval struct {
	start, end int
	base       int
}

// Mapping is the two interval-keyed lookup tables plus the image base,
// per spec.md §3. The zero value is a valid, always-empty mapping (the
// "unrecognized format" case).
type Mapping struct {
	imageBase int
	rvaTable  []interval // sorted by start, keyed by RVA
	fileTable []interval // sorted by start, keyed by file offset
}

// Segment is one mapped region's file-offset and virtual-address
// interval, as extracted from an ELF PT_LOAD program header or a PE
// section.
type Segment struct {
	FileStart, FileEnd int
	VAStart, VAEnd     int
}

// NewMapping builds a Mapping from an explicit segment list and image
// base. Parse extracts segments from ELF or PE and calls this; it is
// exported so a caller with an already-known layout (for instance a
// flat image with a single identity-mapped region) can build one
// directly without going through a format parser.
func NewMapping(segments []Segment, imageBase int) *Mapping {
	m := &Mapping{imageBase: imageBase}

	for _, s := range segments {
		m.fileTable = append(m.fileTable, interval{s.FileStart, s.FileEnd, s.VAStart})
		m.rvaTable = append(m.rvaTable, interval{s.VAStart, s.VAEnd, s.FileStart})
	}

	m.sort()
	return m
}

// Parse builds a Mapping from the raw executable bytes. It never returns
// an error for a format it doesn't recognize — it returns a Mapping
// whose lookups always miss, so callers that only need S1 still work.
// Parse does return an error if the bytes resemble a supported format
// closely enough for the stdlib reader to accept the magic but then fail
// on a malformed segment/section table.
func Parse(data []byte) (*Mapping, error) {
	m := &Mapping{}

	if f, err := elf.NewFile(bytes.NewReader(data)); err == nil {
		var segments []Segment

		for _, prog := range f.Progs {
			if prog.Type != elf.PT_LOAD || prog.Filesz == 0 || prog.Memsz == 0 {
				continue
			}

			fileStart := int(prog.Off)
			vaStart := int(prog.Vaddr)

			segments = append(segments, Segment{
				FileStart: fileStart,
				FileEnd:   fileStart + int(prog.Filesz),
				VAStart:   vaStart,
				VAEnd:     vaStart + int(prog.Memsz),
			})
		}

		return NewMapping(segments, 0), nil
	}
	if bytes.HasPrefix(data, []byte(elf.ELFMAG)) {
		return nil, errors.New("qtrc: malformed ELF image")
	}

	if f, err := pe.NewFile(bytes.NewReader(data)); err == nil {
		var segments []Segment

		for _, sect := range f.Sections {
			fileStart := int(sect.Offset)
			vaStart := int(sect.VirtualAddress)

			segments = append(segments, Segment{
				FileStart: fileStart,
				FileEnd:   fileStart + int(sect.Size),
				VAStart:   vaStart,
				VAEnd:     vaStart + int(sect.VirtualSize),
			})
		}

		return NewMapping(segments, int(peImageBase(f))), nil
	}
	if len(data) >= 0x40 && string(data[:2]) == "MZ" {
		if off := int(binary.LittleEndian.Uint32(data[0x3c:])); off >= 0 && off+4 <= len(data) && string(data[off:off+4]) == "PE\x00\x00" {
			return nil, errors.New("qtrc: malformed PE image")
		}
	}

	// Neither reader accepted the magic: leave the mapping empty.
	return m, nil
}

func peImageBase(f *pe.File) uint64 {
	switch hdr := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		return uint64(hdr.ImageBase)
	case *pe.OptionalHeader64:
		return hdr.ImageBase
	default:
		return 0
	}
}

func (m *Mapping) sort() {
	sort.Slice(m.rvaTable, func(i, j int) bool { return m.rvaTable[i].start < m.rvaTable[j].start })
	sort.Slice(m.fileTable, func(i, j int) bool { return m.fileTable[i].start < m.fileTable[j].start })
}

// RVAToFile translates a relative virtual address to a file offset.
// Returns ok=false if no loaded segment/section contains it.
func (m *Mapping) RVAToFile(rva int) (offset int, ok bool) {
	adjusted := rva - m.imageBase

	iv, ok := find(m.rvaTable, adjusted)
	if !ok {
		return 0, false
	}

	return adjusted + iv.base - iv.start, true
}

// FileToRVA translates a file offset to a relative virtual address.
// Returns ok=false if no segment/section contains it.
func (m *Mapping) FileToRVA(offset int) (rva int, ok bool) {
	iv, ok := find(m.fileTable, offset)
	if !ok {
		return 0, false
	}

	return offset + iv.base + m.imageBase - iv.start, true
}

// find locates the interval containing x via binary search over the
// sorted-by-start table, per the design notes' "sorted array searched by
// binary search" recommendation.
func find(table []interval, x int) (interval, bool) {
	i := sort.Search(len(table), func(i int) bool { return table[i].start > x })
	if i == 0 {
		return interval{}, false
	}

	iv := table[i-1]
	if x < iv.start || x >= iv.end {
		return interval{}, false
	}

	return iv, true
}
