// Completion: 100% - Mach-O MH_OBJECT constants, format descriptors and builder state
package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// Mach-O in-file structure sizes
const (
	MachoHeaderSize  = 28
	MachoSegcmdSize  = 56
	MachoSectcmdSize = 68
	MachoSymcmdSize  = 24
	MachoNlistSize   = 12
	MachoRelinfoSize = 8

	MachoHeader64Size  = 32
	MachoSegcmd64Size  = 72
	MachoSectcmd64Size = 80
	MachoNlist64Size   = 16
)

// Mach-O file header values
const (
	MH_MAGIC             = 0xfeedface
	MH_MAGIC_64          = 0xfeedfacf
	CPU_TYPE_I386        = 7          // x86 platform
	CPU_TYPE_X86_64      = 0x01000007 // x86-64 platform
	CPU_SUBTYPE_I386_ALL = 3          // all-x86 compatible
	MH_OBJECT            = 0x1        // relocatable object file
)

// Mach-O load commands
const (
	LC_SEGMENT    = 0x1  // 32-bit segment load command
	LC_SEGMENT_64 = 0x19 // 64-bit segment load command
	LC_SYMTAB     = 0x2  // symbol table load command
)

// Generic relocation types, used by i386 Mach-O
const (
	GENERIC_RELOC_VANILLA = 0
	GENERIC_RELOC_TLV     = 5
)

// x86-64 relocation types
const (
	X86_64_RELOC_UNSIGNED   = 0 // absolute address
	X86_64_RELOC_SIGNED     = 1 // signed 32-bit displacement
	X86_64_RELOC_BRANCH     = 2 // CALL/JMP with 32-bit displacement
	X86_64_RELOC_GOT_LOAD   = 3 // MOVQ of a GOT entry
	X86_64_RELOC_GOT        = 4 // other GOT reference
	X86_64_RELOC_SUBTRACTOR = 5 // difference of two symbols
	X86_64_RELOC_SIGNED_1   = 6 // SIGNED with -1 addend
	X86_64_RELOC_SIGNED_2   = 7 // SIGNED with -2 addend
	X86_64_RELOC_SIGNED_4   = 8 // SIGNED with -4 addend
	X86_64_RELOC_TLV        = 9 // thread local
)

// Mach-O VM permission bits
const (
	VM_PROT_NONE    = 0x00
	VM_PROT_READ    = 0x01
	VM_PROT_WRITE   = 0x02
	VM_PROT_EXECUTE = 0x04

	VM_PROT_DEFAULT = VM_PROT_READ | VM_PROT_WRITE | VM_PROT_EXECUTE
)

// Section type and attribute bits
const (
	SectionType           = 0x000000ff // section type mask
	SRegular              = 0x0       // standard section
	SZerofill             = 0x1       // zerofill, in-memory only
	SAttrSomeInstructions = 0x00000400
	SAttrExtReloc         = 0x00000200
	SAttrLocReloc         = 0x00000100
	SAttrPureInstructions = 0x80000000
)

// RAbs is the snum of an absolute relocation; RScattered is the on-disk
// scattered flag, which this writer never sets.
const (
	RAbs       = 0
	RScattered = 0x80000000
)

// machoFmt selects between the 32- and 64-bit flavors of the format.
type machoFmt struct {
	ptrsize     uint32 // pointer size in bytes
	mhMagic     uint32
	cpuType     uint32
	lcSegment   uint32 // which segment load command
	headerSize  uint32
	segcmdSize  uint32
	sectcmdSize uint32
	nlistSize   uint32
	maxreltype  relType // highest internal relocation kind permitted
	relocAbs    uint8   // default absolute relocation type
	relocRel    uint8   // default relative relocation type
	relocTlv    uint8   // thread-local relocation type
}

var macho32Fmt = machoFmt{
	ptrsize:     4,
	mhMagic:     MH_MAGIC,
	cpuType:     CPU_TYPE_I386,
	lcSegment:   LC_SEGMENT,
	headerSize:  MachoHeaderSize,
	segcmdSize:  MachoSegcmdSize,
	sectcmdSize: MachoSectcmdSize,
	nlistSize:   MachoNlistSize,
	maxreltype:  rlMax32,
	relocAbs:    GENERIC_RELOC_VANILLA,
	relocRel:    GENERIC_RELOC_VANILLA,
	relocTlv:    GENERIC_RELOC_TLV,
}

var macho64Fmt = machoFmt{
	ptrsize:     8,
	mhMagic:     MH_MAGIC_64,
	cpuType:     CPU_TYPE_X86_64,
	lcSegment:   LC_SEGMENT_64,
	headerSize:  MachoHeader64Size,
	segcmdSize:  MachoSegcmd64Size,
	sectcmdSize: MachoSectcmd64Size,
	nlistSize:   MachoNlist64Size,
	maxreltype:  rlMax64,
	relocAbs:    X86_64_RELOC_UNSIGNED,
	relocRel:    X86_64_RELOC_SIGNED,
	relocTlv:    X86_64_RELOC_TLV,
}

// OutputFormat describes one selectable object format, the record the
// driver looks up by name.
type OutputFormat struct {
	Description string
	Name        string
	Bits        int
	fmt         machoFmt
}

var OfMacho32 = &OutputFormat{
	Description: "Darwin/macOS (i386) object files",
	Name:        "macho32",
	Bits:        32,
	fmt:         macho32Fmt,
}

var OfMacho64 = &OutputFormat{
	Description: "Darwin/macOS (x86_64) object files",
	Name:        "macho64",
	Bits:        64,
	fmt:         macho64Fmt,
}

// ObjectBuilder owns all state for one object file: the section and
// symbol tables, the string table, the external-symbol map and the
// layout-pass outputs. It is not safe for concurrent use.
type ObjectBuilder struct {
	fmt machoFmt

	sects     []*Section
	segNsects uint32

	// Fake section for absolute symbols, not part of the section table.
	absoluteSect Section

	syms  []*Symbol
	nsyms uint32

	// Layout-pass outputs. The symbol table order is locals, defined
	// externals sorted by name, undefined externals sorted by name; the
	// string table holds external names first, then local names.
	ilocalsym  uint32
	iextdefsym uint32
	iundefsym  uint32
	nlocalsym  uint32
	nextdefsym uint32
	nundefsym  uint32
	extdefsyms []*Symbol
	undefsyms  []*Symbol

	extsyms map[int32]uint32 // external-symbol section index -> initial snum
	strs    bytes.Buffer
	strslen uint32

	headNcmds     uint32
	headSizeofcmds uint32
	segFilesize   uint64
	segVmsize     uint64
	relPadcnt     uint64
	sectstab      []*Section // file index -> section, 0 is the absolute sentinel

	// Special section numbers usable with WRT to request PIC
	// relocation types.
	tlvpSect     int32
	gotpcrelSect int32

	segCounter int32

	// DefineLabel registers the predefined special labels at init time.
	// The default sends them through Symdef, which filters them out of
	// the symbol table again; a front-end may hook its own registry in.
	DefineLabel func(name string, section int32, offset int64)

	diag *diagSink
}

// NewObjectBuilder creates a builder for the given format and registers
// the special WRT symbols.
func NewObjectBuilder(of *OutputFormat) *ObjectBuilder {
	ob := &ObjectBuilder{
		fmt:     of.fmt,
		extsyms: make(map[int32]uint32),
		diag:    newDiagSink(os.Stderr),
	}
	ob.absoluteSect.index = NoSeg
	ob.DefineLabel = func(name string, section int32, offset int64) {
		ob.Symdef(name, section, offset, 0, "")
	}

	// string table starts with a zero byte so index 0 is an empty string
	ob.strs.WriteByte(0)
	ob.strslen = 1

	ob.tlvpSect = ob.SegAlloc() + 1
	ob.DefineLabel("..tlvp", ob.tlvpSect, 0)

	ob.gotpcrelSect = NoSeg
	if ob.fmt.ptrsize == 8 {
		ob.gotpcrelSect = ob.SegAlloc() + 1
		ob.DefineLabel("..gotpcrel", ob.gotpcrelSect, 0)
	}

	return ob
}

// SegAlloc hands out a fresh even section identity. Odd values derived
// from them denote section-base references, which this format rejects.
func (ob *ObjectBuilder) SegAlloc() int32 {
	n := ob.segCounter
	ob.segCounter += 2
	return n
}

// WrtSection resolves a WRT sentinel name to its special section
// identity; ..gotpcrel only exists on the 64-bit format.
func (ob *ObjectBuilder) WrtSection(name string) (int32, bool) {
	switch name {
	case "..tlvp":
		return ob.tlvpSect, true
	case "..gotpcrel":
		if ob.gotpcrelSect == NoSeg {
			return NoSeg, false
		}
		return ob.gotpcrelSect, true
	default:
		return NoSeg, false
	}
}

// SegBase is the segment-base identity callback.
func (ob *ObjectBuilder) SegBase(section int32) int32 {
	return section
}

// SectionSize reports the current size of the section with the given
// identity, so a front-end can place labels.
func (ob *ObjectBuilder) SectionSize(index int32) uint64 {
	if s := ob.getSectionByIndex(index); s != nil {
		return s.size
	}
	return 0
}

// Diagnostics returns the error and warning counts accumulated so far.
func (ob *ObjectBuilder) Diagnostics() (errors, warnings int) {
	return ob.diag.errors, ob.diag.warnings
}

// SetDiagnostics redirects diagnostic output, for tests.
func (ob *ObjectBuilder) SetDiagnostics(w io.Writer) {
	ob.diag.w = w
}

// Filename derives the output file name from the input name.
func Filename(inname string) string {
	return withExtension(inname, ".o")
}

// Finalize lays out symbols, fixes up relocation symbol numbers, sizes
// the file and writes it out, then releases the builder's buffers. The
// builder must not be used afterwards.
func (ob *ObjectBuilder) Finalize(w io.Writer) error {
	ob.layoutSymbols()

	for _, s := range ob.sects {
		ob.fixupRelocs(s)
	}

	if err := ob.calculateSizes(); err != nil {
		return err
	}

	var buf bytes.Buffer
	ob.write(&buf)

	_, err := w.Write(buf.Bytes())
	ob.release()
	return err
}

// release drops every buffer the builder owns.
func (ob *ObjectBuilder) release() {
	for _, s := range ob.sects {
		s.data = nil
		s.relocs = nil
		s.gsyms.nodes = nil
	}
	ob.sects = nil
	ob.syms = nil
	ob.strs.Reset()
	ob.extsyms = nil
	ob.extdefsyms = nil
	ob.undefsyms = nil
	ob.sectstab = nil
	ob.absoluteSect.gsyms.nodes = nil
}

// diagSink is the non-fatal diagnostic channel: problems are reported
// and counted, and assembly continues.
type diagSink struct {
	w        io.Writer
	errors   int
	warnings int
}

func newDiagSink(w io.Writer) *diagSink {
	return &diagSink{w: w}
}

func (d *diagSink) errorf(format string, args ...interface{}) {
	d.errors++
	fmt.Fprintf(d.w, "error: %s\n", fmt.Sprintf(format, args...))
}

func (d *diagSink) warnf(format string, args ...interface{}) {
	d.warnings++
	fmt.Fprintf(d.w, "warning: %s\n", fmt.Sprintf(format, args...))
}
