package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/blacktop/go-macho"
)

const roundtripSrc = `
section .data
greeting: db "hello", 0
global _value
_value: dq 0x1122334455667788

section .text
global _main
extern _puts
_main:
db 0x48, 0x8d, 0x3d
rel4 greeting
db 0xe8
rel4 _puts
db 0xc3

section .bss
scratch: resb 128
`

func buildSource(t *testing.T, of *OutputFormat, src string) []byte {
	t.Helper()
	ob := testBuilder(of)
	asm := NewAssembler(ob)
	if err := asm.Assemble(strings.NewReader(src), "roundtrip.asm"); err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if errors, _ := ob.Diagnostics(); errors != 0 {
		t.Fatalf("%d diagnostic error(s)", errors)
	}
	return finalizeObject(t, ob)
}

// TestRoundTrip feeds the emitted object back through a Mach-O parser
// and compares what it reports against what was assembled
func TestRoundTrip(t *testing.T) {
	out := buildSource(t, OfMacho64, roundtripSrc)

	f, err := macho.NewFile(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("emitted object does not parse: %v", err)
	}
	defer f.Close()

	wantSections := []struct {
		seg    string
		name   string
		size   uint64
		nreloc uint32
	}{
		{"__DATA", "__data", 14, 0},
		{"__TEXT", "__text", 13, 2},
		{"__DATA", "__bss", 128, 0},
	}

	if len(f.Sections) != len(wantSections) {
		t.Fatalf("parsed %d sections, want %d", len(f.Sections), len(wantSections))
	}
	for i, want := range wantSections {
		s := f.Sections[i]
		if s.Seg != want.seg || s.Name != want.name {
			t.Errorf("section %d = %s,%s, want %s,%s", i, s.Seg, s.Name, want.seg, want.name)
		}
		if s.Size != want.size {
			t.Errorf("section %s size = %d, want %d", want.name, s.Size, want.size)
		}
		if s.Nreloc != want.nreloc {
			t.Errorf("section %s nreloc = %d, want %d", want.name, s.Nreloc, want.nreloc)
		}

		// invariant: real file offsets are 4-byte aligned past the
		// load commands
		if s.Offset != 0 && s.Offset%4 != 0 {
			t.Errorf("section %s offset %d not 4-byte aligned", want.name, s.Offset)
		}
	}

	// relocations come back address-descending; the branch reloc to
	// _puts sits above the lea reloc to greeting
	text := f.Sections[1]
	if len(text.Relocs) != 2 {
		t.Fatalf("parsed %d text relocs", len(text.Relocs))
	}
	if text.Relocs[0].Addr != 8 || text.Relocs[1].Addr != 3 {
		t.Errorf("reloc addrs = %d, %d, want 8, 3", text.Relocs[0].Addr, text.Relocs[1].Addr)
	}
	if text.Relocs[0].Type != X86_64_RELOC_BRANCH || !text.Relocs[0].Extern || !text.Relocs[0].Pcrel {
		t.Errorf("branch reloc = %+v", text.Relocs[0])
	}
	if text.Relocs[1].Type != X86_64_RELOC_SIGNED || text.Relocs[1].Extern {
		t.Errorf("lea reloc = %+v", text.Relocs[1])
	}
	for _, r := range text.Relocs {
		if r.Len != 2 {
			t.Errorf("reloc len = %d, want 2", r.Len)
		}
		if r.Scattered {
			t.Errorf("scattered relocation emitted")
		}
	}

	// symbols: locals first, then defined externals sorted, then
	// undefined externals sorted
	if f.Symtab == nil {
		t.Fatal("no symbol table")
	}
	var names []string
	for _, sym := range f.Symtab.Syms {
		names = append(names, sym.Name)
	}
	want := []string{"greeting", "scratch", "_main", "_value", "_puts"}
	if len(names) != len(want) {
		t.Fatalf("symbols = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("symbol %d = %s, want %s", i, names[i], want[i])
		}
	}

	// _value sits at its vm address inside __data
	for _, sym := range f.Symtab.Syms {
		if sym.Name == "_value" {
			if sym.Value != 6 {
				t.Errorf("_value = %#x, want 6", sym.Value)
			}
			if sym.Sect != 1 {
				t.Errorf("_value sect = %d, want 1", sym.Sect)
			}
		}
		if sym.Name == "_puts" && sym.Sect != 0 {
			t.Errorf("_puts sect = %d, want NO_SECT", sym.Sect)
		}
	}
}

// TestRoundTrip32 tests that the 32-bit variant parses as well
func TestRoundTrip32(t *testing.T) {
	src := `
section .data
d: dd 0xdeadbeef
section .text
global _f
_f:
db 0xb8
dd d
`
	out := buildSource(t, OfMacho32, src)

	f, err := macho.NewFile(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("emitted 32-bit object does not parse: %v", err)
	}
	defer f.Close()

	if len(f.Sections) != 2 {
		t.Fatalf("parsed %d sections", len(f.Sections))
	}
	text := f.Sections[1]
	if text.Nreloc != 1 {
		t.Fatalf("text nreloc = %d", text.Nreloc)
	}
	if r := text.Relocs[0]; r.Type != GENERIC_RELOC_VANILLA || r.Extern || r.Pcrel {
		t.Errorf("reloc = %+v", r)
	}
}

// TestDeterministicOutput tests that two runs produce identical bytes
func TestDeterministicOutput(t *testing.T) {
	a := buildSource(t, OfMacho64, roundtripSrc)
	b := buildSource(t, OfMacho64, roundtripSrc)
	if !bytes.Equal(a, b) {
		t.Fatalf("outputs differ between identical runs")
	}
}
