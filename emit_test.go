package main

import (
	"bytes"
	"io"
	"testing"
)

func testBuilder(of *OutputFormat) *ObjectBuilder {
	ob := NewObjectBuilder(of)
	ob.SetDiagnostics(io.Discard)
	return ob
}

// TestSectionBufferTail tests the opcode peek window
func TestSectionBufferTail(t *testing.T) {
	sb := NewSectionBuffer()
	sb.Append([]byte{0x48, 0x8b, 0x05})

	var got [3]byte
	sb.Tail(got[:], 3)
	if got != [3]byte{0x48, 0x8b, 0x05} {
		t.Errorf("Tail(3) = %x", got)
	}

	var two [2]byte
	sb.Tail(two[:], 2)
	if two != [2]byte{0x8b, 0x05} {
		t.Errorf("Tail(2) = %x", two)
	}
}

// TestSectionBufferTailShort tests right-alignment of a partial window
func TestSectionBufferTailShort(t *testing.T) {
	sb := NewSectionBuffer()
	sb.Append([]byte{0xe8})

	var got [2]byte
	sb.Tail(got[:], 2)
	if got[0] != 0 || got[1] != 0xe8 {
		t.Errorf("short Tail = %x, want 00 e8", got)
	}

	// an empty buffer leaves the window untouched
	empty := NewSectionBuffer()
	got = [2]byte{}
	empty.Tail(got[:], 2)
	if got[0] != 0 || got[1] != 0 {
		t.Errorf("empty Tail = %x, want zeros", got)
	}
}

// TestSectionBufferReadWriteAt tests the patching primitives
func TestSectionBufferReadWriteAt(t *testing.T) {
	sb := NewSectionBuffer()
	sb.Append([]byte{1, 2, 3, 4, 5})

	var p [2]byte
	sb.ReadAt(p[:], 2)
	if p != [2]byte{3, 4} {
		t.Errorf("ReadAt = %v", p)
	}

	sb.WriteAt([]byte{9, 9}, 1)
	var out bytes.Buffer
	sb.WriteTo(&out)
	if !bytes.Equal(out.Bytes(), []byte{1, 9, 9, 4, 5}) {
		t.Errorf("after WriteAt: %v", out.Bytes())
	}
}

// TestRawData tests plain byte emission
func TestRawData(t *testing.T) {
	ob := testBuilder(OfMacho64)
	text := ob.Section(".text")

	ob.Out(text, []byte{0x90, 0x90}, OutRawData, 2, NoSeg, NoSeg)

	s := ob.getSectionByIndex(text)
	if s.size != 2 || s.data.Len() != 2 {
		t.Errorf("size = %d, buffered = %d, want 2", s.size, s.data.Len())
	}
}

// TestReserveInTextZeroFills tests that reserving in a regular section
// warns and writes zeros
func TestReserveInTextZeroFills(t *testing.T) {
	ob := testBuilder(OfMacho64)
	text := ob.Section(".text")

	ob.Out(text, nil, OutReserve, 4, NoSeg, NoSeg)

	s := ob.getSectionByIndex(text)
	if s.size != 4 || s.data.Len() != 4 {
		t.Errorf("size = %d, buffered = %d, want 4 zero bytes", s.size, s.data.Len())
	}
	if _, warnings := ob.Diagnostics(); warnings != 1 {
		t.Errorf("warnings = %d, want 1", warnings)
	}
}

// TestBSSIgnoredWrites tests that data written into .bss is
// dropped with a warning but still advances the section size
func TestBSSIgnoredWrites(t *testing.T) {
	ob := testBuilder(OfMacho64)
	bss := ob.Section(".bss")

	ob.Out(bss, []byte{0xab, 0xcd, 0xab, 0xcd, 0xab, 0xcd, 0xab, 0xcd}, OutRawData, 8, NoSeg, NoSeg)
	ob.Out(bss, nil, OutReserve, 16, NoSeg, NoSeg)

	s := ob.getSectionByIndex(bss)
	if s.size != 24 {
		t.Errorf("bss size = %d, want 24", s.size)
	}
	if s.data.Len() != 0 {
		t.Errorf("bss buffered %d file bytes, want none", s.data.Len())
	}
	if !s.isZerofill() {
		t.Errorf("bss flags = %#x, want zerofill", s.flags)
	}
	if _, warnings := ob.Diagnostics(); warnings != 1 {
		t.Errorf("warnings = %d, want 1", warnings)
	}
}

// TestAbsoluteSpaceRejected tests emission outside any section
func TestAbsoluteSpaceRejected(t *testing.T) {
	ob := testBuilder(OfMacho64)
	ob.Section(".text")

	ob.Out(NoSeg, []byte{0x90}, OutRawData, 1, NoSeg, NoSeg)

	if errors, _ := ob.Diagnostics(); errors != 1 {
		t.Errorf("errors = %d, want 1", errors)
	}

	// a reserve in absolute space is silently dropped
	ob.Out(NoSeg, nil, OutReserve, 8, NoSeg, NoSeg)
	if errors, _ := ob.Diagnostics(); errors != 1 {
		t.Errorf("errors after reserve = %d, want still 1", errors)
	}
}

// Test32BitAbsoluteOn64Rejected tests that a 4-byte absolute address
// with a target is refused on the 64-bit format
func Test32BitAbsoluteOn64Rejected(t *testing.T) {
	ob := testBuilder(OfMacho64)
	text := ob.Section(".text")
	data := ob.Section(".data")

	ob.Out(text, addrBytes(0), OutAddress, 4, data, NoSeg)

	s := ob.getSectionByIndex(text)
	if s.nreloc != 0 {
		t.Errorf("nreloc = %d, want 0", s.nreloc)
	}
	if errors, _ := ob.Diagnostics(); errors != 1 {
		t.Errorf("errors = %d, want 1", errors)
	}
	// the bytes are still written
	if s.size != 4 {
		t.Errorf("size = %d, want 4", s.size)
	}
}

// TestRel2On64Rejected tests that 2-byte relative displacements are
// refused on the 64-bit format
func TestRel2On64Rejected(t *testing.T) {
	ob := testBuilder(OfMacho64)
	text := ob.Section(".text")
	data := ob.Section(".data")

	ob.Out(text, addrBytes(0), OutRel2Adr, 2, data, NoSeg)

	if errors, _ := ob.Diagnostics(); errors != 1 {
		t.Errorf("errors = %d, want 1", errors)
	}
	if s := ob.getSectionByIndex(text); s.nreloc != 0 || s.size != 2 {
		t.Errorf("nreloc = %d size = %d, want 0 and 2", s.nreloc, s.size)
	}
}

// TestSectionBaseReferenceRejected tests odd target identities
func TestSectionBaseReferenceRejected(t *testing.T) {
	ob := testBuilder(OfMacho64)
	text := ob.Section(".text")
	data := ob.Section(".data")

	ob.Out(text, addrBytes(0), OutAddress, 8, data+1, NoSeg)

	if errors, _ := ob.Diagnostics(); errors != 1 {
		t.Errorf("errors = %d, want 1", errors)
	}
}

// TestRelativeToAbsoluteRejected tests a PC-relative reference with no
// target section
func TestRelativeToAbsoluteRejected(t *testing.T) {
	ob := testBuilder(OfMacho32)
	text := ob.Section(".text")

	ob.Out(text, addrBytes(0x1000), OutRel4Adr, 4, NoSeg, NoSeg)

	if errors, _ := ob.Diagnostics(); errors != 1 {
		t.Errorf("errors = %d, want 1", errors)
	}
	if s := ob.getSectionByIndex(text); s.nreloc != 0 {
		t.Errorf("nreloc = %d, want 0", s.nreloc)
	}
}

// TestUnknownSectionDefaultsToText tests the fallback warning path
func TestUnknownSectionDefaultsToText(t *testing.T) {
	ob := testBuilder(OfMacho64)
	text := ob.Section(".text")

	ob.Out(text+100, []byte{0x90}, OutRawData, 1, NoSeg, NoSeg)

	if s := ob.getSectionByIndex(text); s.size != 1 {
		t.Errorf("text size = %d, want the defaulted byte", s.size)
	}
	if _, warnings := ob.Diagnostics(); warnings != 1 {
		t.Errorf("warnings = %d, want 1", warnings)
	}
}
