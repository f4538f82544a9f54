// Completion: 100% - Section byte buffer and the output-event emitter
package main

import (
	"encoding/binary"
	"io"
)

// SectionBuffer collects a section's payload. Besides appending it
// supports random reads and writes (the final write pass patches
// resolved relocation addends in place) and peeking at the tail, which
// the emitter uses to recognize branch and GOT-load instruction
// encodings after their opcode bytes have been appended.
type SectionBuffer struct {
	buf []byte
}

func NewSectionBuffer() *SectionBuffer {
	return &SectionBuffer{}
}

func (sb *SectionBuffer) Len() int {
	return len(sb.buf)
}

// Append adds data to the end of the buffer.
func (sb *SectionBuffer) Append(data []byte) {
	sb.buf = append(sb.buf, data...)
}

// AppendZero adds n zero bytes.
func (sb *SectionBuffer) AppendZero(n int64) {
	for ; n > 0; n-- {
		sb.buf = append(sb.buf, 0)
	}
}

// ReadAt copies bytes from offset into p, stopping at the end of the
// buffer. Missing bytes are left untouched in p.
func (sb *SectionBuffer) ReadAt(p []byte, off int64) {
	if off < 0 || off >= int64(len(sb.buf)) {
		return
	}
	copy(p, sb.buf[off:])
}

// WriteAt overwrites bytes at offset, which must already exist.
func (sb *SectionBuffer) WriteAt(p []byte, off int64) {
	copy(sb.buf[off:], p)
}

// Tail copies the last n bytes into p. If fewer are available they are
// right-aligned in p, matching how partial opcode windows are read.
func (sb *SectionBuffer) Tail(p []byte, n int) {
	if have := len(sb.buf); have < n {
		copy(p[n-have:], sb.buf)
		return
	}
	copy(p, sb.buf[len(sb.buf)-n:])
}

// WriteTo streams the whole payload out.
func (sb *SectionBuffer) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(sb.buf)
	return int64(n), err
}

// addrBytes encodes a target value the way the front-end hands it to
// Out for address events.
func addrBytes(v int64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	return b[:]
}

func (ob *ObjectBuilder) sectWrite(s *Section, data []byte, n int64) {
	if data == nil {
		s.data.AppendZero(n)
	} else {
		s.data.Append(data[:n])
	}
	s.size += uint64(n)
}

// Out consumes one assembler output event. For OutAddress, OutRel2Adr
// and OutRel4Adr the target value is the first eight bytes of data,
// little-endian; size follows the assembler convention: the operand
// width for addresses (negative when signed), and the distance from the
// displacement field to the end of the instruction for relative events.
func (ob *ObjectBuilder) Out(secto int32, data []byte, typ OutType, size int64, target int32, wrt int32) {
	if secto == NoSeg {
		if typ != OutReserve {
			ob.diag.errorf("attempt to assemble code in [ABSOLUTE] space")
		}
		return
	}

	s := ob.getSectionByIndex(secto)
	if s == nil {
		ob.diag.warnf("attempt to assemble code in section %d: defaulting to `.text'", secto)
		s = ob.getSectionByName("__TEXT", "__text")
		if s == nil {
			panic("machoasm: text section not found")
		}
	}

	isBss := s.isZerofill()

	if isBss && typ != OutReserve {
		ob.diag.warnf("attempt to initialize memory in BSS section: ignored")
		s.size += uint64(realSize(typ, size))
		return
	}

	switch typ {
	case OutReserve:
		if !isBss {
			ob.diag.warnf("uninitialized space declared in %s,%s section: zeroing",
				s.segname, s.sectname)
			ob.sectWrite(s, nil, size)
		} else {
			s.size += uint64(size)
		}

	case OutRawData:
		if target != NoSeg {
			panic("machoasm: rawdata output with a target section")
		}
		ob.sectWrite(s, data, size)

	case OutAddress:
		asize := size
		if asize < 0 {
			asize = -asize
		}
		addr := int64(binary.LittleEndian.Uint64(data))

		if target != NoSeg {
			if target%2 != 0 {
				ob.diag.errorf("Mach-O format does not support section base references")
			} else if wrt == NoSeg {
				if ob.fmt.ptrsize == 8 && asize != 8 {
					ob.diag.errorf("Mach-O 64-bit format does not support 32-bit absolute addresses")
				} else {
					ob.addReloc(s, target, addr, RLAbs, int(asize))
				}
			} else {
				ob.diag.errorf("Mach-O format does not support this use of WRT")
			}
		}

		var out [8]byte
		binary.LittleEndian.PutUint64(out[:], uint64(addr))
		ob.sectWrite(s, out[:], asize)

	case OutRel2Adr:
		if target == secto {
			panic("machoasm: self-relative reference within a section")
		}
		offset := int64(binary.LittleEndian.Uint64(data))
		addr := offset - size

		if target != NoSeg && target%2 != 0 {
			ob.diag.errorf("Mach-O format does not support section base references")
		} else if ob.fmt.ptrsize == 8 {
			ob.diag.errorf("Unsupported non-32-bit Mach-O relocation")
		} else if wrt != NoSeg {
			ob.diag.errorf("Mach-O format does not support this use of WRT")
		} else {
			addr += ob.addReloc(s, target, addr+size, RLRel, 2)
		}

		var out [2]byte
		binary.LittleEndian.PutUint16(out[:], uint16(addr))
		ob.sectWrite(s, out[:], 2)

	case OutRel4Adr:
		if target == secto {
			panic("machoasm: self-relative reference within a section")
		}
		offset := int64(binary.LittleEndian.Uint64(data))
		addr := offset - size
		reltype := RLRel

		if target != NoSeg && target%2 != 0 {
			ob.diag.errorf("Mach-O format does not support section base references")
		} else if wrt == NoSeg {
			if ob.fmt.ptrsize == 8 && s.flags&SAttrSomeInstructions != 0 {
				var opcode [2]byte
				s.data.Tail(opcode[:], 2)

				if (opcode[0] != 0x0f && opcode[1]&0xfe == 0xe8) ||
					(opcode[0] == 0x0f && opcode[1]&0xf0 == 0x80) {
					// Direct call, jmp, or jcc
					reltype = RLBranch
				}
			}
		} else if wrt == ob.gotpcrelSect {
			reltype = RLGot

			if s.flags&SAttrSomeInstructions != 0 && s.data.Len() >= 3 {
				var gotload [3]byte
				s.data.Tail(gotload[:], 3)
				if gotload[0]&0xf8 == 0x48 && gotload[1] == 0x8b && gotload[2]&0xc7 == 0x05 {
					// movq <reg>,[rel sym wrt ..gotpcrel]
					reltype = RLGotLoad
				}
			}
		} else if wrt == ob.tlvpSect {
			reltype = RLTlv
		} else {
			ob.diag.errorf("Mach-O format does not support this use of WRT")
			// continue with RLRel
		}

		addr += ob.addReloc(s, target, offset, reltype, 4)
		var out [4]byte
		binary.LittleEndian.PutUint32(out[:], uint32(addr))
		ob.sectWrite(s, out[:], 4)

	default:
		ob.diag.errorf("unrepresentable relocation in Mach-O")
	}
}
