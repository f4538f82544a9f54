// Completion: 100% - Final write pass: header, load commands, payloads, relocations, nlists, strings
package main

import (
	"bytes"
	"encoding/binary"
)

func (ob *ObjectBuilder) writeU16(w *bytes.Buffer, v uint16) {
	binary.Write(w, binary.LittleEndian, v)
}

func (ob *ObjectBuilder) writeU32(w *bytes.Buffer, v uint32) {
	binary.Write(w, binary.LittleEndian, v)
}

// writePtr writes a pointer-width integer, 4 or 8 bytes by format.
func (ob *ObjectBuilder) writePtr(w *bytes.Buffer, v uint64) {
	if ob.fmt.ptrsize == 8 {
		binary.Write(w, binary.LittleEndian, v)
	} else {
		binary.Write(w, binary.LittleEndian, uint32(v))
	}
}

func writeZero(w *bytes.Buffer, n uint64) {
	for ; n > 0; n-- {
		w.WriteByte(0)
	}
}

// writeName16 writes a segment or section name, zero padded to 16
// bytes and not null-terminated when full length.
func writeName16(w *bytes.Buffer, name string) {
	var b [16]byte
	copy(b[:], name)
	w.Write(b[:])
}

func (ob *ObjectBuilder) writeHeader(w *bytes.Buffer) {
	ob.writeU32(w, ob.fmt.mhMagic)        // magic
	ob.writeU32(w, ob.fmt.cpuType)        // CPU type
	ob.writeU32(w, CPU_SUBTYPE_I386_ALL)  // CPU subtype
	ob.writeU32(w, MH_OBJECT)             // Mach-O file type
	ob.writeU32(w, ob.headNcmds)          // number of load commands
	ob.writeU32(w, ob.headSizeofcmds)     // size of load commands
	ob.writeU32(w, 0)                     // no flags
	writeZero(w, uint64(ob.fmt.headerSize-7*4)) // reserved fields
}

// writeSegment emits the one unnamed segment load command with its
// embedded section commands and returns the file offset just past the
// relocation block.
func (ob *ObjectBuilder) writeSegment(w *bytes.Buffer, offset uint64) uint64 {
	relBase := alignUp(offset+ob.segFilesize, uint64(ob.fmt.ptrsize))
	sReloff := uint32(0)

	ob.writeU32(w, ob.fmt.lcSegment)
	ob.writeU32(w, ob.fmt.segcmdSize+ob.segNsects*ob.fmt.sectcmdSize)

	// in an MH_OBJECT file every section lives in a single segment
	// whose name is all zeros
	writeZero(w, 16)
	ob.writePtr(w, 0)                  // in-memory offset
	ob.writePtr(w, ob.segVmsize)       // in-memory size
	ob.writePtr(w, offset)             // in-file offset of the data
	ob.writePtr(w, ob.segFilesize)     // in-file size
	ob.writeU32(w, VM_PROT_DEFAULT)    // maximum vm protection
	ob.writeU32(w, VM_PROT_DEFAULT)    // initial vm protection
	ob.writeU32(w, ob.segNsects)       // number of sections
	ob.writeU32(w, 0)                  // no flags

	for _, s := range ob.sects {
		if s.nreloc > 0 {
			if s.isZerofill() {
				panic("machoasm: relocations in a zerofill section")
			}
			s.flags |= SAttrLocReloc
			if s.extreloc {
				s.flags |= SAttrExtReloc
			}
		} else if s.segname == "__DATA" && s.sectname == "__const" &&
			!s.byName && ob.getSectionByName("__TEXT", "__const") == nil {
			// The Mach-O equivalent of .rodata can live in either
			// __DATA,__const or __TEXT,__const; the latter only without
			// relocations. Sections placed by explicit name stay put.
			s.segname = "__TEXT"
		}

		writeName16(w, s.sectname)
		writeName16(w, s.segname)
		ob.writePtr(w, s.addr)
		ob.writePtr(w, s.size)

		if !s.isZerofill() {
			if s.pad == ^uint32(0) {
				panic("machoasm: section padding never assigned")
			}
			offset += uint64(s.pad)
			ob.writeU32(w, uint32(offset))
			offset += s.size
			ob.writeU32(w, uint32(s.align))
			// cctools compatibility: zero reloff without relocations
			if s.nreloc > 0 {
				ob.writeU32(w, uint32(relBase)+sReloff)
			} else {
				ob.writeU32(w, 0)
			}
			ob.writeU32(w, s.nreloc)

			sReloff += s.nreloc * MachoRelinfoSize
		} else {
			ob.writeU32(w, 0)
			ob.writeU32(w, uint32(s.align))
			ob.writeU32(w, 0)
			ob.writeU32(w, 0)
		}

		ob.writeU32(w, s.flags) // flags
		ob.writeU32(w, 0)       // reserved
		ob.writePtr(w, 0)       // reserved
	}

	ob.relPadcnt = relBase - offset

	return relBase + uint64(sReloff)
}

// writeRelocs dumps a section's relocation entries, newest first to
// match the address-descending order the linker expects.
func (ob *ObjectBuilder) writeRelocs(w *bytes.Buffer, s *Section) {
	for i := len(s.relocs) - 1; i >= 0; i-- {
		r := s.relocs[i]

		ob.writeU32(w, uint32(r.addr))

		word2 := r.snum & 0x00ffffff
		if r.pcrel {
			word2 |= 1 << 24
		}
		word2 |= uint32(r.length) << 25
		if r.ext {
			word2 |= 1 << 27
		}
		word2 |= uint32(r.typ) << 28
		ob.writeU32(w, word2)
	}
}

// writeSectionData emits every non-zerofill section's payload, after
// patching in the resolved addend of each locally-resolved relocation.
func (ob *ObjectBuilder) writeSectionData(w *bytes.Buffer) {
	for _, s := range ob.sects {
		if s.isZerofill() {
			continue
		}

		for _, r := range s.relocs {
			length := 1 << r.length
			if length > 4 {
				length = 8
			}

			var blk [8]byte
			s.data.ReadAt(blk[:length], int64(r.addr))
			l := int64(binary.LittleEndian.Uint64(blk[:]))

			// An internal relocation folds the target section's
			// address into the stored value; the linker resolves
			// external ones from the symbol offset already in place.
			if !r.ext {
				if r.snum > ob.segNsects {
					panic("machoasm: relocation target section out of range")
				}
				l += int64(ob.sectstab[r.snum].addr)
				if r.pcrel {
					l -= int64(s.addr)
				}
			} else if r.pcrel && r.typ == GENERIC_RELOC_VANILLA {
				l -= int64(s.addr)
			}

			binary.LittleEndian.PutUint64(blk[:], uint64(l))
			s.data.WriteAt(blk[:length], int64(r.addr))
		}

		writeZero(w, uint64(s.pad))
		s.data.WriteTo(w)
	}

	// pad the last section up to the relocation entries, which sit on a
	// pointer boundary
	writeZero(w, ob.relPadcnt)

	for _, s := range ob.sects {
		ob.writeRelocs(w, s)
	}
}

func (ob *ObjectBuilder) writeNlist(w *bytes.Buffer, sym *Symbol) {
	ob.writeU32(w, sym.strx)
	w.WriteByte(sym.typ)
	w.WriteByte(sym.sect)
	ob.writeU16(w, sym.desc)

	// Rebase the symbol onto its section's final address. Defined
	// externals never pass through the locals walk, so this runs at
	// most once per symbol.
	if sym.typ&NType == NSect && sym.sect != NoSect {
		if uint32(sym.sect) > ob.segNsects {
			panic("machoasm: symbol section out of range")
		}
		sym.value += ob.sectstab[sym.sect].addr
	}

	ob.writePtr(w, sym.value)
}

// writeSymtab emits the three symbol groups in layout order.
func (ob *ObjectBuilder) writeSymtab(w *bytes.Buffer) {
	// no padding needed here since MachoRelinfoSize == 8

	for _, sym := range ob.syms {
		if sym.typ&NExt == 0 {
			ob.writeNlist(w, sym)
		}
	}

	for _, sym := range ob.extdefsyms {
		ob.writeNlist(w, sym)
	}

	for _, sym := range ob.undefsyms {
		ob.writeNlist(w, sym)
	}
}

// write puts out the complete object: header, segment command with
// section commands, symtab command, section data, relocations, symbol
// table, string table.
func (ob *ObjectBuilder) write(w *bytes.Buffer) {
	ob.writeHeader(w)

	offset := uint64(ob.fmt.headerSize + ob.headSizeofcmds)

	if ob.segNsects > 0 {
		offset = ob.writeSegment(w, offset)
	} else {
		ob.diag.warnf("no sections?")
	}

	if ob.nsyms > 0 {
		ob.writeU32(w, LC_SYMTAB)
		ob.writeU32(w, MachoSymcmdSize)
		ob.writeU32(w, uint32(offset)) // symbol table offset
		ob.writeU32(w, ob.nsyms)
		offset += uint64(ob.nsyms * ob.fmt.nlistSize)
		ob.writeU32(w, uint32(offset)) // string table offset
		ob.writeU32(w, ob.strslen)
	}

	if ob.segNsects > 0 {
		ob.writeSectionData(w)
	}

	if ob.nsyms > 0 {
		ob.writeSymtab(w)
	}

	// already aligned here; the string table needs no padding
	w.Write(ob.strs.Bytes())
}
