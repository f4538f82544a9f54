// Completion: 100% - Symbol layout and file sizing passes
package main

import (
	"fmt"
	"sort"
)

// layoutSymbols organizes the symbol table and string table in the
// order the dynamic linker expects, the way the Apple cctools layout
// does it.
//
// Symbol table order: local symbols, then defined external symbols
// sorted by name, then undefined external symbols sorted by name.
// String table order: external names first, then local names, so the
// linker never scans past locals when resolving externals.
func (ob *ObjectBuilder) layoutSymbols() {
	numsyms := uint32(0)
	strtabsize := uint32(1)

	// First scan: promote untyped symbols to external, hand out final
	// numbers to locals, count the externals and give them their string
	// table slots.
	for _, sym := range ob.syms {
		// undefined symbols are external from here on
		if sym.typ == NUndf {
			sym.typ |= NExt
		}

		if sym.typ&NExt == 0 {
			sym.snum = int32(numsyms)
			numsyms++
			ob.nlocalsym++
		} else {
			if sym.typ&NType != NUndf {
				ob.nextdefsym++
			} else {
				ob.nundefsym++
			}

			sym.strx = strtabsize
			ob.strs.WriteString(sym.name)
			ob.strs.WriteByte(0)
			strtabsize += uint32(len(sym.name)) + 1
		}
	}

	ob.ilocalsym = 0
	ob.iextdefsym = ob.nlocalsym
	ob.iundefsym = ob.nlocalsym + ob.nextdefsym

	ob.extdefsyms = make([]*Symbol, 0, ob.nextdefsym)
	ob.undefsyms = make([]*Symbol, 0, ob.nundefsym)

	// Second scan: the locals get their strings now, after every
	// external string; the externals are collected for sorting.
	for _, sym := range ob.syms {
		if sym.typ&NExt == 0 {
			sym.strx = strtabsize
			ob.strs.WriteString(sym.name)
			ob.strs.WriteByte(0)
			strtabsize += uint32(len(sym.name)) + 1
		} else {
			if sym.typ&NType != NUndf {
				ob.extdefsyms = append(ob.extdefsyms, sym)
			} else {
				ob.undefsyms = append(ob.undefsyms, sym)
			}
		}
	}

	sort.SliceStable(ob.extdefsyms, func(i, j int) bool {
		return ob.extdefsyms[i].name < ob.extdefsyms[j].name
	})
	sort.SliceStable(ob.undefsyms, func(i, j int) bool {
		return ob.undefsyms[i].name < ob.undefsyms[j].name
	})

	for _, sym := range ob.extdefsyms {
		sym.snum = int32(numsyms)
		numsyms++
	}
	for _, sym := range ob.undefsyms {
		sym.snum = int32(numsyms)
		numsyms++
	}

	ob.nsyms = numsyms
	ob.strslen = strtabsize
}

// calculateSizes assigns every section its in-memory address and
// in-file offset, totals the load commands, and builds the table of
// sections by file index.
func (ob *ObjectBuilder) calculateSizes() error {
	for _, s := range ob.sects {
		// final section address depends on alignment
		s.addr = ob.segVmsize
		if s.align == -1 {
			s.align = defaultSectionAlignment
		}

		newaddr := alignUp(s.addr, 1<<uint(s.align))
		s.addr = newaddr

		ob.segVmsize = newaddr + s.size

		// zerofill sections occupy no file bytes. LLVM/Xcode as always
		// aligns section data to 4 bytes regardless of pointer size.
		if !s.isZerofill() {
			s.pad = uint32(alignUp(ob.segFilesize, 4) - ob.segFilesize)
			s.offset = ob.segFilesize + uint64(s.pad)
			ob.segFilesize += s.size + uint64(s.pad)
		}
	}

	if ob.segNsects > 0 {
		ob.headNcmds++
		ob.headSizeofcmds += ob.fmt.segcmdSize + ob.segNsects*ob.fmt.sectcmdSize
	}

	if ob.nsyms > 0 {
		ob.headNcmds++
		ob.headSizeofcmds += MachoSymcmdSize
	}

	if ob.segNsects > MaxSect {
		return fmt.Errorf("Mach-O output is limited to %d sections", MaxSect)
	}

	ob.sectstab = make([]*Section, ob.segNsects+1)
	ob.sectstab[NoSect] = &ob.absoluteSect
	for i, s := range ob.sects {
		ob.sectstab[i+1] = s
	}

	return nil
}
