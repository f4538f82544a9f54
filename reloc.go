// Completion: 100% - Relocation classifier and symbol-number fixup
package main

// addReloc creates one relocation entry against the current end of
// sect and returns the adjustment to fold into the immediate value the
// caller is about to write. On an unrepresentable reference it reports
// a diagnostic, records nothing, and returns 0.
func (ob *ObjectBuilder) addReloc(sect *Section, section int32, offset int64, reltype relType, bytes int) int64 {
	if reltype > ob.fmt.maxreltype {
		panic("machoasm: relocation type not representable in this format")
	}

	// The current end of the section is the operand's address. Keep the
	// high bit clear so the entry can never look scattered.
	r := &Reloc{
		addr: int32(sect.size &^ RScattered),
		ext:  true,
	}
	adjust := int64(bytes)

	// match byte count 1, 2, 4, 8 to length codes 0, 1, 2, 3 respectively
	r.length = uint8(ilog2(uint64(bytes)))

	// default relocation values
	r.typ = ob.fmt.relocAbs
	r.snum = RAbs

	var s *Section
	if section != NoSeg {
		s = ob.getSectionByIndex(section)
	}
	fi := int32(NoSect)
	if s != nil {
		fi = s.fileindex
	}

	switch reltype {
	case RLAbs:
		if section == NoSeg {
			// absolute value; hardly reachable from real input
			r.ext = false
			r.snum = RAbs
		} else if fi == NoSect {
			// external
			r.snum = ob.extsyms[section]
		} else {
			// local
			r.ext = false
			r.snum = uint32(fi)
			adjust = -int64(sect.size)
		}

	case RLRel, RLBranch:
		r.typ = ob.fmt.relocRel
		r.pcrel = true
		if section == NoSeg {
			ob.diag.errorf("Mach-O does not support relative references to absolute addresses")
			return 0
		} else if fi == NoSect {
			// external
			sect.extreloc = true
			r.snum = ob.extsyms[section]
			if reltype == RLBranch {
				r.typ = X86_64_RELOC_BRANCH
			} else if r.typ == GENERIC_RELOC_VANILLA {
				adjust = -int64(sect.size)
			}
		} else {
			// local
			r.ext = false
			r.snum = uint32(fi)
			adjust = -int64(sect.size)
		}

	case RLSub:
		r.pcrel = false
		r.typ = X86_64_RELOC_SUBTRACTOR

	case RLGot, RLGotLoad, RLTlv:
		switch reltype {
		case RLGot:
			r.typ = X86_64_RELOC_GOT
		case RLGotLoad:
			r.typ = X86_64_RELOC_GOT_LOAD
		case RLTlv:
			r.typ = ob.fmt.relocTlv
		}

		r.pcrel = true
		if section == NoSeg {
			ob.diag.errorf("unsupported use of WRT")
		} else if fi == NoSect {
			// external
			r.snum = ob.extsyms[section]
		} else {
			// internal; must resolve to a global symbol
			sym := ob.findGsym(s, uint64(offset), reltype != RLTlv)
			if sym == nil {
				return 0
			}
			r.snum = uint32(sym.initialSnum)
		}
	}

	// NeXT as puts relocs into the file in reverse address order; the
	// writer walks this list backwards to match.
	sect.relocs = append(sect.relocs, r)
	if r.ext {
		sect.extreloc = true
	}
	sect.nreloc++

	return adjust
}

// fixupRelocs rewrites each external relocation's symbol number from
// the pre-sort ordinal it was created with to the final index the
// layout pass assigned.
func (ob *ObjectBuilder) fixupRelocs(s *Section) {
	if len(s.relocs) == 0 {
		return
	}

	final := make(map[int32]int32, len(ob.syms))
	for _, sym := range ob.syms {
		if sym.initialSnum >= 0 {
			final[sym.initialSnum] = sym.snum
		}
	}

	for _, r := range s.relocs {
		if !r.ext {
			continue
		}
		if snum, ok := final[int32(r.snum)]; ok {
			r.snum = uint32(snum)
		}
	}
}
