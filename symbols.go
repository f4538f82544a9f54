// Completion: 100% - Symbol definition and the external-symbol map
package main

import "strings"

// Symdef registers a label. linkage 0 is local, 1 global, 2 common
// (treated like global here), 3 a forward-reference fixup, which this
// format rejects. special symbol types are not supported.
func (ob *ObjectBuilder) Symdef(name string, section int32, offset int64, linkage int, special string) {
	if special != "" {
		ob.diag.errorf("the Mach-O output format does not support any special symbol types")
		return
	}

	if linkage == 3 {
		ob.diag.errorf("the Mach-O format does not support forward reference fixups")
		return
	}

	if strings.HasPrefix(name, "..") && (len(name) < 3 || name[2] != '@') {
		// Assembler-internal symbols never reach the Mach-O symbol
		// table. The two WRT sentinels are consumed silently; anything
		// else is a mistake.
		if name != "..gotpcrel" && name != "..tlvp" {
			ob.diag.errorf("unrecognized special symbol `%s'", name)
		}
		return
	}

	sym := &Symbol{
		name:        name,
		strx:        ob.strslen,
		value:       uint64(offset),
		initialSnum: -1,
	}

	// external and common symbols get N_EXT
	if linkage != 0 {
		sym.typ |= NExt
	}

	if section == NoSeg {
		// symbols in no section are absolute, and all of them are
		// available as references
		sym.typ |= NAbs
		sym.sect = NoSect
		ob.absoluteSect.gsyms.insert(sym.value, sym)
	} else {
		s := ob.getSectionByIndex(section)

		sym.typ |= NSect

		if s != nil {
			sym.sect = uint8(s.fileindex)
		} else {
			sym.sect = NoSect
		}

		// the ordinal relocations will record until the layout pass
		// assigns the real one
		sym.initialSnum = int32(ob.nsyms)

		if s == nil {
			// Every external symbol owns the section identity the
			// assembler allocated for it, so the identity doubles as
			// the map key for relocations against it.
			ob.extsyms[section] = ob.nsyms

			switch linkage {
			case 1, 2:
				// global and common symbols are the same thing here;
				// both keep their size in value
				sym.typ = NExt
			default:
				panic("machoasm: in-file index for section not found")
			}
		} else if linkage != 0 {
			s.gsyms.insert(sym.value, sym)
		}
	}

	ob.syms = append(ob.syms, sym)
	ob.nsyms++
}

// findGsym locates the global symbol a ..gotpcrel or ..tlvp reference
// resolves to: the symbol at exactly offset, or the closest one at or
// below it when exact is not required.
func (ob *ObjectBuilder) findGsym(s *Section, offset uint64, exact bool) *Symbol {
	n := s.gsyms.search(offset)

	if n == nil || (exact && n.key != offset) {
		kind := "global"
		if s == &ob.absoluteSect {
			kind = "absolute"
		}
		ob.diag.errorf("unable to find a suitable %s symbol for this reference", kind)
		return nil
	}

	return n.sym
}
