// Completion: 100% - Section table and the section directive handler
package main

import (
	"math/bits"
	"strconv"
	"strings"
)

// sectmap translates the assembler's short section aliases into their
// Mach-O segment,section pairs.
var sectmap = []struct {
	asmsect  string
	segname  string
	sectname string
	flags    uint32
}{
	{".text", "__TEXT", "__text", SRegular | SAttrSomeInstructions | SAttrPureInstructions},
	{".data", "__DATA", "__data", SRegular},
	{".rodata", "__DATA", "__const", SRegular},
	{".bss", "__DATA", "__bss", SZerofill},
}

func (ob *ObjectBuilder) getSectionByName(segname, sectname string) *Section {
	for _, s := range ob.sects {
		if s.segname == segname && s.sectname == sectname {
			return s
		}
	}
	return nil
}

func (ob *ObjectBuilder) getSectionByIndex(index int32) *Section {
	for _, s := range ob.sects {
		if s.index == index {
			return s
		}
	}
	return nil
}

// alignLog2 returns log2(v) for powers of two and -1 otherwise.
func alignLog2(v uint64) int {
	if v == 0 || v&(v-1) != 0 {
		return -1
	}
	return bits.TrailingZeros64(v)
}

// ilog2 is floor(log2(v)), 0 for 0.
func ilog2(v uint64) int {
	if v == 0 {
		return 0
	}
	return bits.Len64(v) - 1
}

func alignUp(v uint64, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}

// Section parses a section directive and returns the section identity,
// creating the section on first sight. The spec is either one of the
// known aliases or an explicit "segment,section" pair, optionally
// followed by whitespace-separated attributes: align=N, data, code,
// text, mixed, bss. An empty spec selects .text.
func (ob *ObjectBuilder) Section(spec string) int32 {
	var name, attributes string

	if spec == "" {
		name = ".text"
	} else {
		name, attributes = splitToken(spec)
	}

	var segment, section string
	var flags uint32

	comma := strings.IndexByte(name, ',')
	if comma >= 0 {
		segment = name[:comma]
		section = name[comma+1:]

		if len(segment) == 0 {
			ob.diag.errorf("empty segment name")
		} else if len(segment) >= 16 {
			ob.diag.errorf("segment name %s too long", segment)
		}

		if len(section) == 0 {
			ob.diag.errorf("empty section name")
		} else if len(section) >= 16 {
			ob.diag.errorf("section name %s too long", section)
		}

		switch section {
		case "__text":
			flags = SRegular | SAttrSomeInstructions | SAttrPureInstructions
		case "__bss":
			flags = SZerofill
		default:
			flags = SRegular
		}
	} else {
		found := false
		for _, sm := range sectmap {
			if name == sm.asmsect {
				segment = sm.segname
				section = sm.sectname
				flags = sm.flags
				found = true
				break
			}
		}
		if !found {
			ob.diag.errorf("unknown section name")
			return NoSeg
		}
	}

	s := ob.getSectionByName(segment, section)
	newSeg := s == nil
	if newSeg {
		s = &Section{
			data:     NewSectionBuffer(),
			index:    ob.SegAlloc(),
			align:    -1,
			pad:      ^uint32(0),
			segname:  segment,
			sectname: section,
			flags:    flags,
		}
		ob.segNsects++
		s.fileindex = int32(ob.segNsects)
		ob.sects = append(ob.sects, s)
	}

	s.byName = s.byName || comma >= 0 // was specified by full Mach-O name

	attrFlags := ^uint32(0)

	for attributes != "" {
		var attr string
		attr, attributes = splitToken(attributes)
		if attr == "" {
			continue
		}

		if strings.HasPrefix(attr, "align=") {
			value, err := strconv.ParseUint(attr[6:], 0, 64)
			newAlignment := -1
			if err == nil {
				newAlignment = alignLog2(value)
			}

			if err != nil {
				ob.diag.errorf("unknown or missing alignment value %q specified for section %q",
					attr[6:], name)
			} else if newAlignment < 0 {
				ob.diag.errorf("alignment of %d (for section %q) is not a power of two",
					value, name)
			}

			if s.align < newAlignment {
				s.align = newAlignment
			}
		} else {
			switch strings.ToLower(attr) {
			case "data":
				attrFlags = SRegular
			case "code", "text":
				attrFlags = SRegular | SAttrSomeInstructions | SAttrPureInstructions
			case "mixed":
				attrFlags = SRegular | SAttrSomeInstructions
			case "bss":
				attrFlags = SZerofill
			default:
				ob.diag.errorf("unknown section attribute %s for section %s", attr, name)
			}
		}

		if attrFlags != ^uint32(0) {
			if !newSeg && s.flags != attrFlags {
				ob.diag.errorf("inconsistent section attributes for section %s", name)
			} else {
				s.flags = attrFlags
			}
		}
	}

	return s.index
}

// SectAlign raises the alignment of a section; it never lowers it, and
// ignores values that are not powers of two.
func (ob *ObjectBuilder) SectAlign(seg int32, value uint64) {
	if seg&1 != 0 {
		panic("machoasm: sectalign on a section-base identity")
	}

	s := ob.getSectionByIndex(seg)
	if s == nil {
		return
	}

	align := alignLog2(value)
	if align < 0 {
		return
	}
	if s.align < align {
		s.align = align
	}
}

// splitToken peels the first whitespace-separated token off s.
func splitToken(s string) (token, rest string) {
	s = strings.TrimLeft(s, " \t")
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		return s[:i], strings.TrimLeft(s[i:], " \t")
	}
	return s, ""
}
