// Completion: 100% - Output-format selection
package main

import (
	"fmt"
	"path/filepath"
	"strings"
)

// OutputFormats lists every format this assembler can emit.
var OutputFormats = []*OutputFormat{
	OfMacho32,
	OfMacho64,
}

// ParseFormat resolves a format name like "macho64" to its record.
func ParseFormat(name string) (*OutputFormat, error) {
	switch strings.ToLower(name) {
	case "macho32", "macho-i386", "i386":
		return OfMacho32, nil
	case "macho64", "macho-x86_64", "x86_64", "amd64":
		return OfMacho64, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s (supported: macho32, macho64)", name)
	}
}

// withExtension swaps the path's extension, so hello.asm becomes
// hello.o.
func withExtension(inname, ext string) string {
	return strings.TrimSuffix(inname, filepath.Ext(inname)) + ext
}
