// Completion: 100% - Entry point
package main

import "os"

// A small x86/x86-64 assembler back-end producing relocatable Mach-O
// object files for macOS.

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
