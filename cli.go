// Completion: 100% - Command-line interface
package main

import (
	"fmt"
	"os"

	"github.com/blacktop/go-macho"
	"github.com/spf13/cobra"
	"github.com/xyproto/env/v2"
)

const versionString = "machoasm 1.0.0"

// VerboseMode makes the tool narrate what it does on stderr.
var VerboseMode bool

var rootCmd = &cobra.Command{
	Use:   "machoasm",
	Short: "An x86/x86-64 assembler back-end that emits Mach-O object files",
	Long: `machoasm assembles a small line-based input language into relocatable
Mach-O object files (MH_OBJECT), in either the i386 (macho32) or the
x86_64 (macho64) variant, ready to be fed to the Apple linker.

Environment:
    MACHOASM_FORMAT     default output format (macho32 or macho64)
    MACHOASM_VERBOSE    enable verbose mode
    MACHOASM_DEBUG      dump builder state while writing`,
	SilenceUsage: true,
}

var (
	outputPath string
	formatName string
)

var buildCmd = &cobra.Command{
	Use:   "build <file.asm>",
	Short: "Assemble a source file into a Mach-O object file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmdBuild(args[0])
	},
}

var dumpCmd = &cobra.Command{
	Use:   "dump <file.o>",
	Short: "Print a summary of a Mach-O object file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmdDump(args[0])
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(versionString)
	},
}

func init() {
	buildCmd.Flags().StringVarP(&outputPath, "output", "o", "", "output object filename (default: input name with .o)")
	buildCmd.Flags().StringVarP(&formatName, "format", "f", env.Str("MACHOASM_FORMAT", "macho64"), "output format: macho32 or macho64")
	rootCmd.PersistentFlags().BoolVarP(&VerboseMode, "verbose", "v", env.Bool("MACHOASM_VERBOSE"), "verbose mode")
	rootCmd.AddCommand(buildCmd, dumpCmd, versionCmd)
}

func cmdBuild(inputFile string) error {
	of, err := ParseFormat(formatName)
	if err != nil {
		return err
	}

	in, err := os.Open(inputFile)
	if err != nil {
		return err
	}
	defer in.Close()

	if outputPath == "" {
		outputPath = Filename(inputFile)
	}

	if VerboseMode {
		fmt.Fprintf(os.Stderr, "-> Assembling %s -> %s (%s)\n", inputFile, outputPath, of.Name)
	}

	ob := NewObjectBuilder(of)
	asm := NewAssembler(ob)

	asmErr := asm.Assemble(in, inputFile)

	out, err := os.Create(outputPath)
	if err != nil {
		return err
	}

	// Recoverable assembly problems never stop the writer: the object
	// is emitted regardless and the failure is reported afterwards.
	if err := ob.Finalize(out); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	errors, warnings := ob.Diagnostics()
	if VerboseMode {
		fmt.Fprintf(os.Stderr, "-> Wrote %s (%d error(s), %d warning(s))\n", outputPath, errors, warnings)
	}

	if asmErr != nil {
		return asmErr
	}
	if errors > 0 {
		return fmt.Errorf("%s: %d error(s) during assembly", inputFile, errors)
	}
	return nil
}

func cmdDump(path string) error {
	f, err := macho.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	fmt.Printf("%s: cpu %#x, %d load command(s)\n", path, uint32(f.CPU), len(f.Loads))

	for _, s := range f.Sections {
		fmt.Printf("  section %s,%s addr=%#x size=%d nreloc=%d\n",
			s.Seg, s.Name, s.Addr, s.Size, s.Nreloc)
		for _, r := range s.Relocs {
			fmt.Printf("    reloc addr=%#x value=%d type=%d len=%d pcrel=%v extern=%v\n",
				r.Addr, r.Value, r.Type, r.Len, r.Pcrel, r.Extern)
		}
	}

	if f.Symtab != nil {
		for _, sym := range f.Symtab.Syms {
			fmt.Printf("  symbol %-20s type=%#02x sect=%d value=%#x\n",
				sym.Name, uint8(sym.Type), sym.Sect, sym.Value)
		}
	}

	return nil
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}
