package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	pathpkg "path/filepath"
	"runtime/pprof"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"ropgen/internal/analysis"
	"ropgen/internal/codegen"
	"ropgen/internal/elfx"
	"ropgen/internal/gadget"
	"ropgen/internal/rop"
	"ropgen/internal/ropgen/log"
	"ropgen/internal/ui/colorize"
)

// GadgetJSON is one gadget in the --json listing.
type GadgetJSON struct {
	Address      string   `json:"address"`
	Function     string   `json:"function,omitempty"`
	Instructions []string `json:"instructions"`
}

// ListingJSON is the --json listing of a binary's gadget pool.
type ListingJSON struct {
	Binary  string       `json:"binary"`
	Count   int          `json:"count"`
	Gadgets []GadgetJSON `json:"gadgets"`
}

func init() {
	registerRootFlags(rootCmd)
}

func registerRootFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringP("cwd", "c", "", "Current working directory")
	cmd.PersistentFlags().BoolP("debug", "d", false, "Debug")

	cmd.Flags().BoolP("help", "h", false, "Help")
	cmd.Flags().BoolP("json", "j", false, "List gadgets as JSON")
	cmd.Flags().BoolP("ropchain", "r", false, "Generate an execve(\"/bin/sh\") ropchain")
	cmd.Flags().StringP("writable", "w", "", "Hex address to write \"/bin/sh\" to (default: lowest writable segment)")
	cmd.Flags().StringP("format", "F", FormatScript, "Chain output format: script, values, raw, json")
	cmd.Flags().Int("offset", 0, "Padding bytes before the saved return address (script, raw)")
	cmd.Flags().StringP("output", "o", "", "Write output to file instead of stdout")
	cmd.Flags().String("cpuprofile", "", "Write CPU profile to file")
	cmd.Flags().String("memprofile", "", "Write memory profile to file")
}

var rootCmd = &cobra.Command{
	Use:   "ropgen [binary]",
	Short: "ROP gadget finder and ropchain generator for x86-64 ELF",
	Long: `Ropgen scans an x86-64 ELF binary for return-oriented programming gadgets.
By default it lists every gadget. With --ropchain it builds a chain that
writes "/bin/sh" to writable memory and calls execve on it.`,
	Example: `
# List gadgets
ropgen ./vuln

# Generate a pwntools script with 40 bytes of padding
ropgen -r --offset 40 ./vuln

# Raw payload bytes to a file
ropgen -r -F raw --offset 40 -o payload.bin ./vuln
  `,
	Args: cobra.ExactArgs(1),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		debug, _ := cmd.Flags().GetBool("debug")
		log.Setup(debug)
		_, err := ResolveCwd(cmd)
		return err
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := configFromFlags(cmd, args)
		if err := cfg.Validate(); err != nil {
			return err
		}

		if cfg.CPUProfile != "" {
			f, err := os.Create(cfg.CPUProfile)
			if err != nil {
				return fmt.Errorf("could not create CPU profile: %w", err)
			}
			defer f.Close()
			if err := pprof.StartCPUProfile(f); err != nil {
				return fmt.Errorf("could not start CPU profile: %w", err)
			}
			defer pprof.StopCPUProfile()
		}

		if cfg.MemProfile != "" {
			defer func() {
				f, err := os.Create(cfg.MemProfile)
				if err != nil {
					fmt.Fprintf(os.Stderr, "could not create memory profile: %v\n", err)
					return
				}
				defer f.Close()
				if err := pprof.WriteHeapProfile(f); err != nil {
					fmt.Fprintf(os.Stderr, "could not write memory profile: %v\n", err)
				}
			}()
		}

		// Colour only a terminal; files and pipes get plain text.
		if cfg.Output != "" || !term.IsTerminal(os.Stdout.Fd()) {
			os.Setenv("ROPGEN_NO_COLOR", "1")
		}

		return run(cmd.Context(), cfg, cmd.OutOrStdout())
	},
}

// run executes one invocation, writing to stdout unless cfg.Output is set.
func run(ctx context.Context, cfg Config, stdout io.Writer) (err error) {
	absPath, err := pathpkg.Abs(cfg.Binary)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	img, pool, err := loadPool(ctx, absPath)
	if err != nil {
		return err
	}
	defer img.Close()

	out := stdout
	if cfg.Output != "" {
		f, ferr := os.Create(cfg.Output)
		if ferr != nil {
			return fmt.Errorf("create output: %w", ferr)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		out = f
	}

	if !cfg.Ropchain {
		if cfg.JSON {
			return writeListingJSON(out, img, pool)
		}
		return writeListing(out, img, pool)
	}

	writable, err := writableAddr(img, cfg.Writable)
	if err != nil {
		return err
	}

	chain, err := rop.Binsh(pool, writable)
	if err != nil {
		slog.Error("Failed to generate ropchain", "binary", pathpkg.Base(absPath), "gadgets", len(pool), "error", err)
		return fmt.Errorf("ropchain: %w", err)
	}
	slog.Debug("Generated ropchain", "elements", len(chain), "writable", fmt.Sprintf("0x%x", writable))

	if err := writeChain(out, cfg, absPath, writable, chain); err != nil {
		return err
	}
	if cfg.Output != "" {
		slog.Info("Wrote ropchain", "file", cfg.Output, "format", cfg.Format)
	}
	return nil
}

// loadPool opens the binary and scans its code for gadgets.
func loadPool(ctx context.Context, path string) (*elfx.Image, gadget.Pool, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("file not found: %s", path)
		}
		return nil, nil, fmt.Errorf("cannot access file: %w", err)
	}

	img, err := elfx.Open(path)
	if err != nil {
		return nil, nil, err
	}

	start := time.Now()
	regions := analysis.Regions(img)
	pool, err := gadget.Scan(ctx, regions)
	if err != nil {
		img.Close()
		return nil, nil, fmt.Errorf("scan %s: %w", pathpkg.Base(path), err)
	}

	slog.Debug("Scanned binary",
		"file", pathpkg.Base(path),
		"functions", len(img.Funcs),
		"regions", len(regions),
		"gadgets", len(pool),
		"elapsed", time.Since(start))
	return img, pool, nil
}

// writableAddr returns the user-supplied address or the lowest writable
// segment of img.
func writableAddr(img *elfx.Image, flag string) (uint64, error) {
	if flag != "" {
		return parseHex(flag)
	}
	addr, ok := img.LowestWritable()
	if !ok {
		return 0, errors.New("binary has no writable segment, pass --writable")
	}
	return addr, nil
}

// writeListing prints one gadget per line. Piped output keeps the bare
// "0x<addr>: inst ; inst ;" format; a terminal also gets function labels.
func writeListing(w io.Writer, img *elfx.Image, pool gadget.Pool) error {
	labels := colorize.Enabled()
	for _, g := range pool {
		line := g.String()
		if fn := analysis.FuncLabel(img, g.Addr()); fn != "" && labels {
			line += " # " + fn
		}
		if _, err := fmt.Fprintln(w, colorize.GadgetLine(line)); err != nil {
			return err
		}
	}
	return nil
}

func writeListingJSON(w io.Writer, img *elfx.Image, pool gadget.Pool) error {
	out := ListingJSON{
		Binary:  pathpkg.Base(img.Path),
		Count:   len(pool),
		Gadgets: make([]GadgetJSON, 0, len(pool)),
	}
	for _, g := range pool {
		out.Gadgets = append(out.Gadgets, GadgetJSON{
			Address:      fmt.Sprintf("0x%x", g.Addr()),
			Function:     analysis.FuncLabel(img, g.Addr()),
			Instructions: g.Instructions(),
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writeChain(w io.Writer, cfg Config, binary string, writable uint64, chain rop.Chain) error {
	switch cfg.Format {
	case FormatValues:
		return codegen.WriteValues(w, chain)
	case FormatRaw:
		_, err := w.Write(codegen.Raw(chain, cfg.Offset))
		return err
	case FormatJSON:
		return codegen.WriteJSON(w, binary, writable, chain)
	default:
		return codegen.WriteScript(w, binary, chain, cfg.Offset)
	}
}

func Execute() {
	// Bypass fang when output is being piped
	if !term.IsTerminal(os.Stdout.Fd()) {
		if err := rootCmd.Execute(); err != nil {
			os.Exit(1)
		}
		return
	}

	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}

func ResolveCwd(cmd *cobra.Command) (string, error) {
	cwd, _ := cmd.Flags().GetString("cwd")
	if cwd != "" {
		err := os.Chdir(cwd)
		if err != nil {
			return "", fmt.Errorf("failed to change directory: %w", err)
		}
		return cwd, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current working directory: %w", err)
	}
	return cwd, nil
}
