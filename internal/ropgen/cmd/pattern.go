package cmd

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gitlab.com/stephen-fox/brkit/pattern"
)

var patternCmd = &cobra.Command{
	Use:   "pattern <length>",
	Short: "Print a de Bruijn pattern for locating the saved return address",
	Example: `
# Send 200 bytes of pattern to the target, then look up the crashed RIP
ropgen pattern 200
ropgen offset 200 0x6161616c61616161
  `,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid length %q: %w", args[0], err)
		}
		pat, err := deBruijn(n)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(pat))
		return nil
	},
}

var offsetCmd = &cobra.Command{
	Use:   "offset <length> <fragment>",
	Short: "Find the offset of a crash value inside a de Bruijn pattern",
	Long: `Offset regenerates the pattern of the given length and prints where the
fragment occurs. A 0x-prefixed fragment is read as a little-endian register
value (as shown by a debugger); anything else is matched as raw text.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid length %q: %w", args[0], err)
		}
		pat, err := deBruijn(n)
		if err != nil {
			return err
		}
		off, err := findOffset(pat, args[1])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), off)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(patternCmd)
	rootCmd.AddCommand(offsetCmd)
}

func deBruijn(n int) ([]byte, error) {
	var buf bytes.Buffer
	if err := (&pattern.DeBruijn{}).WriteToN(&buf, n); err != nil {
		return nil, fmt.Errorf("generate pattern of %d bytes: %w", n, err)
	}
	return buf.Bytes(), nil
}

// fragmentBytes converts a fragment argument to the bytes it stands for in
// memory.
func fragmentBytes(fragment string) ([]byte, error) {
	digits, isHex := strings.CutPrefix(strings.ToLower(fragment), "0x")
	if !isHex {
		if fragment == "" {
			return nil, errors.New("empty fragment")
		}
		return []byte(fragment), nil
	}

	v, err := strconv.ParseUint(digits, 16, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid hex fragment %q: %w", fragment, err)
	}
	width := (len(digits) + 1) / 2
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:width], nil
}

func findOffset(pat []byte, fragment string) (int, error) {
	needle, err := fragmentBytes(fragment)
	if err != nil {
		return 0, err
	}
	off := bytes.Index(pat, needle)
	if off < 0 {
		return 0, fmt.Errorf("fragment %q not found in %d-byte pattern", fragment, len(pat))
	}
	return off, nil
}
