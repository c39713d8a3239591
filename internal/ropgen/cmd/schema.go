package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"
)

// Output formats for a generated chain.
const (
	FormatScript = "script"
	FormatValues = "values"
	FormatRaw    = "raw"
	FormatJSON   = "json"
)

var formats = []string{FormatScript, FormatValues, FormatRaw, FormatJSON}

// Config represents one ropgen invocation.
type Config struct {
	Binary     string `json:"binary" jsonschema:"title=Binary,description=Path to the x86-64 ELF binary to scan"`
	Debug      bool   `json:"debug,omitempty" jsonschema:"title=Debug,description=Enable debug logging"`
	JSON       bool   `json:"json,omitempty" jsonschema:"title=JSON,description=List gadgets as JSON"`
	Ropchain   bool   `json:"ropchain,omitempty" jsonschema:"title=Ropchain,description=Generate an execve(/bin/sh) chain instead of listing gadgets"`
	Writable   string `json:"writable,omitempty" jsonschema:"title=Writable Address,description=Hex address the chain writes /bin/sh to (default: lowest writable segment),pattern=^(0x)?[0-9a-fA-F]+$"`
	Format     string `json:"format,omitempty" jsonschema:"title=Format,description=Chain output format,enum=script,enum=values,enum=raw,enum=json,default=script"`
	Offset     int    `json:"offset,omitempty" jsonschema:"title=Offset,description=Padding bytes before the saved return address,minimum=0"`
	Output     string `json:"output,omitempty" jsonschema:"title=Output,description=File to write output to instead of stdout"`
	CPUProfile string `json:"cpuprofile,omitempty" jsonschema:"title=CPU Profile,description=Path for CPU profile output"`
	MemProfile string `json:"memprofile,omitempty" jsonschema:"title=Memory Profile,description=Path for heap profile output"`
}

// configFromFlags reads the root command flags into a Config.
func configFromFlags(cmd *cobra.Command, args []string) Config {
	var cfg Config
	if len(args) > 0 {
		cfg.Binary = args[0]
	}
	cfg.Debug, _ = cmd.Flags().GetBool("debug")
	cfg.JSON, _ = cmd.Flags().GetBool("json")
	cfg.Ropchain, _ = cmd.Flags().GetBool("ropchain")
	cfg.Writable, _ = cmd.Flags().GetString("writable")
	cfg.Format, _ = cmd.Flags().GetString("format")
	cfg.Offset, _ = cmd.Flags().GetInt("offset")
	cfg.Output, _ = cmd.Flags().GetString("output")
	cfg.CPUProfile, _ = cmd.Flags().GetString("cpuprofile")
	cfg.MemProfile, _ = cmd.Flags().GetString("memprofile")
	return cfg
}

// Validate checks flag values that cobra cannot.
func (c Config) Validate() error {
	var errs []error
	if c.Binary == "" {
		errs = append(errs, errors.New("no binary given"))
	}
	if c.Format != "" && !slices.Contains(formats, c.Format) {
		errs = append(errs, fmt.Errorf("unknown format %q (want one of %s)", c.Format, strings.Join(formats, ", ")))
	}
	if c.Offset < 0 {
		errs = append(errs, fmt.Errorf("negative offset %d", c.Offset))
	}
	if c.Writable != "" {
		if _, err := parseHex(c.Writable); err != nil {
			errs = append(errs, fmt.Errorf("writable: %w", err))
		}
	}
	return errors.Join(errs...)
}

// parseHex parses an address with or without a 0x prefix.
func parseHex(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid hex address %q: %w", s, err)
	}
	return v, nil
}

var schemaCmd = &cobra.Command{
	Use:    "schema",
	Short:  "Generate JSON schema for configuration",
	Long:   "Generate JSON schema for the ropgen configuration",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		reflector := new(jsonschema.Reflector)
		bts, err := json.MarshalIndent(reflector.Reflect(&Config{}), "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal schema: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(bts))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}
