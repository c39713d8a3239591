package cmd

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"minimal", Config{Binary: "./vuln"}, ""},
		{"full", Config{Binary: "./vuln", Ropchain: true, Format: FormatRaw, Offset: 40, Writable: "0x404000"}, ""},
		{"no binary", Config{}, "no binary given"},
		{"bad format", Config{Binary: "./vuln", Format: "elf"}, `unknown format "elf"`},
		{"negative offset", Config{Binary: "./vuln", Offset: -1}, "negative offset"},
		{"bad writable", Config{Binary: "./vuln", Writable: "0xzz"}, "writable: invalid hex address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseHex(t *testing.T) {
	tests := []struct {
		in   string
		want uint64
	}{
		{"0x404000", 0x404000},
		{"404000", 0x404000},
		{"0X10", 0x10},
		{" 0xdeadbeef ", 0xdeadbeef},
	}

	for _, tt := range tests {
		got, err := parseHex(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := parseHex("")
	assert.Error(t, err)
}

func TestConfigFromFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "ropgen"}
	registerRootFlags(cmd)

	require.NoError(t, cmd.ParseFlags([]string{"-r", "-F", "values", "--offset", "16", "-w", "0x601000", "-o", "out.txt"}))
	cfg := configFromFlags(cmd, []string{"./vuln"})

	assert.Equal(t, Config{
		Binary:   "./vuln",
		Ropchain: true,
		Format:   FormatValues,
		Offset:   16,
		Writable: "0x601000",
		Output:   "out.txt",
	}, cfg)
}

func TestSchemaCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"schema"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())

	var schema map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &schema))
	assert.Contains(t, out.String(), `"binary"`)
	assert.Contains(t, out.String(), `"ropchain"`)
	assert.Contains(t, out.String(), `"script"`)
}
