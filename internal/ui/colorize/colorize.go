package colorize

import (
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// Enabled reports whether colouring is allowed. ROPGEN_NO_COLOR turns it off.
func Enabled() bool {
	return os.Getenv("ROPGEN_NO_COLOR") == ""
}

// getAssemblyLexer returns an Intel-syntax lexer with fallbacks
func getAssemblyLexer() chroma.Lexer {
	candidates := []string{"nasm", "gas"}
	for _, name := range candidates {
		if lexer := lexers.Get(name); lexer != nil {
			return lexer
		}
	}
	return nil
}

// getDisasmStyle returns the disassembly style with fallbacks
func getDisasmStyle() *chroma.Style {
	candidates := []string{StyleName, "dracula", "monokai"}
	for _, name := range candidates {
		if style := styles.Get(name); style != nil {
			return style
		}
	}
	return styles.Fallback
}

// getTerminalFormatter returns an appropriate terminal formatter
func getTerminalFormatter() chroma.Formatter {
	candidates := []string{"terminal16m", "terminal256"}
	for _, name := range candidates {
		if formatter := formatters.Get(name); formatter != nil {
			return formatter
		}
	}
	return formatters.Fallback
}

// ColorizeAssembly applies syntax highlighting to Intel-syntax x86-64 code.
func ColorizeAssembly(code string) (string, error) {
	if !Enabled() {
		return code, nil
	}

	lexer := getAssemblyLexer()
	if lexer == nil {
		return code, nil
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code, err
	}

	var buf strings.Builder
	if err := getTerminalFormatter().Format(&buf, getDisasmStyle(), iterator); err != nil {
		return code, err
	}

	return buf.String(), nil
}

// GadgetLine colorizes a "0x<addr>: inst ; inst ;" line. The address is
// dimmed and the instructions go through the nasm lexer. An optional
// trailing "# label" is highlighted separately.
func GadgetLine(line string) string {
	if !Enabled() {
		return line
	}

	addr, rest, ok := strings.Cut(line, ": ")
	if !ok || !strings.HasPrefix(addr, "0x") {
		return colorizeFullLine(line)
	}

	label := ""
	if i := strings.Index(rest, " # "); i >= 0 {
		rest, label = rest[:i], rest[i+1:]
	}

	out := fmt.Sprintf("\033[38;2;79;79;79m%s:\033[0m %s", addr, colorizeFullLine(rest))
	if label != "" {
		out += fmt.Sprintf(" \033[38;2;235;194;237m%s\033[0m", label)
	}
	return out
}

// colorizeFullLine uses Chroma to colorize an assembly line
func colorizeFullLine(line string) string {
	colored, err := ColorizeAssembly(line)
	if err != nil {
		return line
	}
	return strings.TrimRight(colored, "\n")
}

// StripANSI removes ANSI escape sequences from s.
func StripANSI(s string) string {
	var result strings.Builder
	inEscape := false

	for _, r := range s {
		if r == '\x1b' {
			inEscape = true
		} else if inEscape {
			if r == 'm' {
				inEscape = false
			}
		} else {
			result.WriteRune(r)
		}
	}

	return result.String()
}
