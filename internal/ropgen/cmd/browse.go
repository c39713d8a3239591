package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	pathpkg "path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/v2/list"
	"github.com/charmbracelet/bubbles/v2/spinner"
	"github.com/charmbracelet/bubbles/v2/viewport"
	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/lipgloss/v2"
	"github.com/spf13/cobra"

	"ropgen/internal/analysis"
	"ropgen/internal/gadget"
	"ropgen/internal/rop"
	"ropgen/internal/ropgen/styles"
	"ropgen/internal/ui/colorize"
)

type viewMode int

const (
	viewChain viewMode = iota
	viewGadgets
	viewGadget
)

type gadgetItem struct {
	gadget   gadget.Gadget
	function string
	text     string
}

func (i gadgetItem) FilterValue() string { return i.text + " " + i.function }

// Custom item delegate for the gadget list
type itemDelegate struct{}

func (d itemDelegate) Height() int                               { return 1 }
func (d itemDelegate) Spacing() int                              { return 0 }
func (d itemDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }

func (d itemDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	i, ok := listItem.(gadgetItem)
	if !ok {
		return
	}

	indicator := " "
	addrStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	if index == m.Index() {
		indicator = ">"
		addrStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("170"))
	}

	insts := strings.Join(i.gadget.Instructions(), " ; ")
	line := fmt.Sprintf(" %s  %s  %s",
		indicator,
		addrStyle.Render(fmt.Sprintf("%x", i.gadget.Addr())),
		colorizeFullLine(insts))
	if i.function != "" {
		line += lipgloss.NewStyle().Foreground(lipgloss.Color("99")).Render("  " + i.function)
	}
	fmt.Fprint(w, line)
}

func colorizeFullLine(s string) string {
	colored, err := colorize.ColorizeAssembly(s)
	if err != nil {
		return s
	}
	return strings.TrimRight(colored, "\n")
}

type model struct {
	viewport    viewport.Model
	gadgetsList list.Model
	spinner     spinner.Model
	scan        tea.Cmd
	mode        viewMode
	filepath    string
	writable    string
	report      string
	gadgetCount int
	loading     bool
	width       int
	height      int
}

type scannedMsg struct {
	items  []list.Item
	report string
	count  int
	err    error
}

// scanCmd scans the binary off the UI goroutine and builds the chain report.
func scanCmd(ctx context.Context, path, writableFlag string) tea.Cmd {
	return func() tea.Msg {
		img, pool, err := loadPool(ctx, path)
		if err != nil {
			return scannedMsg{err: err}
		}
		defer img.Close()

		items := make([]list.Item, 0, len(pool))
		for _, g := range pool {
			items = append(items, gadgetItem{
				gadget:   g,
				function: analysis.FuncLabel(img, g.Addr()),
				text:     strings.Join(g.Instructions(), " ; "),
			})
		}

		writable, err := writableAddr(img, writableFlag)
		var chain rop.Chain
		if err == nil {
			chain, err = rop.Binsh(pool, writable)
		}
		if err != nil {
			slog.Debug("No ropchain for browse view", "error", err)
		}

		return scannedMsg{
			items:  items,
			report: chainReport(pathpkg.Base(path), len(pool), len(img.Funcs), writable, chain, err),
			count:  len(pool),
		}
	}
}

func NewModel(ctx context.Context, filepath, writable string) model {
	vp := viewport.New()
	vp.SetWidth(80)
	vp.SetHeight(24)

	gadgetsList := list.New([]list.Item{}, itemDelegate{}, 80, 24)
	gadgetsList.SetShowStatusBar(false)
	gadgetsList.SetFilteringEnabled(true)
	gadgetsList.Title = "Gadgets"
	gadgetsList.Styles.Title = lipgloss.NewStyle().
		Foreground(lipgloss.Color("99")).
		MarginLeft(2)
	gadgetsList.SetShowHelp(true)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("170"))

	m := model{
		viewport:    vp,
		gadgetsList: gadgetsList,
		spinner:     s,
		mode:        viewChain,
		filepath:    filepath,
		writable:    writable,
		loading:     true,
		width:       80,
		height:      24,
	}
	m.scan = scanCmd(ctx, filepath, writable)
	m.updateContent()
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.scan, m.spinner.Tick)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case scannedMsg:
		m.loading = false
		if msg.err != nil {
			m.report = fmt.Sprintf("# ropgen\n\n> %s\n", msg.err)
		} else {
			m.report = msg.report
			m.gadgetCount = msg.count
			m.gadgetsList.SetItems(msg.items)
		}
		m.updateContent()
		return m, nil

	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(msg)
		m.updateContent()
		return m, cmd

	case tea.WindowSizeMsg:
		if msg.Width != m.width || msg.Height != m.height {
			m.width = msg.Width
			m.height = msg.Height
			m.viewport.SetWidth(msg.Width)
			m.viewport.SetHeight(msg.Height - 2)
			m.gadgetsList.SetWidth(msg.Width)
			m.gadgetsList.SetHeight(msg.Height - 2)
			m.updateContent()
		}

	case tea.KeyMsg:
		// While filtering, the list owns every key except quit.
		if m.mode == viewGadgets && m.gadgetsList.FilterState() == list.Filtering {
			if msg.String() == "ctrl+c" {
				return m, tea.Quit
			}
			break
		}

		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "c", "esc":
			m.mode = viewChain
			m.updateContent()
			return m, nil
		case "g":
			if m.gadgetCount > 0 {
				m.mode = viewGadgets
			}
			return m, nil
		case "tab", "shift+tab":
			switch m.mode {
			case viewGadgets:
				m.mode = viewChain
				m.updateContent()
			default:
				if m.gadgetCount > 0 {
					m.mode = viewGadgets
				}
			}
			return m, nil
		case "enter":
			if m.mode == viewGadgets {
				if item, ok := m.gadgetsList.SelectedItem().(gadgetItem); ok {
					m.mode = viewGadget
					m.render(gadgetReport(item.gadget, item.function))
					m.viewport.GotoTop()
				}
			}
			return m, nil
		}
	}

	switch m.mode {
	case viewGadgets:
		m.gadgetsList, cmd = m.gadgetsList.Update(msg)
	default:
		m.viewport, cmd = m.viewport.Update(msg)
	}
	return m, cmd
}

func (m model) View() string {
	var content, menu string
	switch m.mode {
	case viewGadgets:
		content = m.gadgetsList.View()
		menu = " Enter: details • /: filter • C: chain • Tab: cycle • Q: quit "
	case viewGadget:
		content = m.viewport.View()
		menu = " G: gadgets • C: chain • Q: quit "
	default:
		content = m.viewport.View()
		if m.gadgetCount > 0 {
			menu = " G: gadgets • Tab: cycle • Q: quit "
		} else {
			menu = " Q: quit "
		}
	}

	menuStyle := lipgloss.NewStyle().
		Background(lipgloss.Color("235")).
		Foreground(lipgloss.Color("252")).
		Padding(0, 1).
		Width(m.width)

	return content + "\n" + menuStyle.Render(menu)
}

func (m *model) updateContent() {
	if m.mode != viewChain {
		return
	}
	if m.loading {
		m.render(fmt.Sprintf("# ropgen\n\n%s Scanning %s...", m.spinner.View(), pathpkg.Base(m.filepath)))
		return
	}
	m.render(m.report)
}

func (m *model) render(markdown string) {
	width := m.width
	if width == 0 {
		width = 80
	}
	rendered, err := styles.Render(markdown, width-2)
	if err != nil {
		rendered = markdown
	}
	m.viewport.SetContent(strings.TrimSuffix(rendered, "\n"))
}

// chainReport renders the scan summary and the /bin/sh chain as markdown.
func chainReport(name string, gadgets, funcs int, writable uint64, chain rop.Chain, chainErr error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# ropgen\n\n```\n; %s\n; %d gadgets in %d functions\n", name, gadgets, funcs)
	if writable != 0 {
		fmt.Fprintf(&b, "; writable 0x%x\n", writable)
	}
	b.WriteString("```\n\n## execve(\"/bin/sh\")\n\n")

	if chainErr != nil {
		msg := chainErr.Error()
		if errors.Is(chainErr, rop.ErrInsufficientPool) {
			msg = "Not enough gadgets to generate ropchain."
		}
		fmt.Fprintf(&b, "> %s\n", msg)
		return b.String()
	}

	fmt.Fprintf(&b, "%d stack slots, %d bytes.\n\n```nasm\n", len(chain), len(chain)*rop.WordSize)
	for _, e := range chain {
		if e.Kind == rop.KindGadget {
			fmt.Fprintf(&b, "dq 0x%016x ; %s\n", e.Value, strings.Join(e.Gadget.Instructions(), " ; "))
		} else {
			fmt.Fprintf(&b, "dq 0x%016x\n", e.Value)
		}
	}
	b.WriteString("```\n")
	return b.String()
}

// gadgetReport renders a single gadget with one instruction per line.
func gadgetReport(g gadget.Gadget, function string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# 0x%x\n\n", g.Addr())
	if function != "" {
		fmt.Fprintf(&b, "In `%s`.\n\n", function)
	}
	b.WriteString("```nasm\n")
	for i := len(g.Insts) - 1; i >= 0; i-- {
		inst := g.Insts[i]
		fmt.Fprintf(&b, "%-20x ; 0x%x %s\n", inst.Raw, inst.VA, inst.Text)
	}
	b.WriteString("```\n")
	return b.String()
}

var browseCmd = &cobra.Command{
	Use:   "browse <binary>",
	Short: "Browse gadgets and the generated chain interactively",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		absPath, err := pathpkg.Abs(args[0])
		if err != nil {
			return fmt.Errorf("failed to resolve path: %w", err)
		}
		writable, _ := cmd.Flags().GetString("writable")
		if writable != "" {
			if _, err := parseHex(writable); err != nil {
				return err
			}
		}

		program := tea.NewProgram(
			NewModel(cmd.Context(), absPath, writable),
			tea.WithAltScreen(),
			tea.WithContext(cmd.Context()),
		)

		if _, err := program.Run(); err != nil {
			slog.Error("TUI run error", "error", err)
			return fmt.Errorf("TUI error: %w", err)
		}
		return nil
	},
}

func init() {
	browseCmd.Flags().StringP("writable", "w", "", "Hex address to write \"/bin/sh\" to (default: lowest writable segment)")
	rootCmd.AddCommand(browseCmd)
}
