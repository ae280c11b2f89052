// Package tui is a bubbletea-backed terminal host that fulfils
// runInTerminal requests by actually launching the debuggee as a child
// process, streaming its output into a dashboard tab, and handing the
// resulting (TermId, pid) back to the session. It is the concrete
// editor-owned terminal the core only ever sees the identifier of.
package tui

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/lapce-tools/dap-client/dapclient"
	"github.com/lapce-tools/dap-client/internal/logging"
)

// terminalTab is one debuggee launched in response to a runInTerminal
// request, along with the output it has printed so far.
type terminalTab struct {
	id     dapclient.TermId
	dapID  dapclient.DapId
	label  string
	pid    int
	cmd    *exec.Cmd
	output strings.Builder
	closed bool
}

// Host owns every terminal tab opened for the lifetime of the process.
// It satisfies mcp.TerminalLauncher's Launch method and mcp.TerminalCloser's
// Close method structurally - tui deliberately does not import mcp, so
// wiring happens at the call site (cmd/dap-client) via
// mcpServer.SetTerminalLauncher(tuiHost).
type Host struct {
	mu     sync.Mutex
	nextID uint64
	tabs   map[dapclient.TermId]*terminalTab
	order  []dapclient.TermId

	program *tea.Program
	log     logging.Logger
}

// NewHost returns a Host with no tabs open yet. Call Run to start the
// interactive dashboard; Launch works even before Run is called (tab
// output is simply buffered until a dashboard attaches).
func NewHost() *Host {
	return &Host{
		tabs: make(map[dapclient.TermId]*terminalTab),
		log:  logging.For("tui-host"),
	}
}

// Launch starts cfg's command as a child process, streams its combined
// stdout/stderr into a new tab, and returns the tab's TermId and the
// child's pid - the two pieces a RunInTerminalResponseBody needs.
func (h *Host) Launch(dapID dapclient.DapId, cfg dapclient.RunDebugConfig) (dapclient.TermId, *int, error) {
	if len(cfg.Args) == 0 {
		return 0, nil, fmt.Errorf("runInTerminal: empty command line")
	}

	cmd := exec.Command(cfg.Args[0], cfg.Args[1:]...)
	if cfg.Cwd != "" {
		cmd.Dir = cfg.Cwd
	}
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, nil, fmt.Errorf("runInTerminal: stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return 0, nil, fmt.Errorf("runInTerminal: start %s: %w", cfg.Args[0], err)
	}

	termID := dapclient.TermId(atomic.AddUint64(&h.nextID, 1))
	tab := &terminalTab{
		id:    termID,
		dapID: dapID,
		label: strings.Join(cfg.Args, " "),
		pid:   cmd.Process.Pid,
		cmd:   cmd,
	}

	h.mu.Lock()
	h.tabs[termID] = tab
	h.order = append(h.order, termID)
	h.mu.Unlock()

	h.send(tabOpenedMsg{id: termID, label: tab.label, pid: tab.pid})

	go h.pump(tab, stdout)
	go func() {
		_ = cmd.Wait()
		h.mu.Lock()
		tab.closed = true
		h.mu.Unlock()
		h.send(tabClosedMsg{id: termID})
	}()

	pid := tab.pid
	return termID, &pid, nil
}

// pump copies a tab's output a line at a time into its buffer and, if a
// dashboard is attached, pushes a redraw message.
func (h *Host) pump(tab *terminalTab, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()

		h.mu.Lock()
		tab.output.WriteString(line)
		tab.output.WriteByte('\n')
		h.mu.Unlock()

		h.send(tabOutputMsg{id: tab.id, line: line})
	}
}

// Close kills a tab's process if still running. Implements
// mcp.TerminalCloser, invoked when the owning session ends or restarts.
func (h *Host) Close(termID dapclient.TermId) {
	h.mu.Lock()
	tab, ok := h.tabs[termID]
	h.mu.Unlock()
	if !ok || tab.closed {
		return
	}
	if tab.cmd.Process != nil {
		_ = tab.cmd.Process.Kill()
	}
	h.send(tabClosedMsg{id: termID})
}

// send delivers msg to the attached dashboard program, if any, without
// blocking when none is attached.
func (h *Host) send(msg tea.Msg) {
	h.mu.Lock()
	p := h.program
	h.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// Run attaches an interactive dashboard to the host and blocks until the
// user quits it. Safe to call from a goroutine while sessions keep
// calling Launch/Close from elsewhere - the dashboard only observes.
func (h *Host) Run() error {
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return fmt.Errorf("tui: stdout is not an interactive terminal")
	}

	m := newDashboard(h)
	program := tea.NewProgram(m, tea.WithAltScreen())

	h.mu.Lock()
	h.program = program
	h.mu.Unlock()

	_, err := program.Run()

	h.mu.Lock()
	h.program = nil
	h.mu.Unlock()

	return err
}

// Messages pushed from Launch/pump/Close into the dashboard's Update loop.
type (
	tabOpenedMsg struct {
		id    dapclient.TermId
		label string
		pid   int
	}
	tabOutputMsg struct {
		id   dapclient.TermId
		line string
	}
	tabClosedMsg struct{ id dapclient.TermId }
)

type keyMap struct {
	Up     key.Binding
	Down   key.Binding
	Quit   key.Binding
	Follow key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Follow, k.Quit}
}

var keys = keyMap{
	Up:     key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("up/k", "previous tab")),
	Down:   key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("down/j", "next tab")),
	Quit:   key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	Follow: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "jump to bottom")),
}

// dashboard is the bubbletea model rendering the host's live tabs: one
// per debuggee launched via runInTerminal, in launch order, with the
// currently-selected tab's output streamed into a viewport.
type dashboard struct {
	host     *Host
	tabs     []dapclient.TermId
	labels   map[dapclient.TermId]string
	pids     map[dapclient.TermId]int
	closed   map[dapclient.TermId]bool
	selected int

	width, height int
	ready         bool
	content       viewport.Model
	started       time.Time
}

func newDashboard(h *Host) *dashboard {
	d := &dashboard{
		host:    h,
		labels:  make(map[dapclient.TermId]string),
		pids:    make(map[dapclient.TermId]int),
		closed:  make(map[dapclient.TermId]bool),
		started: time.Now(),
	}

	// Tabs launched before a dashboard attached sent their open message to
	// no program; pick them up from the host directly.
	h.mu.Lock()
	for _, id := range h.order {
		tab := h.tabs[id]
		d.tabs = append(d.tabs, id)
		d.labels[id] = tab.label
		d.pids[id] = tab.pid
		d.closed[id] = tab.closed
	}
	h.mu.Unlock()

	return d
}

func (m *dashboard) Init() tea.Cmd { return nil }

func (m *dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.content = viewport.New(msg.Width-2, msg.Height-6)
		m.ready = true
		m.refreshContent()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Up):
			if m.selected > 0 {
				m.selected--
				m.refreshContent()
			}
		case key.Matches(msg, keys.Down):
			if m.selected < len(m.tabs)-1 {
				m.selected++
				m.refreshContent()
			}
		case key.Matches(msg, keys.Follow):
			m.content.GotoBottom()
		}

	case tabOpenedMsg:
		m.tabs = append(m.tabs, msg.id)
		m.labels[msg.id] = msg.label
		m.pids[msg.id] = msg.pid
		m.refreshContent()

	case tabOutputMsg:
		if m.selectedTab() == msg.id {
			m.refreshContent()
		}

	case tabClosedMsg:
		m.closed[msg.id] = true
		m.refreshContent()
	}

	var cmd tea.Cmd
	m.content, cmd = m.content.Update(msg)
	return m, cmd
}

func (m *dashboard) selectedTab() dapclient.TermId {
	if m.selected < 0 || m.selected >= len(m.tabs) {
		return 0
	}
	return m.tabs[m.selected]
}

func (m *dashboard) refreshContent() {
	if !m.ready {
		return
	}
	id := m.selectedTab()
	if id == 0 {
		m.content.SetContent("no terminals opened yet - waiting for a runInTerminal request")
		return
	}

	m.host.mu.Lock()
	tab := m.host.tabs[id]
	var body string
	if tab != nil {
		body = tab.output.String()
	}
	m.host.mu.Unlock()

	m.content.SetContent(body)
	m.content.GotoBottom()
}

func (m *dashboard) View() string {
	if !m.ready {
		return "\n  starting terminal dashboard...\n"
	}

	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color("#5A67D8")).
		Padding(0, 1).
		Width(m.width).
		Render("dap-client terminal host")

	var tabBar strings.Builder
	for i, id := range m.tabs {
		status := "running"
		if m.closed[id] {
			status = "exited"
		}
		label := fmt.Sprintf(" [%d] %s (pid %d, %s) ", id, m.labels[id], m.pids[id], status)
		style := lipgloss.NewStyle().Foreground(lipgloss.Color("#718096"))
		if i == m.selected {
			style = style.Bold(true).Foreground(lipgloss.Color("#FFFFFF")).Background(lipgloss.Color("#5A67D8"))
		}
		tabBar.WriteString(style.Render(label))
		tabBar.WriteString("\n")
	}
	if len(m.tabs) == 0 {
		tabBar.WriteString("(no terminals yet)\n")
	}

	help := lipgloss.NewStyle().Foreground(lipgloss.Color("#718096")).
		Render("up/k, down/j: switch tab  enter: jump to bottom  q: quit")

	return fmt.Sprintf("%s\n\n%s\n%s\n\n%s", header, tabBar.String(), m.content.View(), help)
}
