// Package swtui provides the interactive terminal dashboard for swctl. It
// is built on the bubbletea/lipgloss stack and shows the live transport
// state of one connection: session status, protocol version, smoothed RTT,
// outbound backlog, and a scrolling log of the most recent commands
// received from the switcher.
package swtui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jaskie/LibAtem"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("57")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			PaddingRight(1)

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("10")).
		Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			PaddingLeft(1)
)

const pollInterval = 250 * time.Millisecond
const maxLogLines = 12

// statsMsg carries a poll of the client's transport-level counters.
type statsMsg struct {
	srtt, rttvar time.Duration
	haveRTT      bool
	version      uint16
	queued       bool
}

type connectedMsg struct{}
type disconnectedMsg struct{}
type receivedMsg struct{ names []string }

// Model is the top-level bubbletea model for the dashboard.
type Model struct {
	client  *atem.Client
	address string

	width, height int
	connected     bool
	stats         statsMsg
	log           []string
}

// New returns a Model driving client, which the caller has already
// constructed (and may already have called Connect on).
func New(address string, client *atem.Client) Model {
	return Model{client: client, address: address}
}

// Init starts the stats poll. The caller is responsible for wiring
// client.OnConnected/OnDisconnected/OnReceive to call Program.Send with
// connectedMsg/disconnectedMsg/receivedMsg before Program.Run, via
// SendConnected/SendDisconnected/SendReceived below.
func (m Model) Init() tea.Cmd {
	return pollCmd(m.client)
}

func pollCmd(client *atem.Client) tea.Cmd {
	return tea.Tick(pollInterval, func(time.Time) tea.Msg {
		srtt, rttvar, ok := client.RoundTripTime()
		return statsMsg{
			srtt:    srtt,
			rttvar:  rttvar,
			haveRTT: ok,
			version: client.ConnectionVersion(),
			queued:  client.HasQueuedOutbound(),
		}
	})
}

// SendConnected is called back from a Client.OnConnected hook.
func SendConnected(p *tea.Program) func() {
	return func() { p.Send(connectedMsg{}) }
}

// SendDisconnected is called back from a Client.OnDisconnected hook.
func SendDisconnected(p *tea.Program) func() {
	return func() { p.Send(disconnectedMsg{}) }
}

// SendReceived is called back from a Client.OnReceive hook.
func SendReceived(p *tea.Program) func([]atem.Command) {
	return func(cmds []atem.Command) {
		names := make([]string, len(cmds))
		for i, c := range cmds {
			n := c.Name()
			names[i] = string(n[:])
		}
		p.Send(receivedMsg{names: names})
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		return m, nil

	case statsMsg:
		m.stats = msg
		return m, pollCmd(m.client)

	case connectedMsg:
		m.connected = true
		m.appendLog("-- connected --")
		return m, nil

	case disconnectedMsg:
		m.connected = false
		m.appendLog("-- disconnected, reconnecting --")
		return m, nil

	case receivedMsg:
		for _, n := range msg.names {
			m.appendLog("recv " + n)
		}
		return m, nil
	}
	return m, nil
}

func (m *Model) appendLog(line string) {
	m.log = append(m.log, line)
	if len(m.log) > maxLogLines {
		m.log = m.log[len(m.log)-maxLogLines:]
	}
}

func (m Model) View() string {
	if m.width == 0 {
		return "starting…"
	}

	var sb strings.Builder
	sb.WriteString(titleStyle.Render(fmt.Sprintf("  swctl — %s  ", m.address)))
	sb.WriteString("\n\n")

	status := warnStyle.Render("handshaking")
	if m.connected {
		status = okStyle.Render("established")
	}
	sb.WriteString(labelStyle.Render("session:"))
	sb.WriteString(" " + status + "\n")

	sb.WriteString(labelStyle.Render("version:"))
	sb.WriteString(fmt.Sprintf(" %d\n", m.stats.version))

	if m.stats.haveRTT {
		sb.WriteString(labelStyle.Render("rtt:"))
		sb.WriteString(fmt.Sprintf(" %s (±%s)\n", m.stats.srtt.Round(time.Millisecond), m.stats.rttvar.Round(time.Millisecond)))
	} else {
		sb.WriteString(labelStyle.Render("rtt:"))
		sb.WriteString(" " + dimStyle.Render("no sample yet") + "\n")
	}

	sb.WriteString(labelStyle.Render("outbound queued:"))
	sb.WriteString(fmt.Sprintf(" %v\n\n", m.stats.queued))

	sb.WriteString(labelStyle.Render("recent activity:"))
	sb.WriteString("\n")
	if len(m.log) == 0 {
		sb.WriteString(dimStyle.Render("  (nothing yet)") + "\n")
	}
	for _, line := range m.log {
		sb.WriteString("  " + line + "\n")
	}

	sb.WriteString("\n")
	sb.WriteString(statusBarStyle.Render("q: quit"))
	return sb.String()
}
