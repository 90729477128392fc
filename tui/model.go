package tui

import (
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/go-authgate/recon-cli/apiclient"
)

// maxStatusLines caps the status log; burst runs can emit hundreds of events.
const maxStatusLines = 12

// tickMsg is fired every second while a refresh is in flight.
type tickMsg time.Time

// state represents what the command is currently doing.
type state int

const (
	stateInit       state = iota
	stateRequesting       // API request(s) in flight
	stateRefreshing       // token refresh in flight
	stateServing          // development server running
	stateSuccess          // all done
	stateError            // fatal error
)

// statusKind distinguishes line types in the status log.
type statusKind int

const (
	statusOK   statusKind = iota
	statusWarn            // warning / non-fatal
	statusInfo            // neutral info
)

// statusLine is one row in the scrolling status log.
type statusLine struct {
	kind statusKind
	text string
}

// counters tallies coordinator events for the summary panel.
type counters struct {
	ok        int
	failed    int
	rejected  int
	joined    int
	refreshes int
}

// Model is the BubbleTea model for the CLI.
type Model struct {
	state   state
	spinner spinner.Model
	width   int
	height  int

	apiURL       string
	current      string
	refreshSince time.Time
	elapsed      time.Duration
	counts       counters

	loginURL string
	summary  string
	errMsg   string

	statusLines []statusLine
	dropped     int
}

var (
	styleTitleBox = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("99")).
			Padding(0, 2)

	styleLoginBox = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("228")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("228")).
			Padding(0, 2)

	styleOK   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleErr  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styleDim  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	styleBold = lipgloss.NewStyle().Bold(true)
)

// NewModel creates the initial TUI model.
func NewModel() Model {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))),
	)
	return Model{
		state:   stateInit,
		spinner: s,
	}
}

// Init starts the spinner animation.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		if m.state != stateRefreshing {
			return m, nil
		}
		m.elapsed = time.Since(m.refreshSince)
		return m, tickAfterSecond()

	case tea.KeyPressMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil

	case MsgBanner:
		m.apiURL = msg.APIURL
		return m, nil

	case MsgLoginOK:
		m.addStatus(statusOK, "Signed in as "+msg.Username)
		return m, nil

	case MsgTokenSaved:
		m.addStatus(statusOK, "Credentials saved to "+msg.Location)
		return m, nil

	case MsgLoggedOut:
		m.addStatus(statusOK, "Signed out, credentials cleared")
		return m, nil

	case MsgInfo:
		m.addStatus(statusInfo, msg.Text)
		return m, nil

	case MsgRequesting:
		m.current = msg.Method + " " + msg.Path
		if m.state != stateRefreshing {
			m.state = stateRequesting
		}
		return m, nil

	case MsgAPICallOK:
		m.counts.ok++
		m.addStatus(statusOK, fmt.Sprintf("%s %s -> %d", msg.Method, msg.Path, msg.Status))
		return m, nil

	case MsgAPICallFailed:
		m.counts.failed++
		m.addStatus(statusWarn, "API call failed: "+apiclient.ErrorMessage(msg.Err))
		return m, nil

	case MsgBurstDone:
		m.summary = fmt.Sprintf("%d succeeded, %d failed in %s",
			msg.OK, msg.Failed, msg.Elapsed.Round(time.Millisecond))
		return m, nil

	case MsgReAuthRequired:
		m.loginURL = msg.LoginURL
		return m, nil

	case MsgServing:
		m.state = stateServing
		m.current = msg.Addr
		m.addStatus(statusInfo, "Development server listening on "+msg.Addr)
		return m, nil

	case MsgAccessTokenRejected:
		m.counts.rejected++
		m.addStatus(statusWarn, "Access token rejected (401) on "+msg.Path)
		return m, nil

	case MsgRefreshStarted:
		m.counts.refreshes++
		m.state = stateRefreshing
		m.refreshSince = msg.At
		m.elapsed = 0
		m.addStatus(statusInfo, "Refreshing access token...")
		return m, tickAfterSecond()

	case MsgRefreshJoined:
		m.counts.joined++
		return m, nil

	case MsgRefreshOK:
		m.state = stateRequesting
		m.addStatus(statusOK, fmt.Sprintf("Token refreshed, replaying %d request(s)", msg.Released+1))
		return m, nil

	case MsgRefreshFailed:
		m.state = stateRequesting
		m.addStatus(statusWarn, "Refresh failed: "+apiclient.ErrorMessage(msg.Err))
		return m, nil

	case MsgSessionInvalidated:
		m.addStatus(statusWarn, fmt.Sprintf("Session invalidated (%s)", msg.Reason))
		return m, nil

	case MsgDone:
		m.state = stateSuccess
		return m, nil

	case MsgFatal:
		m.errMsg = apiclient.ErrorMessage(msg.Err)
		m.state = stateError
		return m, nil
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() tea.View {
	switch m.state {
	case stateSuccess:
		return tea.NewView(m.viewSuccess())
	case stateError:
		return tea.NewView(m.viewError())
	default:
		return tea.NewView(m.viewMain())
	}
}

func (m Model) viewHeader() string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(styleTitleBox.Render("  Reconciliation API Client  "))
	b.WriteString("\n")
	if m.apiURL != "" {
		b.WriteString(styleDim.Render("  " + m.apiURL))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}

// viewMain is shown while requests, refreshes or the server are running.
func (m Model) viewMain() string {
	var b strings.Builder
	b.WriteString(m.viewHeader())

	switch m.state {
	case stateRefreshing:
		b.WriteString(m.spinner.View())
		b.WriteString(" Refreshing session...  ")
		b.WriteString(styleDim.Render(formatDuration(m.elapsed)))
		if m.counts.joined > 0 {
			b.WriteString(styleDim.Render(fmt.Sprintf("  (%d waiting)", m.counts.joined)))
		}
		b.WriteString("\n")

	case stateRequesting:
		b.WriteString(m.spinner.View())
		b.WriteString(" " + m.current + "\n")

	case stateServing:
		b.WriteString(m.spinner.View())
		b.WriteString(" Serving on " + m.current + "  ")
		b.WriteString(styleDim.Render("(ctrl+c to stop)"))
		b.WriteString("\n")

	default:
		b.WriteString(m.spinner.View())
		b.WriteString(" Starting...\n")
	}

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewSuccess is shown when the command completed.
func (m Model) viewSuccess() string {
	var b strings.Builder
	b.WriteString(m.viewHeader())

	if m.loginURL != "" {
		b.WriteString(styleWarn.Render("  ⚠ Session ended, sign in again"))
		b.WriteString("\n\n")
		b.WriteString(styleLoginBox.Render("  " + m.loginURL + "  "))
		b.WriteString("\n")
	} else {
		b.WriteString(styleOK.Render("  ✓ Done"))
		b.WriteString("\n")
	}

	if m.summary != "" {
		b.WriteString("\n")
		b.WriteString(styleBold.Render("Burst:      "))
		b.WriteString(m.summary + "\n")
	}
	if m.counts.refreshes > 0 || m.counts.rejected > 0 {
		b.WriteString(styleBold.Render("Refreshes:  "))
		b.WriteString(fmt.Sprintf("%d (%d rejected, %d joined)\n",
			m.counts.refreshes, m.counts.rejected, m.counts.joined))
	}

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewError is shown when a fatal error occurs.
func (m Model) viewError() string {
	var b strings.Builder
	b.WriteString(m.viewHeader())

	b.WriteString(styleErr.Render("  ✗ Request failed"))
	b.WriteString("\n\n")
	b.WriteString(styleDim.Render("  " + m.errMsg))
	b.WriteString("\n")
	if m.loginURL != "" {
		b.WriteString("\n")
		b.WriteString(styleLoginBox.Render("  " + m.loginURL + "  "))
		b.WriteString("\n")
	}

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewStatusLog renders the scrolling status log.
func (m Model) viewStatusLog() string {
	if len(m.statusLines) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n")
	if m.dropped > 0 {
		b.WriteString(styleDim.Render(fmt.Sprintf("  … %d earlier", m.dropped)))
		b.WriteString("\n")
	}

	for _, line := range m.statusLines {
		switch line.kind {
		case statusOK:
			b.WriteString(styleOK.Render("  ✓ " + line.text))
		case statusWarn:
			b.WriteString(styleWarn.Render("  ⚠ " + line.text))
		default:
			b.WriteString(styleDim.Render("  · " + line.text))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// addStatus appends a line to the status log, dropping the oldest past the cap.
func (m *Model) addStatus(kind statusKind, text string) {
	m.statusLines = append(m.statusLines, statusLine{kind: kind, text: text})
	if over := len(m.statusLines) - maxStatusLines; over > 0 {
		m.statusLines = append([]statusLine(nil), m.statusLines[over:]...)
		m.dropped += over
	}
}

func tickAfterSecond() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// formatDuration formats a duration as "Xm Ys" or "Xs".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
