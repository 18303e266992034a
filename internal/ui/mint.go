package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"nearminter/internal/mint"
)

// RunFunc starts one mint run. The model calls it again on retry.
type RunFunc func(ctx context.Context) (mint.Outcome, error)

type MintModelConfig struct {
	Run     RunFunc
	Events  <-chan mint.Event
	Prompts <-chan ApprovalPrompt
	// ExplorerURL links to the signer's NFT list after success.
	ExplorerURL string
	// Copy writes to the system clipboard; defaults to atotto/clipboard.
	Copy func(string) error
}

type eventMsg mint.Event

type promptMsg ApprovalPrompt

type runDoneMsg struct {
	outcome mint.Outcome
	err     error
}

type mintKeyMap struct {
	Approve key.Binding
	Reject  key.Binding
	Cancel  key.Binding
	Retry   key.Binding
	Copy    key.Binding
	Quit    key.Binding
}

var mintKeys = mintKeyMap{
	Approve: key.NewBinding(key.WithKeys("y", "enter"), key.WithHelp("y", "approve")),
	Reject:  key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "reject")),
	Cancel:  key.NewBinding(key.WithKeys("esc", "ctrl+c"), key.WithHelp("esc", "cancel")),
	Retry:   key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "retry")),
	Copy:    key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "copy hash")),
	Quit:    key.NewBinding(key.WithKeys("q", "enter", "ctrl+c", "esc"), key.WithHelp("q", "quit")),
}

// MintModel renders one mint workflow: step indicator while running, an
// approval box while the wallet waits, and a success or error panel.
type MintModel struct {
	cfg     MintModelConfig
	spinner spinner.Model

	state      mint.State
	running    bool
	cancelling bool
	cancel     context.CancelFunc
	prompt     *ApprovalPrompt
	outcome    *mint.Outcome
	err        error
	notice     string
	quitting   bool
}

func NewMintModel(cfg MintModelConfig) *MintModel {
	if cfg.Copy == nil {
		cfg.Copy = clipboard.WriteAll
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(ColorPrimary)
	return &MintModel{cfg: cfg, spinner: sp}
}

// Result is the last run's outcome, valid after the program exits.
func (m *MintModel) Result() (mint.Outcome, error) {
	if m.outcome != nil {
		return *m.outcome, nil
	}
	if m.err != nil {
		return mint.Outcome{}, m.err
	}
	return mint.Outcome{}, errors.New("mint did not complete")
}

func (m *MintModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.start(), waitForEvent(m.cfg.Events), waitForPrompt(m.cfg.Prompts))
}

func (m *MintModel) start() tea.Cmd {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.running = true
	m.cancelling = false
	m.outcome = nil
	m.err = nil
	m.notice = ""
	m.state = mint.Uploading
	run := m.cfg.Run
	return func() tea.Msg {
		out, err := run(ctx)
		return runDoneMsg{outcome: out, err: err}
	}
}

func waitForEvent(ch <-chan mint.Event) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return eventMsg(ev)
	}
}

func waitForPrompt(ch <-chan ApprovalPrompt) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		p, ok := <-ch
		if !ok {
			return nil
		}
		return promptMsg(p)
	}
}

func (m *MintModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		m.state = msg.State
		return m, waitForEvent(m.cfg.Events)

	case promptMsg:
		p := ApprovalPrompt(msg)
		m.prompt = &p
		return m, waitForPrompt(m.cfg.Prompts)

	case runDoneMsg:
		m.running = false
		m.prompt = nil
		if m.cancel != nil {
			m.cancel()
		}
		if msg.err != nil {
			m.err = msg.err
			if mint.KindOf(msg.err) == mint.KindCancelled {
				m.state = mint.Idle
				m.quitting = true
				return m, tea.Quit
			}
			m.state = mint.Failed
			return m, nil
		}
		out := msg.outcome
		m.outcome = &out
		m.state = mint.Succeeded
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *MintModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.prompt != nil {
		switch {
		case key.Matches(msg, mintKeys.Approve):
			m.prompt.Approve()
			m.prompt = nil
		case key.Matches(msg, mintKeys.Reject):
			m.prompt.Reject()
			m.prompt = nil
		case key.Matches(msg, mintKeys.Cancel):
			m.prompt.Reject()
			m.prompt = nil
			m.requestCancel()
		}
		return m, nil
	}

	if m.running {
		if key.Matches(msg, mintKeys.Cancel) {
			m.requestCancel()
		}
		return m, nil
	}

	switch {
	case m.outcome != nil && key.Matches(msg, mintKeys.Copy):
		if err := m.cfg.Copy(m.outcome.TransactionHash); err != nil {
			m.notice = "clipboard unavailable: " + err.Error()
		} else {
			m.notice = "transaction hash copied to clipboard"
		}
		return m, nil
	case m.err != nil && key.Matches(msg, mintKeys.Retry):
		return m, m.start()
	case key.Matches(msg, mintKeys.Quit):
		m.quitting = true
		return m, tea.Quit
	}
	return m, nil
}

// requestCancel stops the run; cleanup happens in the orchestrator before
// runDoneMsg arrives.
func (m *MintModel) requestCancel() {
	if m.cancelling || m.cancel == nil {
		return
	}
	m.cancelling = true
	m.cancel()
}

func (m *MintModel) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString(StylePrimary.Render("Mint NFT"))
	b.WriteString("\n\n")

	switch {
	case m.outcome != nil:
		b.WriteString(m.successView())
	case m.err != nil && !m.running:
		b.WriteString(m.errorView())
	default:
		b.WriteString(m.stepsView())
		if m.prompt != nil {
			b.WriteString("\n")
			b.WriteString(StyleBox.Render(StyleBold.Render("Approve transaction") + "\n\n" +
				DescribeApproval(m.prompt.Request)))
			b.WriteString("\n" + FormatMuted("y approve • n reject • esc cancel"))
		} else if m.cancelling {
			b.WriteString("\n" + FormatWarning("Cancelling, releasing uploaded files..."))
		} else {
			b.WriteString("\n" + FormatMuted("esc cancel"))
		}
	}
	if m.notice != "" {
		b.WriteString("\n" + FormatInfo(m.notice))
	}
	b.WriteString("\n")
	return b.String()
}

var steps = []mint.State{mint.Uploading, mint.AwaitingSignature, mint.Confirming}

func (m *MintModel) stepsView() string {
	var b strings.Builder
	for _, step := range steps {
		label := StepLabel(step.String())
		switch {
		case step == m.state:
			fmt.Fprintf(&b, "%s %s\n", m.spinner.View(), StyleBold.Render(label))
		case step < m.state:
			fmt.Fprintf(&b, "%s\n", FormatSuccess(label))
		default:
			fmt.Fprintf(&b, "%s\n", FormatMuted(IconPending+" "+label))
		}
	}
	return b.String()
}

func (m *MintModel) successView() string {
	out := m.outcome
	body := fmt.Sprintf("%s\n\nToken ID:    %s\nTransaction: %s\nMedia:       %s\nMetadata:    %s",
		FormatSuccess("NFT Minted Successfully!"),
		out.TokenID, out.TransactionHash, out.Image.URL, out.Metadata.URL)
	if m.cfg.ExplorerURL != "" {
		body += "\n\nView your NFTs: " + StyleInfo.Render(m.cfg.ExplorerURL)
	}
	return StyleBox.Render(body) + "\n" +
		FormatMuted("c copy hash • q quit • run mint again to mint another")
}

func (m *MintModel) errorView() string {
	msg := failureMessage(m.err)
	kind := mint.KindOf(m.err)
	body := FormatError("Minting Failed") + "\n\n" + msg
	if kind != "" {
		body += "\n" + FormatMuted("kind: "+string(kind))
	}
	return StyleErrorBox.Render(body) + "\n" + FormatMuted("r retry • q quit")
}
