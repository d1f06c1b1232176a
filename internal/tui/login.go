// Package tui renders the terminal login flow.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/brizzai/social-login/internal/coordinator"
	"github.com/brizzai/social-login/internal/login"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Session is the login state machine the flow drives.
type Session interface {
	Start(ctx context.Context, provider login.Provider) error
	Wait(ctx context.Context) (coordinator.Snapshot, error)
}

type page int

const (
	pagePick page = iota
	pageConnecting
	pageDone
)

// resultMsg carries the settled attempt.
type resultMsg struct {
	snapshot coordinator.Snapshot
	err      error
}

// loginKeyMap holds key bindings for the login flow.
type loginKeyMap struct {
	choose key.Binding
	cancel key.Binding
}

func newLoginKeyMap() *loginKeyMap {
	return &loginKeyMap{
		choose: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "Sign in"),
		),
		cancel: key.NewBinding(
			key.WithKeys("ctrl+c", "esc"),
			key.WithHelp("esc", "Cancel"),
		),
	}
}

// LoginModel picks a provider, waits for the attempt and shows the outcome.
type LoginModel struct {
	session  Session
	keys     *loginKeyMap
	list     list.Model
	spinner  spinner.Model
	page     page
	provider login.Provider
	ctx      context.Context
	cancel   context.CancelFunc
	snapshot coordinator.Snapshot
	err      error
}

// NewLoginModel creates the flow for providers. Cancelling ctx, or the user
// pressing esc, abandons a running attempt.
func NewLoginModel(ctx context.Context, session Session, providers []login.Provider) LoginModel {
	items := make([]list.Item, 0, len(providers))
	for _, p := range providers {
		items = append(items, providerItem{provider: p})
	}

	keys := newLoginKeyMap()
	l := list.New(items, list.NewDefaultDelegate(), 40, 14)
	l.Title = "Social Login"
	l.Styles.Title = titleStyle
	l.AdditionalShortHelpKeys = func() []key.Binding {
		return []key.Binding{keys.choose}
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle

	ctx, cancel := context.WithCancel(ctx)
	return LoginModel{
		session: session,
		keys:    keys,
		list:    l,
		spinner: s,
		page:    pagePick,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Init initializes the model
func (m LoginModel) Init() tea.Cmd {
	return nil
}

// Update handles key presses and the attempt's outcome.
func (m LoginModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		h, v := docStyle.GetFrameSize()
		m.list.SetSize(msg.Width-h, msg.Height-v)
		return m, nil

	case resultMsg:
		m.page = pageDone
		m.snapshot = msg.snapshot
		m.err = msg.err
		m.cancel()
		return m, nil

	case spinner.TickMsg:
		if m.page != pageConnecting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch m.page {
		case pageDone:
			return m, tea.Quit
		case pageConnecting:
			if key.Matches(msg, m.keys.cancel) {
				m.cancel()
				return m, tea.Quit
			}
			return m, nil
		case pagePick:
			if m.list.FilterState() != list.Filtering && key.Matches(msg, m.keys.choose) {
				item, ok := m.list.SelectedItem().(providerItem)
				if !ok {
					return m, nil
				}
				m.provider = item.provider
				m.page = pageConnecting
				return m, tea.Batch(m.spinner.Tick, m.connect(item.provider))
			}
		}
	}

	if m.page != pagePick {
		return m, nil
	}
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m LoginModel) connect(provider login.Provider) tea.Cmd {
	ctx, session := m.ctx, m.session
	return func() tea.Msg {
		if err := session.Start(ctx, provider); err != nil {
			return resultMsg{err: err}
		}
		snapshot, err := session.Wait(ctx)
		return resultMsg{snapshot: snapshot, err: err}
	}
}

// View renders the active page
func (m LoginModel) View() string {
	switch m.page {
	case pageConnecting:
		return docStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Social Login"),
			"",
			fmt.Sprintf("%s Waiting for %s sign-in in your browser...", m.spinner.View(), providerItem{m.provider}.Title()),
			"",
			helpStyle("esc to cancel"),
		))
	case pageDone:
		return docStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Social Login"),
			"",
			m.outcomeView(),
			"",
			helpStyle("Press any key to exit"),
		))
	default:
		return docStyle.Render(m.list.View())
	}
}

func (m LoginModel) outcomeView() string {
	if m.err != nil {
		return statusMessageStyle("Login cancelled: " + m.err.Error())
	}
	if m.snapshot.State != coordinator.StateConnected || m.snapshot.Result == nil {
		return statusMessageStyle(m.snapshot.Message)
	}

	r := m.snapshot.Result
	var b strings.Builder
	fmt.Fprintf(&b, "Address:  %s\n", r.Address)
	fmt.Fprintf(&b, "Provider: %s", r.Provider)
	if r.Email != "" {
		fmt.Fprintf(&b, "\nEmail:    %s", r.Email)
	}
	if r.Name != "" {
		fmt.Fprintf(&b, "\nName:     %s", r.Name)
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		completeMessageStyle("Connected"),
		accountStyle.Render(b.String()),
	)
}

// Finished reports whether an attempt settled before the program ended.
func (m LoginModel) Finished() bool {
	return m.page == pageDone
}

// Outcome returns the settled attempt.
func (m LoginModel) Outcome() (coordinator.Snapshot, error) {
	return m.snapshot, m.err
}
