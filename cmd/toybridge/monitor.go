package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/germanamz/toybridge/pkg/binding"
	"github.com/germanamz/toybridge/pkg/bridge"
	"github.com/germanamz/toybridge/pkg/connection"
)

const (
	refreshInterval = 100 * time.Millisecond
	barWidth        = 24
)

// statusSource is the slice of the bridge the monitor needs.
type statusSource interface {
	Status() bridge.Status
	Config() bridge.Config
	Reconnect(ctx context.Context)
}

type monitorKeys struct {
	Quit      key.Binding
	Reconnect key.Binding
}

var defaultMonitorKeys = monitorKeys{
	Quit:      key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	Reconnect: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reconnect")),
}

type (
	refreshMsg  struct{}
	feedDoneMsg struct{ err error }
	// statusMsg carries a fresh status outside the refresh tick.
	statusMsg struct{ status bridge.Status }
)

// monitorModel renders connection state, devices and motor speeds.
type monitorModel struct {
	ctx      context.Context
	src      statusSource
	keys     monitorKeys
	spin     spinner.Model
	status   bridge.Status
	feedDone bool
	feedErr  error
}

func newMonitorModel(ctx context.Context, src statusSource) monitorModel {
	sp := spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(spinnerStyle))

	return monitorModel{
		ctx:    ctx,
		src:    src,
		keys:   defaultMonitorKeys,
		spin:   sp,
		status: src.Status(),
	}
}

func refresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg { return refreshMsg{} })
}

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, refresh())
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Reconnect):
			src, ctx := m.src, m.ctx
			return m, func() tea.Msg {
				src.Reconnect(ctx)
				return statusMsg{status: src.Status()}
			}
		}

	case refreshMsg:
		m.status = m.src.Status()
		return m, refresh()

	case statusMsg:
		m.status = msg.status
		return m, nil

	case feedDoneMsg:
		m.feedDone = true
		m.feedErr = msg.err
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m monitorModel) View() string {
	st := m.status
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("toybridge"))
	sb.WriteString("\n\n")

	stateText := stateStyles[st.State.String()].Render(st.State.String())
	if st.State == connection.Connecting || st.State == connection.ScanningForDevices {
		stateText = m.spin.View() + " " + stateText
	}
	fmt.Fprintf(&sb, "%s %s  %s\n", labelStyle.Render("server"), st.Address, stateText)
	if st.State == connection.Disconnected && st.Attempts > 0 {
		sb.WriteString(dimStyle.Render("  connection failed or lost, press r to retry"))
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	sb.WriteString(panelStyle.Render(m.devicesView()))
	sb.WriteString("\n\n")
	sb.WriteString(panelStyle.Render(m.motorsView()))
	sb.WriteString("\n\n")

	play := "idle"
	if st.Playing {
		play = "playing"
	}
	fmt.Fprintf(&sb, "%s %s  %s %d", labelStyle.Render("play"), play, labelStyle.Render("max combo"), st.MaxCombo)
	if st.Dropped > 0 {
		fmt.Fprintf(&sb, "  %s %d", labelStyle.Render("dropped"), st.Dropped)
	}
	sb.WriteString("\n")

	if m.feedDone {
		if m.feedErr != nil {
			sb.WriteString(errorStyle.Render("telemetry feed failed: " + m.feedErr.Error()))
		} else {
			sb.WriteString(dimStyle.Render("telemetry feed ended"))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	sb.WriteString(dimStyle.Render(helpLine(m.keys.Quit, m.keys.Reconnect)))

	return sb.String()
}

func (m monitorModel) devicesView() string {
	devs := m.status.Devices
	if len(devs) == 0 {
		return labelStyle.Render("no devices")
	}

	lines := make([]string, 0, len(devs))
	for _, d := range devs {
		lines = append(lines, fmt.Sprintf("#%d %s  %s",
			d.ID, truncate(d.Name, 32), labelStyle.Render(fmt.Sprintf("%d motors", d.MaxVibrateMotorIndex+1))))
	}

	return strings.Join(lines, "\n")
}

func (m monitorModel) motorsView() string {
	motors := m.src.Config().Settings().Motors

	lines := make([]string, 0, binding.MotorCount)
	for i, mb := range motors {
		name := mb.Behavior.String()
		if mb.Invert {
			name += " (inverted)"
		}
		lines = append(lines, fmt.Sprintf("motor %d %-20s %s %.2f",
			i, name, barStyle.Render(speedBar(m.status.Speeds[i], barWidth)), m.status.Speeds[i]))
	}

	return strings.Join(lines, "\n")
}

func helpLine(bindings ...key.Binding) string {
	parts := make([]string, 0, len(bindings))
	for _, b := range bindings {
		h := b.Help()
		parts = append(parts, h.Key+" "+h.Desc)
	}
	return strings.Join(parts, " · ")
}
