/*
 * Copyright 2025 RoverLab Robotics.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/roverlab/roverlink/pkg/comm"
	"github.com/roverlab/roverlink/pkg/identity"
	"github.com/roverlab/roverlink/pkg/models"
	"github.com/roverlab/roverlink/pkg/protocol"
)

const (
	focusedInput = 0
	focusedLog   = 1

	maxScrollback  = 200
	visibleLog     = 12
	telemetryEvery = 2 * time.Second
)

// Styling with lipgloss (for the console TUI).
func newConsoleStyles() struct {
	title, label, help, hint, success, error, log, app lipgloss.Style
} {
	return struct {
		title, label, help, hint, success, error, log, app lipgloss.Style
	}{
		title: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaPink)).
			Bold(true),
		label: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaYellow)),
		help: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaComment)),
		hint: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaOrange)),
		success: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaGreen)),
		error: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaRed)).
			Bold(true),
		log: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaForeground)).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(draculaPurple)).
			Padding(0, 1),
		app: lipgloss.NewStyle().
			Padding(1, 2).
			Border(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color(draculaCyan)).
			Foreground(lipgloss.Color(draculaForeground)),
	}
}

type connectedMsg struct{}

type connectFailedMsg struct{ err error }

type resultMsg struct {
	command string
	result  protocol.CommandResult
}

type commandFailedMsg struct {
	command string
	err     error
}

type feedbackMsg struct{ event models.FeedbackEvent }

type telemetryTickMsg struct{}

type consoleModel struct {
	commandInput textinput.Model
	svc          comm.CommunicationService
	robot        identity.RobotIdentity
	events       chan models.FeedbackEvent
	scrollback   []string
	lastResult   string
	copyMessage  string
	err          error
	focused      int
	connected    bool
	canCopy      bool
	styles       struct {
		title, label, help, hint, success, error, log, app lipgloss.Style
	}
}

func newConsoleModel(svc comm.CommunicationService, robot identity.RobotIdentity) *consoleModel {
	ci := textinput.New()
	ci.Placeholder = "Enter command, e.g. spin_around"
	ci.Focus()
	ci.Width = 48
	ci.PromptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(draculaCyan))
	ci.TextStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(draculaForeground))
	ci.PlaceholderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(draculaComment))

	canCopy := true
	if err := clipboard.WriteAll(""); err != nil {
		canCopy = false
	}

	events := make(chan models.FeedbackEvent, 64)

	return &consoleModel{
		commandInput: ci,
		svc:          svc,
		robot:        robot,
		events:       events,
		focused:      focusedInput,
		canCopy:      canCopy,
		styles:       newConsoleStyles(),
	}
}

func (m *consoleModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.connectCmd(), m.waitFeedback(), telemetryTick())
}

func (m *consoleModel) connectCmd() tea.Cmd {
	svc, robot, events := m.svc, m.robot, m.events

	return func() tea.Msg {
		if err := svc.Connect(context.Background(), robot); err != nil {
			return connectFailedMsg{err: err}
		}

		// Subscribing needs a live connection record.
		svc.Subscribe(robot, func(event models.FeedbackEvent) {
			select {
			case events <- event:
			default:
			}
		})

		return connectedMsg{}
	}
}

// waitFeedback delivers the next feedback event as a message. It is
// re-armed after every delivery so the channel keeps draining.
func (m *consoleModel) waitFeedback() tea.Cmd {
	events := m.events

	return func() tea.Msg {
		event, ok := <-events
		if !ok {
			return nil
		}

		return feedbackMsg{event: event}
	}
}

func (m *consoleModel) sendCmd(command string) tea.Cmd {
	svc, robot := m.svc, m.robot

	return func() tea.Msg {
		result, err := svc.SendCommand(context.Background(), robot, command)
		if err != nil {
			return commandFailedMsg{command: command, err: err}
		}

		return resultMsg{command: command, result: result}
	}
}

func telemetryTick() tea.Cmd {
	return tea.Tick(telemetryEvery, func(time.Time) tea.Msg {
		return telemetryTickMsg{}
	})
}

func (m *consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	if m.focused == focusedInput {
		m.commandInput, cmd = m.commandInput.Update(msg)
	}

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg, cmd)
	case connectedMsg:
		m.connected = true
		m.err = nil
		m.appendLine(m.styles.success.Render("connected to " + m.robot.Key()))

		return m, cmd
	case connectFailedMsg:
		m.err = msg.err

		return m, cmd
	case resultMsg:
		m.lastResult = formatResult(msg.result)
		m.copyMessage = ""
		m.appendLine(m.styles.success.Render(fmt.Sprintf("%q confirmed", msg.command)))

		if msg.result.Kind != protocol.KindEmpty {
			m.appendBlock(m.lastResult)
		}

		return m, cmd
	case commandFailedMsg:
		m.appendLine(m.styles.error.Render(fmt.Sprintf("%q failed: %v", msg.command, msg.err)))

		return m, cmd
	case feedbackMsg:
		m.appendLine(renderEvent(newLogStyles(), msg.event))

		return m, tea.Batch(cmd, m.waitFeedback())
	case telemetryTickMsg:
		return m, tea.Batch(cmd, telemetryTick())
	default:
		return m, cmd
	}
}

func (m *consoleModel) handleKeyMsg(msg tea.KeyMsg, cmd tea.Cmd) (tea.Model, tea.Cmd) {
	//nolint:exhaustive // Default case handles all unlisted keys
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		return m.quit()
	case tea.KeyEnter:
		return m.handleEnter(cmd)
	case tea.KeyTab:
		return m.handleTab(cmd)
	default:
		return m.handleDefault(msg, cmd)
	}
}

func (m *consoleModel) quit() (tea.Model, tea.Cmd) {
	m.svc.Unsubscribe(m.robot)

	return m, tea.Quit
}

func (m *consoleModel) handleEnter(cmd tea.Cmd) (tea.Model, tea.Cmd) {
	if m.focused != focusedInput {
		return m, cmd
	}

	command := strings.TrimSpace(m.commandInput.Value())
	if command == "" {
		return m, cmd
	}

	if command == "quit" || command == "exit" {
		return m.quit()
	}

	m.commandInput.SetValue("")
	m.appendLine(m.styles.label.Render("> " + command))

	return m, tea.Batch(cmd, m.sendCmd(command))
}

func (m *consoleModel) handleTab(cmd tea.Cmd) (tea.Model, tea.Cmd) {
	if m.focused == focusedInput {
		m.commandInput.Blur()
		m.focused = focusedLog

		return m, cmd
	}

	m.commandInput.Focus()
	m.focused = focusedInput

	return m, tea.Batch(cmd, textinput.Blink)
}

func (m *consoleModel) handleDefault(msg tea.KeyMsg, cmd tea.Cmd) (tea.Model, tea.Cmd) {
	if m.focused == focusedLog && msg.String() == "c" && m.canCopy {
		if m.lastResult == "" {
			return m, cmd
		}

		if err := clipboard.WriteAll(m.lastResult); err != nil {
			m.copyMessage = "Failed to copy to clipboard"
		} else {
			m.copyMessage = "Result copied to clipboard!"
		}
	}

	return m, cmd
}

func (m *consoleModel) appendLine(line string) {
	m.scrollback = append(m.scrollback, line)
	if len(m.scrollback) > maxScrollback {
		m.scrollback = m.scrollback[len(m.scrollback)-maxScrollback:]
	}
}

func (m *consoleModel) appendBlock(block string) {
	for _, line := range strings.Split(block, "\n") {
		m.appendLine(line)
	}
}

func (m *consoleModel) View() string {
	var content strings.Builder

	styles := m.styles

	title := lipgloss.JoinHorizontal(
		lipgloss.Top,
		styles.title.Render("RoverLink Console: "+m.robot.DisplayName()),
		styles.help.Render("  "+m.robot.Key()),
	)
	content.WriteString(title + "\n")
	content.WriteString(m.renderTelemetryLine() + "\n\n")

	tail := m.scrollback
	if len(tail) > visibleLog {
		tail = tail[len(tail)-visibleLog:]
	}

	logBody := strings.Join(tail, "\n")
	if logBody == "" {
		logBody = styles.help.Render("(no activity yet)")
	}

	content.WriteString(styles.log.Render(logBody) + "\n\n")

	if m.focused == focusedInput {
		content.WriteString(styles.label.Render("Command:") + "\n")
		content.WriteString(m.commandInput.View() + "\n\n")
	} else {
		hint := "Tab → command input | Ctrl+C/Esc → quit"
		if m.canCopy && m.lastResult != "" {
			hint = "c → copy last result | " + hint
		}

		content.WriteString(styles.hint.Render(hint) + "\n\n")
	}

	if m.copyMessage != "" {
		messageStyle := styles.success
		if strings.HasPrefix(m.copyMessage, "Failed") {
			messageStyle = styles.error
		}

		content.WriteString(messageStyle.Render(m.copyMessage) + "\n")
	}

	if m.err != nil {
		content.WriteString(styles.error.Render(fmt.Sprintf("Error: %v", m.err)) + "\n")
	}

	content.WriteString(styles.help.Render("Enter → send | Tab → switch focus | Ctrl+C/Esc → quit"))

	return styles.app.Align(lipgloss.Left).Render(content.String())
}

func (m *consoleModel) renderTelemetryLine() string {
	styles := m.styles

	if !m.connected {
		if m.err != nil {
			return styles.error.Render("disconnected")
		}

		return styles.hint.Render("connecting…")
	}

	tp, ok := m.svc.(telemetryProvider)
	if !ok {
		return styles.success.Render("connected")
	}

	snap, ok := tp.Telemetry(m.robot)
	if !ok {
		return styles.success.Render("connected") + styles.help.Render("  awaiting telemetry")
	}

	return styles.success.Render("connected") + styles.help.Render(fmt.Sprintf(
		"  battery %d%%  %.2fV  %s", snap.Battery, snap.BatteryVoltage, snap.Status))
}

// RunConsole starts the interactive console for one robot.
func RunConsole(cfg *CmdConfig) error {
	ctx := context.Background()

	log, err := newCommandLogger(ctx)
	if err != nil {
		return err
	}

	store, err := openRoster(cfg, log)
	if err != nil {
		return err
	}

	robot, err := resolveRobot(store, cfg.Robot)
	if err != nil {
		return err
	}

	svc, err := newService(ctx, cfg, log)
	if err != nil {
		return err
	}

	defer closeService(svc)

	p := tea.NewProgram(newConsoleModel(svc, robot), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return err
	}

	return nil
}
