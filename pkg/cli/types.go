package cli

import (
	"time"

	"github.com/charmbracelet/lipgloss"
)

// CmdConfig holds parsed command-line configuration.
type CmdConfig struct {
	Help       bool
	SubCmd     string
	ConfigFile string
	RosterPath string
	Robot      string
	Command    string
	Timeout    time.Duration
	UseMock    bool
	AsJSON     bool
	RosterOp   string
	Address    string
	NewAddress string
	Port       int
	Args       []string
}

// SubcommandHandler parses the arguments of one subcommand.
type SubcommandHandler interface {
	Parse(args []string, cfg *CmdConfig) error
}

// logStyles defines styles for terminal output messages
type logStyles struct {
	info, success, warning, error, muted lipgloss.Style
}

func newLogStyles() logStyles {
	return logStyles{
		info:    lipgloss.NewStyle().Foreground(lipgloss.Color(draculaCyan)),
		success: lipgloss.NewStyle().Foreground(lipgloss.Color(draculaGreen)),
		warning: lipgloss.NewStyle().Foreground(lipgloss.Color(draculaOrange)),
		error:   lipgloss.NewStyle().Foreground(lipgloss.Color(draculaRed)).Bold(true),
		muted:   lipgloss.NewStyle().Foreground(lipgloss.Color(draculaComment)),
	}
}
