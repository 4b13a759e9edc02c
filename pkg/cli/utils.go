package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/roverlab/roverlink/pkg/comm"
	"github.com/roverlab/roverlink/pkg/config"
	"github.com/roverlab/roverlink/pkg/identity"
	"github.com/roverlab/roverlink/pkg/lifecycle"
	"github.com/roverlab/roverlink/pkg/logger"
	"github.com/roverlab/roverlink/pkg/models"
	"github.com/roverlab/roverlink/pkg/protocol"
	"github.com/roverlab/roverlink/pkg/roster"
)

// telemetryProvider is the optional accessor both service variants expose
// for the cached snapshot of a connected robot.
type telemetryProvider interface {
	Telemetry(robot identity.RobotIdentity) (models.TelemetrySnapshot, bool)
}

// defaultRosterPath returns the roster file location, preferring the
// user's config directory.
func defaultRosterPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "robots.json"
	}

	return filepath.Join(dir, "roverlink", "robots.json")
}

// newCommandLogger builds the logger for CLI runs. Logs go to stderr so
// command output on stdout stays parseable.
func newCommandLogger(ctx context.Context) (logger.Logger, error) {
	return lifecycle.CreateComponentLogger(ctx, "roverctl", &logger.Config{
		Level:  "warn",
		Output: "stderr",
	})
}

// openRoster loads the roster store named by the config, falling back to
// the default path. A missing file is fine; a corrupt one is not.
func openRoster(cfg *CmdConfig, log logger.Logger) (*roster.Store, error) {
	path := cfg.RosterPath
	if path == "" {
		path = defaultRosterPath()
	}

	store, err := roster.NewStore(path, log)
	if err != nil {
		return nil, err
	}

	if err := store.Load(); err != nil {
		return nil, err
	}

	return store, nil
}

// resolveRobot turns the -robot argument into a validated identity. It
// accepts an "address:port" endpoint, a roster robot id, or a bare
// address (which gets the default port).
func resolveRobot(store *roster.Store, query string) (identity.RobotIdentity, error) {
	if query == "" {
		return identity.RobotIdentity{}, errRobotRequired
	}

	if strings.Contains(query, ":") {
		return identity.Parse(query)
	}

	if rc, ok := store.Find(query); ok {
		return rc.Identity()
	}

	if rc, ok := store.FindByAddress(query); ok {
		return rc.Identity()
	}

	if strings.Contains(query, ".") {
		return identity.NewBuilder().
			SetAddress(query).
			SetPort(roster.DefaultRobot().Port).
			Build()
	}

	return identity.RobotIdentity{}, fmt.Errorf("%w: %q", errUnknownRobot, query)
}

// newService builds the communication service for a CLI run: the real
// one, or the in-memory mock when -mock is set.
func newService(ctx context.Context, cfg *CmdConfig, log logger.Logger) (comm.CommunicationService, error) {
	commCfg := &models.CommConfig{}

	if cfg.ConfigFile != "" {
		if err := config.NewConfig(log).LoadAndValidate(ctx, cfg.ConfigFile, commCfg); err != nil {
			return nil, err
		}
	}

	if cfg.UseMock {
		return comm.NewMockService(log), nil
	}

	opts := []comm.Option{comm.WithConfig(commCfg)}
	if cfg.Timeout > 0 {
		opts = append(opts, comm.WithCommandTimeout(cfg.Timeout))
	}

	return comm.NewService(log, opts...), nil
}

// closeService shuts the service down with a bounded grace period so a
// wedged socket cannot hang the CLI on exit.
func closeService(svc comm.CommunicationService) {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectGrace)
	defer cancel()

	_ = svc.Close(ctx)
}

func hardwareWord(ok bool) string {
	if ok {
		return "ok"
	}

	return "fault"
}

// formatSnapshot renders a telemetry snapshot as indented text lines.
func formatSnapshot(snap models.TelemetrySnapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "  Battery:  %d%% (%.2f V)\n", snap.Battery, snap.BatteryVoltage)
	fmt.Fprintf(&b, "  Status:   %s\n", snap.Status)
	fmt.Fprintf(&b, "  Hardware: motors %s, leds %s, audio %s, sensors %s",
		hardwareWord(snap.Hardware.Motors),
		hardwareWord(snap.Hardware.LEDs),
		hardwareWord(snap.Hardware.Audio),
		hardwareWord(snap.Hardware.Sensors))

	return b.String()
}

// formatResult renders a command result for terminal display.
func formatResult(result protocol.CommandResult) string {
	switch result.Kind {
	case protocol.KindStatus:
		return formatSnapshot(result.Status)
	case protocol.KindGeneric:
		var buf bytes.Buffer
		if err := json.Indent(&buf, result.Raw, "", "  "); err != nil {
			return string(result.Raw)
		}

		return buf.String()
	case protocol.KindUnrecognized:
		return string(result.Raw)
	case protocol.KindEmpty:
		return "(no data)"
	default:
		return "(no data)"
	}
}
