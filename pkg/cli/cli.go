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

// Package cli implements the roverctl subcommands: scripted one-shot
// commands against a robot, roster management and the interactive
// console.
package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/roverlab/roverlink/pkg/models"
	"github.com/roverlab/roverlink/pkg/protocol"
	"github.com/roverlab/roverlink/pkg/roster"
)

// Dracula theme colors.
const (
	draculaForeground = "#F8F8F2"
	draculaComment    = "#6272A4"
	draculaCyan       = "#8BE9FD"
	draculaGreen      = "#50FA7B"
	draculaOrange     = "#FFB86C"
	draculaPink       = "#FF79C6"
	draculaPurple     = "#BD93F9"
	draculaRed        = "#FF5555"
	draculaYellow     = "#F1FA8C"
)

const disconnectGrace = 5 * time.Second

// ParseFlags parses os.Args into a CmdConfig. The first argument selects
// the subcommand; the rest belong to that subcommand's flag set.
func ParseFlags() (*CmdConfig, error) {
	cfg := &CmdConfig{}

	if len(os.Args) < 2 {
		cfg.Help = true

		return cfg, nil
	}

	subcommands := map[string]SubcommandHandler{
		"status":  StatusHandler{},
		"send":    SendHandler{},
		"watch":   WatchHandler{},
		"roster":  RosterHandler{},
		"console": ConsoleHandler{},
	}

	cfg.SubCmd = os.Args[1]

	switch cfg.SubCmd {
	case "help", "-h", "--help":
		cfg.Help = true

		return cfg, nil
	}

	handler, ok := subcommands[cfg.SubCmd]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errUnknownSubcommand, cfg.SubCmd)
	}

	if err := handler.Parse(os.Args[2:], cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// addCommonFlags registers the flags shared by every subcommand.
func addCommonFlags(fs *flag.FlagSet, cfg *CmdConfig) {
	fs.StringVar(&cfg.ConfigFile, "config", "", "path to a communication config file")
	fs.StringVar(&cfg.RosterPath, "roster", "", "path to the roster file")
	fs.DurationVar(&cfg.Timeout, "timeout", 0, "command timeout, e.g. 10s")
	fs.BoolVar(&cfg.AsJSON, "json", false, "emit machine-readable JSON")
	fs.BoolVar(&cfg.UseMock, "mock", false, "talk to a simulated robot instead of real hardware")
}

// StatusHandler parses the status subcommand.
type StatusHandler struct{}

func (StatusHandler) Parse(args []string, cfg *CmdConfig) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	addCommonFlags(fs, cfg)
	fs.StringVar(&cfg.Robot, "robot", "", "robot id, address, or address:port")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg.Args = fs.Args()

	return nil
}

// SendHandler parses the send subcommand. The command string is the
// first positional argument.
type SendHandler struct{}

func (SendHandler) Parse(args []string, cfg *CmdConfig) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	addCommonFlags(fs, cfg)
	fs.StringVar(&cfg.Robot, "robot", "", "robot id, address, or address:port")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg.Args = fs.Args()
	if len(cfg.Args) > 0 {
		cfg.Command = cfg.Args[0]
	}

	return nil
}

// WatchHandler parses the watch subcommand.
type WatchHandler struct{}

func (WatchHandler) Parse(args []string, cfg *CmdConfig) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	addCommonFlags(fs, cfg)
	fs.StringVar(&cfg.Robot, "robot", "", "robot id, address, or address:port")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg.Args = fs.Args()

	return nil
}

// RosterHandler parses the roster subcommand. The operation is the first
// positional argument and defaults to list.
type RosterHandler struct{}

func (RosterHandler) Parse(args []string, cfg *CmdConfig) error {
	cfg.RosterOp = "list"

	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cfg.RosterOp = args[0]
		args = args[1:]
	}

	fs := flag.NewFlagSet("roster", flag.ExitOnError)
	addCommonFlags(fs, cfg)
	fs.StringVar(&cfg.Address, "ip", "", "robot IP address")
	fs.IntVar(&cfg.Port, "port", roster.DefaultRobot().Port, "robot WebSocket port")
	fs.StringVar(&cfg.NewAddress, "new-ip", "", "replacement IP address for update")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg.Args = fs.Args()

	return nil
}

// ConsoleHandler parses the console subcommand.
type ConsoleHandler struct{}

func (ConsoleHandler) Parse(args []string, cfg *CmdConfig) error {
	fs := flag.NewFlagSet("console", flag.ExitOnError)
	addCommonFlags(fs, cfg)
	fs.StringVar(&cfg.Robot, "robot", "", "robot id, address, or address:port")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg.Args = fs.Args()

	return nil
}

// RunStatus connects to a robot, requests its status and prints the
// telemetry snapshot.
func RunStatus(cfg *CmdConfig) error {
	ctx := context.Background()
	styles := newLogStyles()

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

	if err := svc.Connect(ctx, robot); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", robot.Key(), err)
	}

	result, err := svc.SendCommand(ctx, robot, "status")
	if err != nil {
		return fmt.Errorf("status request failed: %w", err)
	}

	snap, ok := result.Status, result.Kind == protocol.KindStatus
	if !ok {
		if tp, hasTelemetry := svc.(telemetryProvider); hasTelemetry {
			snap, ok = tp.Telemetry(robot)
		}
	}

	if cfg.AsJSON {
		if !ok {
			return printJSON(map[string]any{"robot_id": robot.ID(), "telemetry": nil})
		}

		return printJSON(map[string]any{"robot_id": robot.ID(), "telemetry": snap})
	}

	fmt.Printf("%s %s\n", styles.info.Render(robot.DisplayName()), styles.muted.Render("("+robot.Key()+")"))

	if !ok {
		fmt.Println(styles.warning.Render("  no telemetry reported yet"))

		return nil
	}

	fmt.Println(formatSnapshot(snap))

	return nil
}

// RunSend connects to a robot, sends one command and prints the result.
func RunSend(cfg *CmdConfig) error {
	if cfg.Command == "" {
		return errCommandRequired
	}

	ctx := context.Background()
	styles := newLogStyles()

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

	if err := svc.Connect(ctx, robot); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", robot.Key(), err)
	}

	result, err := svc.SendCommand(ctx, robot, cfg.Command)
	if err != nil {
		return fmt.Errorf("command %q failed: %w", cfg.Command, err)
	}

	if cfg.AsJSON {
		return printJSON(map[string]any{
			"robot_id": robot.ID(),
			"command":  cfg.Command,
			"kind":     result.Kind.String(),
			"data":     rawOrNull(result.Raw),
		})
	}

	fmt.Println(styles.success.Render(fmt.Sprintf("%s confirmed %q", robot.DisplayName(), cfg.Command)))

	if result.Kind != protocol.KindEmpty {
		fmt.Println(formatResult(result))
	}

	return nil
}

// RunWatch connects to a robot and streams its feedback events until
// interrupted.
func RunWatch(cfg *CmdConfig) error {
	ctx := context.Background()
	styles := newLogStyles()

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

	if err := svc.Connect(ctx, robot); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", robot.Key(), err)
	}

	events := make(chan models.FeedbackEvent, 64)

	svc.Subscribe(robot, func(event models.FeedbackEvent) {
		select {
		case events <- event:
		default:
		}
	})

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)

	if !cfg.AsJSON {
		fmt.Println(styles.muted.Render(fmt.Sprintf("watching %s, press ctrl-c to stop", robot.Key())))
	}

	for {
		select {
		case event := <-events:
			if cfg.AsJSON {
				if err := printJSON(event); err != nil {
					return err
				}

				continue
			}

			fmt.Println(renderEvent(styles, event))
		case <-interrupt:
			svc.Unsubscribe(robot)

			return nil
		}
	}
}

// renderEvent formats one feedback event as a styled log line.
func renderEvent(styles logStyles, event models.FeedbackEvent) string {
	stamp := event.Timestamp.Format("15:04:05")

	var tag string

	switch event.Type {
	case models.FeedbackSuccess:
		tag = styles.success.Render("ok  ")
	case models.FeedbackWarning:
		tag = styles.warning.Render("warn")
	case models.FeedbackError:
		tag = styles.error.Render("err ")
	default:
		tag = styles.info.Render("info")
	}

	return fmt.Sprintf("%s %s %s", styles.muted.Render(stamp), tag, event.Message)
}

// RunRoster executes one roster operation: list, add, remove, update or
// clear.
func RunRoster(cfg *CmdConfig) error {
	ctx := context.Background()
	styles := newLogStyles()

	log, err := newCommandLogger(ctx)
	if err != nil {
		return err
	}

	store, err := openRoster(cfg, log)
	if err != nil {
		return err
	}

	switch cfg.RosterOp {
	case "list":
		return rosterList(cfg, store, styles)
	case "add":
		if cfg.Address == "" {
			return errAddressRequired
		}

		rc := roster.RobotConfig{IPAddress: cfg.Address, Port: cfg.Port}
		if err := store.Add(rc); err != nil {
			return err
		}

		fmt.Println(styles.success.Render(fmt.Sprintf("added %s:%d", rc.IPAddress, rc.Port)))

		return nil
	case "remove":
		if cfg.Address == "" {
			return errAddressRequired
		}

		if err := store.Remove(cfg.Address); err != nil {
			return err
		}

		fmt.Println(styles.success.Render("removed " + cfg.Address))

		return nil
	case "update":
		if cfg.Address == "" {
			return errAddressRequired
		}

		next := roster.RobotConfig{IPAddress: cfg.Address, Port: cfg.Port}
		if cfg.NewAddress != "" {
			next.IPAddress = cfg.NewAddress
		}

		if err := store.Update(cfg.Address, next); err != nil {
			return err
		}

		fmt.Println(styles.success.Render(fmt.Sprintf("updated %s to %s:%d", cfg.Address, next.IPAddress, next.Port)))

		return nil
	case "clear":
		if err := store.Clear(); err != nil {
			return err
		}

		fmt.Println(styles.success.Render("roster reset to the factory default robot"))

		return nil
	default:
		return fmt.Errorf("%w: %q", errUnknownRosterOp, cfg.RosterOp)
	}
}

func rosterList(cfg *CmdConfig, store *roster.Store, styles logStyles) error {
	robots := store.List()

	if cfg.AsJSON {
		return printJSON(robots)
	}

	fmt.Println(styles.info.Render(fmt.Sprintf("%-6s %-18s %s", "ID", "ADDRESS", "PORT")))

	for _, rc := range robots {
		id, err := rc.Identity()
		if err != nil {
			fmt.Printf("%-6s %-18s %d  %s\n", "?", rc.IPAddress, rc.Port, styles.error.Render("invalid entry"))

			continue
		}

		fmt.Printf("%-6s %-18s %d\n", id.ID(), rc.IPAddress, rc.Port)
	}

	return nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	fmt.Println(string(out))

	return nil
}

func rawOrNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}

	return raw
}
