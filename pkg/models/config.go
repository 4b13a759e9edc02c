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

// Package models holds the shared types exchanged between the
// communication layer, the roster store and the command-line tools.
package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roverlab/roverlink/pkg/logger"
)

type Duration time.Duration

var (
	errInvalidDuration       = fmt.Errorf("invalid duration")
	errSourceRequired        = fmt.Errorf("source identifier is required")
	errNegativeTimeout       = fmt.Errorf("timeouts must be positive")
	errListenAddrRequired    = fmt.Errorf("listen address is required")
	errBatteryOutOfRange     = fmt.Errorf("initial battery must be between 0 and 100")
	errStatusIntervalInvalid = fmt.Errorf("status interval must be positive")
)

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		// parse numeric as nanoseconds
		*d = Duration(time.Duration(value))
		return nil
	case string:
		dur, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}

		*d = Duration(dur)

		return nil
	default:
		return errInvalidDuration
	}
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// CommConfig represents the configuration for the robot communication service.
type CommConfig struct {
	Source         string         `json:"source"`          // client identifier sent with every command, e.g. "roverlink-desktop"
	ConnectTimeout Duration       `json:"connect_timeout"` // WebSocket handshake deadline
	CommandTimeout Duration       `json:"command_timeout"` // how long a command waits for its response
	PingInterval   Duration       `json:"ping_interval"`   // health monitor cadence
	CloseTimeout   Duration       `json:"close_timeout"`   // per-connection graceful close bound
	Logging        *logger.Config `json:"logging,omitempty"`
}

func (c *CommConfig) Validate() error {
	if c.Source == "" {
		return errSourceRequired
	}

	for _, d := range []Duration{c.ConnectTimeout, c.CommandTimeout, c.PingInterval, c.CloseTimeout} {
		if d < 0 {
			return errNegativeTimeout
		}
	}

	return nil
}

// SimRobotConfig describes one emulated robot served by roversim.
type SimRobotConfig struct {
	ListenAddr     string   `json:"listen_addr"`     // e.g., :8765
	InitialBattery int      `json:"initial_battery"` // percent, drains over time
	StatusInterval Duration `json:"status_interval"` // unsolicited telemetry cadence, 0 disables
	FailCommands   []string `json:"fail_commands,omitempty"`
}

// SimConfig represents the configuration for the roversim binary.
type SimConfig struct {
	Robots  []SimRobotConfig `json:"robots"`
	Logging *logger.Config   `json:"logging,omitempty"`
}

func (c *SimConfig) Validate() error {
	for i := range c.Robots {
		r := &c.Robots[i]

		if r.ListenAddr == "" {
			return errListenAddrRequired
		}

		if r.InitialBattery < 0 || r.InitialBattery > 100 {
			return errBatteryOutOfRange
		}

		if r.StatusInterval < 0 {
			return errStatusIntervalInvalid
		}
	}

	return nil
}
