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

package models

import "time"

// HardwareStatus reports which robot subsystems passed their self-test.
type HardwareStatus struct {
	Motors  bool `json:"motors"`
	LEDs    bool `json:"leds"`
	Audio   bool `json:"audio"`
	Sensors bool `json:"sensors"`
}

// TelemetrySnapshot is the latest state a robot reported in a status or
// pong envelope. Fields the robot omitted keep their previous values.
type TelemetrySnapshot struct {
	Battery        int            `json:"battery"` // percent, 0-100
	BatteryVoltage float64        `json:"battery_voltage"`
	Status         string         `json:"status"` // robot-reported, e.g. "idle", "running"
	Hardware       HardwareStatus `json:"hardware"`
	ReportedAt     time.Time      `json:"reported_at"`
}
