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

package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roverlab/roverlink/pkg/models"
)

// telemetryPayload mirrors the telemetry fields of status and pong data.
// Pointers distinguish "absent" from zero values so partial reports only
// overwrite what the robot actually sent.
type telemetryPayload struct {
	Battery        *float64               `json:"battery"`
	BatteryVoltage *float64               `json:"battery_voltage"`
	Status         *string                `json:"status"`
	Hardware       *models.HardwareStatus `json:"hardware"`
}

// HasTelemetry reports whether the raw payload carries at least one
// telemetry field. Used to tell a status snapshot apart from a generic
// command result.
func HasTelemetry(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}

	var payload telemetryPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return false
	}

	return payload.Battery != nil || payload.BatteryVoltage != nil ||
		payload.Status != nil || payload.Hardware != nil
}

// MergeTelemetry folds the telemetry fields of an envelope payload into a
// previous snapshot. Robots report battery as a number that occasionally
// drifts past its bounds when the ADC glitches, so values are clamped to
// 0-100.
func MergeTelemetry(prev models.TelemetrySnapshot, raw json.RawMessage, at time.Time) (models.TelemetrySnapshot, error) {
	next := prev

	if len(raw) == 0 {
		next.ReportedAt = at
		return next, nil
	}

	var payload telemetryPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return prev, fmt.Errorf("%w: telemetry data: %v", ErrMalformedEnvelope, err)
	}

	if payload.Battery != nil {
		next.Battery = clampBattery(*payload.Battery)
	}

	if payload.BatteryVoltage != nil {
		next.BatteryVoltage = *payload.BatteryVoltage
	}

	if payload.Status != nil {
		next.Status = *payload.Status
	}

	if payload.Hardware != nil {
		next.Hardware = *payload.Hardware
	}

	next.ReportedAt = at

	return next, nil
}

func clampBattery(v float64) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return int(v)
	}
}
