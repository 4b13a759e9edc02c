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
	"time"

	"github.com/roverlab/roverlink/pkg/models"
)

// ResultKind discriminates the payload shapes a success envelope carries.
type ResultKind int

const (
	// KindEmpty means the success envelope had no data.
	KindEmpty ResultKind = iota
	// KindStatus means the payload parsed as a telemetry snapshot.
	KindStatus
	// KindGeneric means the payload is a JSON object without telemetry
	// fields.
	KindGeneric
	// KindUnrecognized means data was present but not a JSON object. Raw
	// retains it for the caller.
	KindUnrecognized
)

func (k ResultKind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindStatus:
		return "status"
	case KindGeneric:
		return "generic"
	case KindUnrecognized:
		return "unrecognized"
	default:
		return "unknown"
	}
}

// CommandResult is the decoded payload of a command's success response.
// Exactly one of Status or Fields is meaningful, selected by Kind; Raw
// always holds the payload as received.
type CommandResult struct {
	Kind   ResultKind
	Status models.TelemetrySnapshot
	Fields map[string]interface{}
	Raw    json.RawMessage
}

// ParseCommandResult classifies a success payload. It never fails: shapes
// the robot firmware invents later come back as KindUnrecognized with the
// raw bytes intact.
func ParseCommandResult(raw json.RawMessage, at time.Time) CommandResult {
	if isEmptyPayload(raw) {
		return CommandResult{Kind: KindEmpty, Raw: raw}
	}

	if HasTelemetry(raw) {
		snapshot, err := MergeTelemetry(models.TelemetrySnapshot{}, raw, at)
		if err == nil {
			return CommandResult{Kind: KindStatus, Status: snapshot, Raw: raw}
		}
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err == nil {
		return CommandResult{Kind: KindGeneric, Fields: fields, Raw: raw}
	}

	return CommandResult{Kind: KindUnrecognized, Raw: raw}
}

func isEmptyPayload(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return true
	}

	switch string(raw) {
	case "null", "{}":
		return true
	default:
		return false
	}
}
