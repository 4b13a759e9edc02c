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

// Package protocol implements the JSON wire format spoken over a robot's
// WebSocket. Envelopes are small typed JSON objects with millisecond epoch
// timestamps; the robot never echoes a correlation id, so responses are
// matched to requests purely by arrival order.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Envelope types sent to the robot.
const (
	TypeCommand = "command"
	TypePing    = "ping"
	TypeStatus  = "status"
)

// Envelope types received from the robot. TypeStatus flows both ways.
const (
	TypeSuccess = "success"
	TypeError   = "error"
	TypePong    = "pong"
)

var (
	ErrUnknownEnvelopeType = errors.New("unknown envelope type")
	ErrMalformedEnvelope   = errors.New("malformed envelope")
)

// Outbound is the desktop-to-robot envelope.
type Outbound struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"` // epoch milliseconds
}

// Inbound is the robot-to-desktop envelope. Data and Message are each
// optional depending on the type.
type Inbound struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Message   string          `json:"message,omitempty"`
	Timestamp int64           `json:"timestamp"` // epoch milliseconds
}

// CommandPayload is the data carried by a command envelope.
type CommandPayload struct {
	Command string `json:"command"`
	Source  string `json:"source"`
}

// NewCommand builds a command envelope carrying the given instruction.
func NewCommand(command, source string, at time.Time) Outbound {
	return Outbound{
		Type:      TypeCommand,
		Data:      CommandPayload{Command: command, Source: source},
		Timestamp: at.UnixMilli(),
	}
}

// NewPing builds the health monitor's liveness probe.
func NewPing(at time.Time) Outbound {
	return Outbound{
		Type:      TypePing,
		Data:      map[string]interface{}{},
		Timestamp: at.UnixMilli(),
	}
}

// NewStatus builds a client status announcement, e.g. "connected" on
// session start and "disconnecting" before a graceful close.
func NewStatus(data interface{}, at time.Time) Outbound {
	return Outbound{
		Type:      TypeStatus,
		Data:      data,
		Timestamp: at.UnixMilli(),
	}
}

// EncodeEnvelope serializes an outbound envelope, rejecting types the
// robots do not understand.
func EncodeEnvelope(env Outbound) ([]byte, error) {
	switch env.Type {
	case TypeCommand, TypePing, TypeStatus:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEnvelopeType, env.Type)
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", env.Type, err)
	}

	return raw, nil
}

// OutboundFrame is the robot-side view of a client envelope: the data
// payload stays raw so a robot can unmarshal it per type.
type OutboundFrame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// DecodeOutbound parses a client frame as a robot would receive it.
func DecodeOutbound(raw []byte) (OutboundFrame, error) {
	var frame OutboundFrame

	if err := json.Unmarshal(raw, &frame); err != nil {
		return OutboundFrame{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	switch frame.Type {
	case TypeCommand, TypePing, TypeStatus:
	case "":
		return OutboundFrame{}, fmt.Errorf("%w: missing type", ErrMalformedEnvelope)
	default:
		return OutboundFrame{}, fmt.Errorf("%w: %q", ErrUnknownEnvelopeType, frame.Type)
	}

	return frame, nil
}

// DecodeInbound parses a robot frame. Unknown types and non-envelope JSON
// are errors, never panics; the caller decides whether to surface them as
// feedback or drop the frame.
func DecodeInbound(raw []byte) (Inbound, error) {
	var env Inbound

	if err := json.Unmarshal(raw, &env); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	switch env.Type {
	case TypeSuccess, TypeError, TypeStatus, TypePong:
	case "":
		return Inbound{}, fmt.Errorf("%w: missing type", ErrMalformedEnvelope)
	default:
		return Inbound{}, fmt.Errorf("%w: %q", ErrUnknownEnvelopeType, env.Type)
	}

	return env, nil
}

// ReceivedAt converts the envelope's epoch-millisecond timestamp back to
// wall-clock time. A zero timestamp yields the zero time.
func (e Inbound) ReceivedAt() time.Time {
	if e.Timestamp == 0 {
		return time.Time{}
	}

	return time.UnixMilli(e.Timestamp)
}
