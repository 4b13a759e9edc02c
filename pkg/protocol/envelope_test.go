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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCommandCarriesInstructionAndSource(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	env := NewCommand("motor_forward", "roverlink-desktop", at)
	raw, err := EncodeEnvelope(env)
	require.NoError(t, err)

	var decoded struct {
		Type      string         `json:"type"`
		Data      CommandPayload `json:"data"`
		Timestamp int64          `json:"timestamp"`
	}

	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, TypeCommand, decoded.Type)
	assert.Equal(t, "motor_forward", decoded.Data.Command)
	assert.Equal(t, "roverlink-desktop", decoded.Data.Source)
	assert.Equal(t, at.UnixMilli(), decoded.Timestamp)
}

func TestEncodeEnvelopeRejectsInboundTypes(t *testing.T) {
	_, err := EncodeEnvelope(Outbound{Type: TypePong})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownEnvelopeType)
}

func TestDecodeInbound(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{
			name: "success with data",
			raw:  `{"type":"success","data":{"ok":true},"timestamp":1717243200000}`,
		},
		{
			name: "error with message",
			raw:  `{"type":"error","message":"unknown command","timestamp":1717243200000}`,
		},
		{
			name: "pong with telemetry",
			raw:  `{"type":"pong","data":{"battery":87},"timestamp":1717243200000}`,
		},
		{
			name: "unsolicited status",
			raw:  `{"type":"status","data":{"status":"running"},"timestamp":1717243200000}`,
		},
		{
			name:    "missing type",
			raw:     `{"data":{},"timestamp":1}`,
			wantErr: ErrMalformedEnvelope,
		},
		{
			name:    "unknown type",
			raw:     `{"type":"telemetry","timestamp":1}`,
			wantErr: ErrUnknownEnvelopeType,
		},
		{
			name:    "not json",
			raw:     `battery low!!`,
			wantErr: ErrMalformedEnvelope,
		},
		{
			name:    "json but not an envelope",
			raw:     `[1,2,3]`,
			wantErr: ErrMalformedEnvelope,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := DecodeInbound([]byte(tt.raw))

			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.NotEmpty(t, env.Type)
		})
	}
}

func TestInboundReceivedAt(t *testing.T) {
	env := Inbound{Timestamp: 1717243200000}
	assert.Equal(t, time.UnixMilli(1717243200000), env.ReceivedAt())

	assert.True(t, Inbound{}.ReceivedAt().IsZero())
}

func TestRoundTripPreservesCommandPayload(t *testing.T) {
	at := time.Now()

	raw, err := EncodeEnvelope(NewCommand("led_blink", "console", at))
	require.NoError(t, err)

	// The robot parses the command envelope with the same field names the
	// desktop wrote.
	var wire map[string]interface{}

	require.NoError(t, json.Unmarshal(raw, &wire))

	data, ok := wire["data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "led_blink", data["command"])
	assert.Equal(t, "console", data["source"])
}
