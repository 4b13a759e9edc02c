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

package comm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roverlab/roverlink/pkg/protocol"
)

func TestConnGateSerializesHolders(t *testing.T) {
	conn := newConn(testRobot(t, "192.168.4.1", 8765), nil, time.Now())

	require.NoError(t, conn.acquireGate(context.Background()))

	// A second holder cannot get in while the first holds the gate.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := conn.acquireGate(ctx)

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	conn.releaseGate()

	require.NoError(t, conn.acquireGate(context.Background()))
	conn.releaseGate()
}

func TestConnAcquireGateAfterDisconnect(t *testing.T) {
	conn := newConn(testRobot(t, "192.168.4.1", 8765), nil, time.Now())

	conn.markDisconnected()

	err := conn.acquireGate(context.Background())

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotConnected))
}

func TestConnResolveRequiresArmedCommand(t *testing.T) {
	conn := newConn(testRobot(t, "192.168.4.1", 8765), nil, time.Now())

	env := protocol.Inbound{Type: protocol.TypeSuccess}

	// No command in flight: the response has nowhere to go.
	assert.False(t, conn.resolve(env))

	pending := conn.arm()

	assert.True(t, conn.resolve(env))
	assert.False(t, conn.resolve(env)) // slot already holds a response

	got := <-pending
	assert.Equal(t, protocol.TypeSuccess, got.Type)

	conn.disarm()
	assert.False(t, conn.resolve(env))
}

func TestConnMarkDisconnectedIsIdempotent(t *testing.T) {
	conn := newConn(testRobot(t, "192.168.4.1", 8765), nil, time.Now())

	conn.markDisconnected()
	conn.markDisconnected() // closing abort twice would panic

	select {
	case <-conn.aborted():
	default:
		t.Fatal("abort channel not closed")
	}

	assert.False(t, conn.Connected())
}

func TestConnBeginCloseOnlyOnce(t *testing.T) {
	conn := newConn(testRobot(t, "192.168.4.1", 8765), nil, time.Now())

	assert.True(t, conn.beginClose())
	assert.False(t, conn.beginClose())
	assert.True(t, conn.isClosing())
	assert.False(t, conn.Connected())
}

func TestConnTelemetryMergePreservesPriorFields(t *testing.T) {
	conn := newConn(testRobot(t, "192.168.4.1", 8765), nil, time.Now())

	now := time.Now()

	require.NoError(t, conn.mergeTelemetry(json.RawMessage(`{"battery": 80, "status": "ok"}`), now))
	require.NoError(t, conn.mergeTelemetry(json.RawMessage(`{"battery": 79}`), now.Add(time.Second)))

	snapshot := conn.Telemetry()

	assert.Equal(t, 79, snapshot.Battery)
	assert.Equal(t, "ok", snapshot.Status)
	assert.Equal(t, now.Add(time.Second), snapshot.ReportedAt)
}

func TestConnWriteEnvelopeWhenDisconnected(t *testing.T) {
	conn := newConn(testRobot(t, "192.168.4.1", 8765), nil, time.Now())

	conn.markDisconnected()

	err := conn.writeEnvelope(protocol.NewPing(time.Now()))

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotConnected))
}
