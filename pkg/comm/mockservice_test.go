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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roverlab/roverlink/pkg/logger"
	"github.com/roverlab/roverlink/pkg/models"
	"github.com/roverlab/roverlink/pkg/protocol"
)

func newMock(t *testing.T) *MockService {
	t.Helper()

	m := NewMockService(logger.NewTestLogger())
	m.SetDelay(0)

	t.Cleanup(func() {
		_ = m.Close(context.Background())
	})

	return m
}

func TestMockServiceConnectAndCommand(t *testing.T) {
	m := newMock(t)
	robot := testRobot(t, "192.168.4.1", 8765)

	ctx := context.Background()

	assert.False(t, m.IsConnected(robot))

	require.NoError(t, m.Connect(ctx, robot))
	require.NoError(t, m.Connect(ctx, robot)) // idempotent
	assert.True(t, m.IsConnected(robot))

	result, err := m.SendCommand(ctx, robot, "wave")

	require.NoError(t, err)
	assert.Equal(t, protocol.KindEmpty, result.Kind)

	require.NoError(t, m.Disconnect(ctx, robot))
	assert.False(t, m.IsConnected(robot))
}

func TestMockServiceCannedResponses(t *testing.T) {
	m := newMock(t)
	robot := testRobot(t, "192.168.4.1", 8765)

	m.SetResponse("inspect", protocol.CommandResult{
		Kind:   protocol.KindGeneric,
		Fields: map[string]interface{}{"paint": "intact"},
	})
	m.FailCommand("explode", "safety interlock engaged")

	ctx := context.Background()

	require.NoError(t, m.Connect(ctx, robot))

	result, err := m.SendCommand(ctx, robot, "inspect")

	require.NoError(t, err)
	assert.Equal(t, "intact", result.Fields["paint"])

	_, err = m.SendCommand(ctx, robot, "explode")

	require.Error(t, err)
	assert.Equal(t, CodeCommandFailed, ErrorCode(err))
	assert.Contains(t, err.Error(), "safety interlock")
}

func TestMockServiceCommandValidation(t *testing.T) {
	m := newMock(t)
	robot := testRobot(t, "192.168.4.1", 8765)

	_, err := m.SendCommand(context.Background(), robot, "wave")
	assert.Equal(t, CodeNotConnected, ErrorCode(err))

	require.NoError(t, m.Connect(context.Background(), robot))

	_, err = m.SendCommand(context.Background(), robot, "")
	assert.Equal(t, CodeCommandEmpty, ErrorCode(err))
}

func TestMockServiceSubscribeMirrorsRealService(t *testing.T) {
	m := newMock(t)
	robot := testRobot(t, "192.168.4.7", 8765)

	events := make(chan models.FeedbackEvent, 16)

	// Without a connection the subscription is dropped.
	m.Subscribe(robot, func(event models.FeedbackEvent) { events <- event })

	select {
	case event := <-events:
		t.Fatalf("unexpected feedback: %v", event)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, m.Connect(context.Background(), robot))

	m.Subscribe(robot, func(event models.FeedbackEvent) { events <- event })

	select {
	case event := <-events:
		assert.Equal(t, models.FeedbackSuccess, event.Type)
		assert.Contains(t, event.Message, "established")
	case <-time.After(time.Second):
		t.Fatal("no synthetic established event")
	}

	// Command outcomes reach the subscriber too.
	_, err := m.SendCommand(context.Background(), robot, "wave")
	require.NoError(t, err)

	select {
	case event := <-events:
		assert.Equal(t, models.FeedbackSuccess, event.Type)
	case <-time.After(time.Second):
		t.Fatal("no command feedback")
	}
}

func TestMockServicePeriodicFeedbackDrainsBattery(t *testing.T) {
	m := newMock(t)
	m.SetFeedbackInterval(10 * time.Millisecond)

	robot := testRobot(t, "192.168.4.1", 8765)

	require.NoError(t, m.Connect(context.Background(), robot))

	events := make(chan models.FeedbackEvent, 64)
	m.Subscribe(robot, func(event models.FeedbackEvent) { events <- event })

	deadline := time.After(2 * time.Second)

	for {
		select {
		case event := <-events:
			battery, ok := event.Data["battery"]
			if !ok {
				continue
			}

			assert.Equal(t, models.FeedbackInfo, event.Type)
			assert.Less(t, battery.(int), 100)

			return
		case <-deadline:
			t.Fatal("no battery feedback")
		}
	}
}

func TestMockServiceTelemetry(t *testing.T) {
	m := newMock(t)
	robot := testRobot(t, "192.168.4.1", 8765)

	_, ok := m.Telemetry(robot)
	assert.False(t, ok)

	require.NoError(t, m.Connect(context.Background(), robot))

	snapshot, ok := m.Telemetry(robot)

	require.True(t, ok)
	assert.Equal(t, 100, snapshot.Battery)
	assert.Equal(t, "ok", snapshot.Status)
}

func TestMockServiceClosedRejectsConnect(t *testing.T) {
	m := NewMockService(logger.NewTestLogger())
	m.SetDelay(0)

	robot := testRobot(t, "192.168.4.1", 8765)

	require.NoError(t, m.Close(context.Background()))

	err := m.Connect(context.Background(), robot)
	assert.Equal(t, CodeServiceClosed, ErrorCode(err))
}
