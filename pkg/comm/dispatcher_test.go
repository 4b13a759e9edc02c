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
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roverlab/roverlink/pkg/identity"
	"github.com/roverlab/roverlink/pkg/logger"
	"github.com/roverlab/roverlink/pkg/models"
	"github.com/roverlab/roverlink/pkg/protocol"
)

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()

	base := []Option{
		WithConnectTimeout(2 * time.Second),
		WithCloseTimeout(time.Second),
	}

	s := NewService(logger.NewTestLogger(), append(base, opts...)...)

	t.Cleanup(func() {
		_ = s.Close(context.Background())
	})

	return s
}

// successScript answers every command envelope with the given payload.
func successScript(payload interface{}) func(*fakePeer, *websocket.Conn, protocol.OutboundFrame) {
	return func(p *fakePeer, ws *websocket.Conn, frame protocol.OutboundFrame) {
		if frame.Type != protocol.TypeCommand {
			return
		}

		var data json.RawMessage

		if payload != nil {
			raw, err := json.Marshal(payload)
			if err != nil {
				return
			}

			data = raw
		}

		p.write(ws, protocol.Inbound{
			Type:      protocol.TypeSuccess,
			Data:      data,
			Timestamp: time.Now().UnixMilli(),
		})
	}
}

func subscribeFeedback(t *testing.T, s *Service, robot identity.RobotIdentity) <-chan models.FeedbackEvent {
	t.Helper()

	ch := make(chan models.FeedbackEvent, 64)

	s.Subscribe(robot, func(event models.FeedbackEvent) {
		ch <- event
	})

	return ch
}

func awaitEvent(t *testing.T, ch <-chan models.FeedbackEvent, want models.FeedbackType, timeout time.Duration) models.FeedbackEvent {
	t.Helper()

	deadline := time.After(timeout)

	for {
		select {
		case event := <-ch:
			if event.Type == want {
				return event
			}
		case <-deadline:
			t.Fatalf("no %q feedback within %v", want, timeout)
			return models.FeedbackEvent{}
		}
	}
}

func TestSendCommandSuccess(t *testing.T) {
	peer := newFakePeer(t)
	peer.setScript(successScript(map[string]interface{}{"executed": true}))

	s := newTestService(t)
	robot := peer.robot(t)

	require.NoError(t, s.Connect(context.Background(), robot))

	result, err := s.SendCommand(context.Background(), robot, "wave")

	require.NoError(t, err)
	assert.Equal(t, protocol.KindGeneric, result.Kind)
	assert.Equal(t, true, result.Fields["executed"])

	// The command frame carried the instruction and the client source tag.
	frame := peer.nextFrame(t, protocol.TypeCommand, time.Second)

	var payload protocol.CommandPayload

	require.NoError(t, json.Unmarshal(frame.Data, &payload))
	assert.Equal(t, "wave", payload.Command)
	assert.Equal(t, DefaultSource, payload.Source)
}

func TestSendCommandRobotError(t *testing.T) {
	peer := newFakePeer(t)
	peer.setScript(func(p *fakePeer, ws *websocket.Conn, frame protocol.OutboundFrame) {
		if frame.Type != protocol.TypeCommand {
			return
		}

		p.write(ws, protocol.Inbound{
			Type:      protocol.TypeError,
			Message:   "motor stalled",
			Timestamp: time.Now().UnixMilli(),
		})
	})

	s := newTestService(t)
	robot := peer.robot(t)

	require.NoError(t, s.Connect(context.Background(), robot))

	_, err := s.SendCommand(context.Background(), robot, "spin")

	require.Error(t, err)
	assert.Equal(t, CodeCommandFailed, ErrorCode(err))
	assert.True(t, errors.Is(err, ErrCommandFailed))
	assert.Contains(t, err.Error(), "motor stalled")
}

func TestSendCommandTimeoutThenRecovery(t *testing.T) {
	peer := newFakePeer(t)

	s := newTestService(t, WithCommandTimeout(150*time.Millisecond))
	robot := peer.robot(t)

	require.NoError(t, s.Connect(context.Background(), robot))

	// The robot swallows the first command entirely.
	_, err := s.SendCommand(context.Background(), robot, "wave")

	require.Error(t, err)
	assert.Equal(t, CodeCommandTimeout, ErrorCode(err))
	assert.True(t, errors.Is(err, ErrCommandTimeout))

	// The connection survives the timeout and the next command works.
	peer.setScript(successScript(nil))

	result, err := s.SendCommand(context.Background(), robot, "beep")

	require.NoError(t, err)
	assert.Equal(t, protocol.KindEmpty, result.Kind)
	assert.True(t, s.IsConnected(robot))
}

func TestSendCommandEmpty(t *testing.T) {
	peer := newFakePeer(t)

	s := newTestService(t)
	robot := peer.robot(t)

	require.NoError(t, s.Connect(context.Background(), robot))

	_, err := s.SendCommand(context.Background(), robot, "")

	require.Error(t, err)
	assert.Equal(t, CodeCommandEmpty, ErrorCode(err))

	// Nothing went over the wire for the rejected command.
	peer.noFrame(t, protocol.TypeCommand, 100*time.Millisecond)
}

func TestSendCommandNotConnected(t *testing.T) {
	s := newTestService(t)
	robot := testRobot(t, "192.168.4.1", 8765)

	_, err := s.SendCommand(context.Background(), robot, "wave")

	require.Error(t, err)
	assert.Equal(t, CodeNotConnected, ErrorCode(err))
	assert.True(t, errors.Is(err, ErrNotConnected))
}

func TestCommandsSerializedPerConnection(t *testing.T) {
	const replyDelay = 100 * time.Millisecond

	peer := newFakePeer(t)
	peer.setScript(func(p *fakePeer, ws *websocket.Conn, frame protocol.OutboundFrame) {
		if frame.Type != protocol.TypeCommand {
			return
		}

		time.Sleep(replyDelay)
		p.write(ws, protocol.Inbound{Type: protocol.TypeSuccess, Timestamp: time.Now().UnixMilli()})
	})

	s := newTestService(t)
	robot := peer.robot(t)

	require.NoError(t, s.Connect(context.Background(), robot))

	var wg sync.WaitGroup

	errs := make([]error, 2)
	start := time.Now()

	for i := range errs {
		wg.Add(1)

		go func(idx int) {
			defer wg.Done()

			_, errs[idx] = s.SendCommand(context.Background(), robot, "step")
		}(i)
	}

	wg.Wait()

	elapsed := time.Since(start)

	for _, err := range errs {
		require.NoError(t, err)
	}

	// Responses cannot be told apart on the wire, so the second command
	// must not start before the first one's reply.
	assert.GreaterOrEqual(t, elapsed, 2*replyDelay-10*time.Millisecond)
}

func TestTelemetryArrivingDuringCommand(t *testing.T) {
	peer := newFakePeer(t)
	peer.setScript(func(p *fakePeer, ws *websocket.Conn, frame protocol.OutboundFrame) {
		if frame.Type != protocol.TypeCommand {
			return
		}

		p.write(ws, protocol.Inbound{
			Type:      protocol.TypeStatus,
			Data:      json.RawMessage(`{"battery": 77, "status": "ok"}`),
			Timestamp: time.Now().UnixMilli(),
		})
		p.write(ws, protocol.Inbound{Type: protocol.TypeSuccess, Timestamp: time.Now().UnixMilli()})
	})

	s := newTestService(t)
	robot := peer.robot(t)

	require.NoError(t, s.Connect(context.Background(), robot))

	events := subscribeFeedback(t, s, robot)
	awaitEvent(t, events, models.FeedbackSuccess, time.Second) // synthetic established

	result, err := s.SendCommand(context.Background(), robot, "wave")

	require.NoError(t, err)
	assert.Equal(t, protocol.KindEmpty, result.Kind)

	// The interleaved status never resolved the command; it landed in the
	// telemetry cache and the feedback stream instead.
	snapshot, ok := s.Telemetry(robot)

	require.True(t, ok)
	assert.Equal(t, 77, snapshot.Battery)
	assert.Equal(t, "ok", snapshot.Status)

	info := awaitEvent(t, events, models.FeedbackInfo, time.Second)
	assert.Contains(t, info.Message, "status")
}

func TestSubscribeDeliversSyntheticEstablished(t *testing.T) {
	peer := newFakePeer(t)

	s := newTestService(t)
	robot := peer.robot(t)

	require.NoError(t, s.Connect(context.Background(), robot))

	events := subscribeFeedback(t, s, robot)

	event := awaitEvent(t, events, models.FeedbackSuccess, time.Second)

	assert.Contains(t, event.Message, "established")
	assert.Equal(t, robot.ID(), event.RobotID)
}

func TestSubscribeReplacesPriorSubscriber(t *testing.T) {
	peer := newFakePeer(t)

	s := newTestService(t)
	robot := peer.robot(t)

	require.NoError(t, s.Connect(context.Background(), robot))

	stale := make(chan models.FeedbackEvent, 64)
	s.Subscribe(robot, func(event models.FeedbackEvent) { stale <- event })

	<-stale // its synthetic established event

	events := subscribeFeedback(t, s, robot)
	awaitEvent(t, events, models.FeedbackSuccess, time.Second)

	peer.send(protocol.Inbound{
		Type:      protocol.TypeStatus,
		Data:      json.RawMessage(`{"battery": 50}`),
		Timestamp: time.Now().UnixMilli(),
	})

	awaitEvent(t, events, models.FeedbackInfo, time.Second)

	select {
	case event := <-stale:
		t.Fatalf("replaced subscriber still receiving: %v", event)
	default:
	}
}

func TestSubscribeWithoutConnectionNeverDelivers(t *testing.T) {
	s := newTestService(t)
	robot := testRobot(t, "192.168.4.250", 8765)

	events := make(chan models.FeedbackEvent, 1)

	s.Subscribe(robot, func(event models.FeedbackEvent) { events <- event })

	select {
	case event := <-events:
		t.Fatalf("unexpected feedback without a connection: %v", event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMalformedInboundBecomesErrorFeedback(t *testing.T) {
	peer := newFakePeer(t)

	s := newTestService(t)
	robot := peer.robot(t)

	require.NoError(t, s.Connect(context.Background(), robot))

	events := subscribeFeedback(t, s, robot)
	awaitEvent(t, events, models.FeedbackSuccess, time.Second)

	peer.sendRaw([]byte("{ this is not an envelope"))

	event := awaitEvent(t, events, models.FeedbackError, time.Second)

	assert.Contains(t, event.Message, "unreadable")
	require.NotNil(t, event.Data)
	assert.Contains(t, event.Data["raw"], "not an envelope")
}

func TestUnsolicitedStatusUpdatesTelemetry(t *testing.T) {
	peer := newFakePeer(t)

	s := newTestService(t)
	robot := peer.robot(t)

	require.NoError(t, s.Connect(context.Background(), robot))

	peer.send(protocol.Inbound{
		Type:      protocol.TypeStatus,
		Data:      json.RawMessage(`{"battery": 42, "battery_voltage": 6.9, "status": "low_battery"}`),
		Timestamp: time.Now().UnixMilli(),
	})

	assert.Eventually(t, func() bool {
		snapshot, ok := s.Telemetry(robot)
		return ok && snapshot.Battery == 42
	}, 2*time.Second, 10*time.Millisecond)

	snapshot, ok := s.Telemetry(robot)

	require.True(t, ok)
	assert.InDelta(t, 6.9, snapshot.BatteryVoltage, 0.001)
	assert.Equal(t, "low_battery", snapshot.Status)
}

func TestPongRefreshesLiveness(t *testing.T) {
	peer := newFakePeer(t)

	s := newTestService(t)
	robot := peer.robot(t)

	require.NoError(t, s.Connect(context.Background(), robot))

	conn, ok := s.manager.Get(robot)
	require.True(t, ok)

	before := conn.LastContact()

	time.Sleep(10 * time.Millisecond)

	peer.send(protocol.Inbound{
		Type:      protocol.TypePong,
		Data:      json.RawMessage(`{"battery": 90}`),
		Timestamp: time.Now().UnixMilli(),
	})

	assert.Eventually(t, func() bool {
		return conn.LastContact().After(before)
	}, 2*time.Second, 10*time.Millisecond)
}
