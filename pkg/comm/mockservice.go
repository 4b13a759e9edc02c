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
	"fmt"
	"sync"
	"time"

	"github.com/roverlab/roverlink/pkg/identity"
	"github.com/roverlab/roverlink/pkg/logger"
	"github.com/roverlab/roverlink/pkg/models"
	"github.com/roverlab/roverlink/pkg/protocol"
)

const defaultMockDelay = 150 * time.Millisecond

type mockResponse struct {
	result  protocol.CommandResult
	failure string
}

// MockService implements CommunicationService without any sockets. Every
// operation succeeds after a short artificial delay, command responses
// come from a canned table, and connected robots drain a synthetic
// battery. It lets the application run with no hardware present.
type MockService struct {
	log   logger.Logger
	clock Clock

	mu               sync.Mutex
	delay            time.Duration
	feedbackInterval time.Duration
	connected        map[string]identity.RobotIdentity
	subscribers      map[string]FeedbackFunc
	responses        map[string]mockResponse
	battery          map[string]int
	closed           bool
	feedbackOn       bool
	done             chan struct{}
	wg               sync.WaitGroup
}

var _ CommunicationService = (*MockService)(nil)

func NewMockService(log logger.Logger) *MockService {
	return &MockService{
		log:         log,
		clock:       realClock{},
		delay:       defaultMockDelay,
		connected:   make(map[string]identity.RobotIdentity),
		subscribers: make(map[string]FeedbackFunc),
		responses:   make(map[string]mockResponse),
		battery:     make(map[string]int),
	}
}

// SetDelay changes the artificial per-operation latency.
func (m *MockService) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.delay = d
}

// SetClock swaps the time source, for tests.
func (m *MockService) SetClock(clock Clock) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.clock = clock
}

// SetFeedbackInterval enables periodic synthetic battery feedback for
// every connected robot. Zero disables it. Must be set before the first
// Connect.
func (m *MockService) SetFeedbackInterval(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.feedbackInterval = d
}

// SetResponse registers the canned result returned for a command.
func (m *MockService) SetResponse(command string, result protocol.CommandResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.responses[command] = mockResponse{result: result}
}

// FailCommand makes a command fail with the given message.
func (m *MockService) FailCommand(command, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.responses[command] = mockResponse{failure: message}
}

func (m *MockService) Connect(ctx context.Context, robot identity.RobotIdentity) error {
	if err := m.pause(ctx); err != nil {
		return newError(CodeConnectionFailed, robot, "", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return newError(CodeServiceClosed, robot, "", ErrServiceClosed)
	}

	key := robot.Key()
	if _, ok := m.connected[key]; ok {
		return nil
	}

	m.connected[key] = robot
	m.battery[key] = 100

	m.log.Debug().Str("robot_id", robot.ID()).Msg("Mock robot connected")

	m.startFeedbackLocked()

	return nil
}

func (m *MockService) Disconnect(ctx context.Context, robot identity.RobotIdentity) error {
	if err := m.pause(ctx); err != nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := robot.Key()
	delete(m.connected, key)
	delete(m.subscribers, key)
	delete(m.battery, key)

	return nil
}

func (m *MockService) IsConnected(robot identity.RobotIdentity) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.connected[robot.Key()]

	return ok
}

func (m *MockService) SendCommand(ctx context.Context, robot identity.RobotIdentity, command string) (protocol.CommandResult, error) {
	if command == "" {
		return protocol.CommandResult{}, newError(CodeCommandEmpty, robot, command, ErrEmptyCommand)
	}

	if !m.IsConnected(robot) {
		return protocol.CommandResult{}, newError(CodeNotConnected, robot, command, ErrNotConnected)
	}

	if err := m.pause(ctx); err != nil {
		return protocol.CommandResult{}, newError(CodeCommandFailed, robot, command, err)
	}

	m.mu.Lock()
	resp, ok := m.responses[command]
	now := m.clock.Now()
	m.mu.Unlock()

	if ok && resp.failure != "" {
		m.emit(robot, models.FeedbackEvent{
			RobotID:   robot.ID(),
			Timestamp: now,
			Type:      models.FeedbackError,
			Message:   resp.failure,
		})

		return protocol.CommandResult{}, newError(CodeCommandFailed, robot, command,
			fmt.Errorf("%w: %s", ErrCommandFailed, resp.failure))
	}

	m.emit(robot, models.FeedbackEvent{
		RobotID:   robot.ID(),
		Timestamp: now,
		Type:      models.FeedbackSuccess,
		Message:   fmt.Sprintf("%s confirmed the command", robot.DisplayName()),
	})

	if !ok {
		return protocol.CommandResult{Kind: protocol.KindEmpty}, nil
	}

	return resp.result, nil
}

// Telemetry reports a synthetic snapshot for a connected robot.
func (m *MockService) Telemetry(robot identity.RobotIdentity) (models.TelemetrySnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := robot.Key()
	if _, ok := m.connected[key]; !ok {
		return models.TelemetrySnapshot{}, false
	}

	return models.TelemetrySnapshot{
		Battery:        m.battery[key],
		BatteryVoltage: 7.4,
		Status:         "ok",
		Hardware: models.HardwareStatus{
			Motors:  true,
			LEDs:    true,
			Audio:   true,
			Sensors: true,
		},
		ReportedAt: m.clock.Now(),
	}, true
}

func (m *MockService) Subscribe(robot identity.RobotIdentity, fn FeedbackFunc) {
	m.mu.Lock()

	key := robot.Key()
	if _, ok := m.connected[key]; !ok {
		m.mu.Unlock()
		m.log.Warn().Str("robot_id", robot.ID()).Msg("Ignoring feedback subscription for unconnected robot")

		return
	}

	m.subscribers[key] = fn
	now := m.clock.Now()
	m.mu.Unlock()

	if fn != nil {
		fn(models.FeedbackEvent{
			RobotID:   robot.ID(),
			Timestamp: now,
			Type:      models.FeedbackSuccess,
			Message:   fmt.Sprintf("Connection to %s established", robot.DisplayName()),
		})
	}
}

func (m *MockService) Unsubscribe(robot identity.RobotIdentity) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.subscribers, robot.Key())
}

func (m *MockService) Publish(event models.FeedbackEvent) {
	m.mu.Lock()

	var fn FeedbackFunc

	for key, robot := range m.connected {
		if robot.ID() == event.RobotID {
			fn = m.subscribers[key]
			break
		}
	}
	m.mu.Unlock()

	if fn != nil {
		fn(event)
	}
}

func (m *MockService) Close(_ context.Context) error {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()
		return nil
	}

	m.closed = true
	m.connected = make(map[string]identity.RobotIdentity)
	m.subscribers = make(map[string]FeedbackFunc)
	m.battery = make(map[string]int)

	if m.feedbackOn {
		m.feedbackOn = false
		close(m.done)
	}
	m.mu.Unlock()

	m.wg.Wait()

	return nil
}

// pause sleeps for the artificial delay, honoring cancellation.
func (m *MockService) pause(ctx context.Context) error {
	m.mu.Lock()
	delay := m.delay
	m.mu.Unlock()

	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MockService) emit(robot identity.RobotIdentity, event models.FeedbackEvent) {
	m.mu.Lock()
	fn := m.subscribers[robot.Key()]
	m.mu.Unlock()

	if fn != nil {
		fn(event)
	}
}

func (m *MockService) startFeedbackLocked() {
	if m.feedbackInterval <= 0 || m.feedbackOn {
		return
	}

	m.feedbackOn = true
	m.done = make(chan struct{})

	m.wg.Add(1)

	go m.feedbackLoop(m.done, m.feedbackInterval)
}

// feedbackLoop drains each connected robot's battery one point per tick
// and reports it to the robot's subscriber.
func (m *MockService) feedbackLoop(done chan struct{}, interval time.Duration) {
	defer m.wg.Done()

	ticker := m.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.Chan():
			m.tickFeedback()
		}
	}
}

func (m *MockService) tickFeedback() {
	m.mu.Lock()

	type delivery struct {
		fn    FeedbackFunc
		event models.FeedbackEvent
	}

	now := m.clock.Now()
	deliveries := make([]delivery, 0, len(m.connected))

	for key, robot := range m.connected {
		if m.battery[key] > 20 {
			m.battery[key]--
		}

		fn := m.subscribers[key]
		if fn == nil {
			continue
		}

		deliveries = append(deliveries, delivery{
			fn: fn,
			event: models.FeedbackEvent{
				RobotID:   robot.ID(),
				Timestamp: now,
				Type:      models.FeedbackInfo,
				Message:   fmt.Sprintf("%s battery at %d%%", robot.DisplayName(), m.battery[key]),
				Data: map[string]interface{}{
					"battery": m.battery[key],
				},
			},
		})
	}
	m.mu.Unlock()

	for _, d := range deliveries {
		d.fn(d.event)
	}
}
