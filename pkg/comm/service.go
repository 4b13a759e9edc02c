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

// Package comm connects to robots over WebSocket and carries the
// command, feedback and health-monitoring traffic for each connection.
package comm

import (
	"context"
	"sync"

	"github.com/roverlab/roverlink/pkg/identity"
	"github.com/roverlab/roverlink/pkg/logger"
	"github.com/roverlab/roverlink/pkg/models"
	"github.com/roverlab/roverlink/pkg/protocol"
)

// Service is the communication façade the rest of the application talks
// to. It owns the connection registry, the socket manager, the command
// dispatcher and the health monitor; nothing in this package is global
// state.
type Service struct {
	registry   *ConnectionRegistry
	manager    *Manager
	dispatcher *Dispatcher
	monitor    *HealthMonitor
	opts       options
	log        logger.Logger

	mu     sync.Mutex
	closed bool
}

var _ CommunicationService = (*Service)(nil)

// NewService builds a communication service with the given options.
func NewService(log logger.Logger, opts ...Option) *Service {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	registry := NewConnectionRegistry()
	manager := NewManager(registry, o, log)
	dispatcher := NewDispatcher(registry, o, log)
	monitor := NewHealthMonitor(registry, manager, o, log)

	s := &Service{
		registry:   registry,
		manager:    manager,
		dispatcher: dispatcher,
		monitor:    monitor,
		opts:       o,
		log:        log,
	}

	manager.setInbound(dispatcher.HandleInbound)
	manager.setOnRemove(s.handleRemoval)

	return s
}

// Connect establishes a WebSocket connection to the robot. Connecting to
// an already connected robot is a no-op. The first successful connection
// starts the health monitor.
func (s *Service) Connect(ctx context.Context, robot identity.RobotIdentity) error {
	if err := s.guardOpen(robot, ""); err != nil {
		return err
	}

	already := s.manager.IsConnected(robot)

	if err := s.manager.Connect(ctx, robot); err != nil {
		return err
	}

	if !already {
		s.announcePresence(robot)
	}

	s.mu.Lock()
	closed := s.closed
	if !closed {
		s.monitor.Start()
	}
	s.mu.Unlock()

	// Close raced the dial; do not leave a live socket behind.
	if closed {
		_ = s.manager.Disconnect(ctx, robot)
		return newError(CodeServiceClosed, robot, "", ErrServiceClosed)
	}

	return nil
}

// announcePresence tells the robot who just connected.
func (s *Service) announcePresence(robot identity.RobotIdentity) {
	conn, ok := s.manager.Get(robot)
	if !ok {
		return
	}

	s.manager.sendEnvelope(conn, protocol.NewStatus(map[string]interface{}{
		"client": s.opts.source,
		"state":  "connected",
	}, s.opts.clock.Now()))
}

// Disconnect closes the robot's connection gracefully. Disconnecting an
// unknown robot is a no-op; Disconnect never returns an error.
func (s *Service) Disconnect(ctx context.Context, robot identity.RobotIdentity) error {
	_ = s.manager.Disconnect(ctx, robot)

	s.stopMonitorIfIdle()

	return nil
}

// IsConnected reports whether the robot currently has a live connection.
func (s *Service) IsConnected(robot identity.RobotIdentity) bool {
	return s.manager.IsConnected(robot)
}

// SendCommand sends one command to the robot and waits for its response.
func (s *Service) SendCommand(ctx context.Context, robot identity.RobotIdentity, command string) (protocol.CommandResult, error) {
	if err := s.guardOpen(robot, command); err != nil {
		return protocol.CommandResult{}, err
	}

	conn, ok := s.manager.Get(robot)
	if !ok {
		return protocol.CommandResult{}, newError(CodeNotConnected, robot, command, ErrNotConnected)
	}

	return s.dispatcher.SendCommand(ctx, conn, command)
}

// Telemetry returns the robot's latest telemetry snapshot. The second
// return is false when the robot has no connection record.
func (s *Service) Telemetry(robot identity.RobotIdentity) (models.TelemetrySnapshot, bool) {
	conn, ok := s.manager.Get(robot)
	if !ok {
		return models.TelemetrySnapshot{}, false
	}

	return conn.Telemetry(), true
}

// Subscribe attaches fn as the robot's feedback subscriber, replacing any
// previous one, and immediately delivers a synthetic connection-established
// event. Subscribing a robot with no connection record is a warned no-op.
func (s *Service) Subscribe(robot identity.RobotIdentity, fn FeedbackFunc) {
	conn, ok := s.manager.Get(robot)
	if !ok {
		s.log.Warn().Str("robot_id", robot.ID()).Msg("Ignoring feedback subscription for unconnected robot")
		return
	}

	s.dispatcher.Subscribe(conn, fn)
}

// Unsubscribe detaches the robot's feedback subscriber.
func (s *Service) Unsubscribe(robot identity.RobotIdentity) {
	conn, ok := s.manager.Get(robot)
	if !ok {
		return
	}

	s.dispatcher.Unsubscribe(conn)
}

// Publish delivers an event to the subscriber of the robot named in it.
func (s *Service) Publish(event models.FeedbackEvent) {
	s.dispatcher.Publish(event)
}

// Close shuts the service down: the monitor stops, then every connection
// is closed concurrently. All errors are collected; the service is
// unusable afterwards.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		return nil
	}

	s.closed = true
	s.mu.Unlock()

	s.monitor.Stop()

	return s.manager.Close(ctx)
}

func (s *Service) guardOpen(robot identity.RobotIdentity, command string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return newError(CodeServiceClosed, robot, command, ErrServiceClosed)
	}

	return nil
}

// handleRemoval runs when the manager drops a connection it did not close
// on purpose (read failure, health termination).
func (s *Service) handleRemoval(conn *Conn, cause error) {
	robot := conn.Robot()

	s.log.Warn().Err(cause).Str("robot_id", robot.ID()).Msg("Robot connection lost")

	s.stopMonitorIfIdle()

	if s.opts.onDisconnect != nil {
		go s.opts.onDisconnect(robot, cause)
	}
}

func (s *Service) stopMonitorIfIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.registry.size() == 0 {
		s.monitor.Stop()
	}
}
