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
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roverlab/roverlink/pkg/identity"
	"github.com/roverlab/roverlink/pkg/logger"
	"github.com/roverlab/roverlink/pkg/protocol"
)

// Manager owns the socket lifecycle: dialing, the per-connection read
// loop, graceful disconnects and forced terminations. Every registry
// mutation goes through it.
type Manager struct {
	registry *ConnectionRegistry
	opts     options
	log      logger.Logger

	mu      sync.Mutex
	dialing map[string]struct{}

	// inbound receives every raw frame a connection reads. Wired to the
	// dispatcher by the service.
	inbound func(conn *Conn, raw []byte)

	// onRemove fires after a manager-initiated removal: socket errors,
	// peer closes, health-check terminations. Not graceful disconnects.
	onRemove func(conn *Conn, cause error)
}

func NewManager(registry *ConnectionRegistry, opts options, log logger.Logger) *Manager {
	return &Manager{
		registry: registry,
		opts:     opts,
		log:      log,
		dialing:  make(map[string]struct{}),
	}
}

func (m *Manager) setInbound(fn func(conn *Conn, raw []byte)) { m.inbound = fn }

func (m *Manager) setOnRemove(fn func(conn *Conn, cause error)) { m.onRemove = fn }

// Connect dials ws://{address}:{port}/ and registers the connection.
// Calling it again while the robot is connected is a no-op; calling it
// while a dial for the same robot is still running is an error.
func (m *Manager) Connect(ctx context.Context, robot identity.RobotIdentity) error {
	key := robot.Key()

	if conn, ok := m.registry.get(key); ok && conn.Connected() {
		m.log.Debug().Str("robot_id", robot.ID()).Msg("Already connected, ignoring connect request")
		return nil
	}

	if !m.beginDial(key) {
		return newError(CodeConnectionInProgress, robot, "", ErrConnectionInProgress)
	}
	defer m.endDial(key)

	u := url.URL{Scheme: "ws", Host: key, Path: "/"}

	m.log.Info().Str("robot_id", robot.ID()).Str("url", u.String()).Msg("Connecting to robot")

	dialer := websocket.Dialer{HandshakeTimeout: m.opts.connectTimeout}

	dialCtx, cancel := context.WithTimeout(ctx, m.opts.connectTimeout)
	defer cancel()

	ws, resp, err := dialer.DialContext(dialCtx, u.String(), nil)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}

		if isTimeout(err) {
			m.log.Warn().Str("robot_id", robot.ID()).Dur("timeout", m.opts.connectTimeout).
				Msg("Connection attempt timed out")

			return newError(CodeConnectionTimeout, robot, "", fmt.Errorf("%w: %v", ErrConnectionTimeout, err))
		}

		m.log.Warn().Err(err).Str("robot_id", robot.ID()).Msg("Connection attempt failed")

		return newError(CodeConnectionFailed, robot, "", fmt.Errorf("%w: %v", ErrConnectionFailed, err))
	}

	// A dead record for this key may still linger if the robot vanished
	// and came back before the monitor noticed.
	if old, ok := m.registry.get(key); ok {
		old.forceClose()
	}

	conn := newConn(robot, ws, m.opts.clock.Now())
	m.registry.set(key, conn)

	go m.readLoop(conn)

	m.log.Info().Str("robot_id", robot.ID()).Str("robot", robot.DisplayName()).Msg("Robot connected")

	return nil
}

func (m *Manager) beginDial(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, busy := m.dialing[key]; busy {
		return false
	}

	m.dialing[key] = struct{}{}

	return true
}

func (m *Manager) endDial(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.dialing, key)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}

// readLoop is the single reader of one connection. It exits when the
// socket dies or the close handshake completes.
func (m *Manager) readLoop(conn *Conn) {
	defer close(conn.readerDone)

	robotID := conn.Robot().ID()

	for {
		_, raw, err := conn.ws.ReadMessage()
		if err != nil {
			if conn.isClosing() {
				m.log.Debug().Str("robot_id", robotID).Msg("Read loop finished after graceful close")
				return
			}

			conn.markDisconnected()

			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				m.log.Warn().Err(err).Str("robot_id", robotID).Msg("Robot connection closed unexpectedly")
			} else {
				m.log.Warn().Err(err).Str("robot_id", robotID).Msg("Robot connection lost")
			}

			m.removeConn(conn, fmt.Errorf("%w: %v", ErrConnectionFailed, err))

			return
		}

		if m.inbound != nil {
			m.inbound(conn, raw)
		}
	}
}

// Disconnect closes a robot's connection gracefully. A robot that was
// never connected is not an error.
func (m *Manager) Disconnect(ctx context.Context, robot identity.RobotIdentity) error {
	conn, ok := m.registry.get(robot.Key())
	if !ok {
		m.log.Debug().Str("robot_id", robot.ID()).Msg("Disconnect requested for unknown robot")
		return nil
	}

	if err := m.closeConn(ctx, conn); err != nil {
		m.log.Warn().Err(err).Str("robot_id", robot.ID()).Msg("Graceful close incomplete")
	}

	m.registry.removeConn(conn)
	m.log.Info().Str("robot_id", robot.ID()).Msg("Robot disconnected")

	return nil
}

// closeConn runs the graceful shutdown of one connection: a best-effort
// "disconnecting" status, the close handshake, a bounded wait for the
// reader, then a forced close.
func (m *Manager) closeConn(ctx context.Context, conn *Conn) error {
	announce := protocol.NewStatus(map[string]interface{}{
		"client": m.opts.source,
		"state":  "disconnecting",
	}, m.opts.clock.Now())

	m.sendEnvelope(conn, announce)

	if !conn.beginClose() {
		return nil
	}

	var closeErr error

	if err := conn.writeClose(); err != nil {
		closeErr = fmt.Errorf("close handshake: %w", err)
	} else {
		select {
		case <-conn.readerDone:
		case <-time.After(m.opts.closeTimeout):
			closeErr = fmt.Errorf("robot %s: close grace period expired", conn.Robot().ID())
		case <-ctx.Done():
			closeErr = ctx.Err()
		}
	}

	conn.forceClose()

	return closeErr
}

// IsConnected reports whether the robot has a live registered connection.
func (m *Manager) IsConnected(robot identity.RobotIdentity) bool {
	conn, ok := m.registry.get(robot.Key())
	return ok && conn.Connected()
}

// Get returns the robot's connection record.
func (m *Manager) Get(robot identity.RobotIdentity) (*Conn, bool) {
	return m.registry.get(robot.Key())
}

// Close tears down every connection concurrently. Each gets the graceful
// treatment with its own time bound; failures are collected, never
// short-circuited.
func (m *Manager) Close(ctx context.Context) error {
	conns := m.registry.clear()
	if len(conns) == 0 {
		return nil
	}

	m.log.Info().Int("connections", len(conns)).Msg("Closing all robot connections")

	var wg sync.WaitGroup

	errCh := make(chan error, len(conns))

	for _, conn := range conns {
		wg.Add(1)

		go func(c *Conn) {
			defer wg.Done()

			if err := m.closeConn(ctx, c); err != nil {
				errCh <- fmt.Errorf("robot %s: %w", c.Robot().ID(), err)
			}
		}(conn)
	}

	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// terminate force-closes a connection the health monitor declared dead.
func (m *Manager) terminate(conn *Conn, cause error) {
	if !conn.beginClose() {
		return
	}

	m.log.Warn().Err(cause).Str("robot_id", conn.Robot().ID()).Msg("Terminating robot connection")

	conn.forceClose()
	m.removeConn(conn, cause)
}

func (m *Manager) removeConn(conn *Conn, cause error) {
	if !m.registry.removeConn(conn) {
		return
	}

	if m.onRemove != nil {
		m.onRemove(conn, cause)
	}
}

// sendEnvelope writes an envelope, treating an already-closed connection
// as a quiet no-op so shutdown paths stay clean.
func (m *Manager) sendEnvelope(conn *Conn, env protocol.Outbound) {
	if err := conn.writeEnvelope(env); err != nil {
		if errors.Is(err, ErrNotConnected) {
			m.log.Debug().Str("robot_id", conn.Robot().ID()).Str("type", env.Type).
				Msg("Skipping envelope for closed connection")
			return
		}

		m.log.Warn().Err(err).Str("robot_id", conn.Robot().ID()).Str("type", env.Type).
			Msg("Failed to send envelope")
	}
}
