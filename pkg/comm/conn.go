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
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roverlab/roverlink/pkg/identity"
	"github.com/roverlab/roverlink/pkg/models"
	"github.com/roverlab/roverlink/pkg/protocol"
)

// writeWait bounds how long a single socket write may block.
const writeWait = 10 * time.Second

// Conn is the live record of one robot connection. The manager creates it
// on a successful dial and removes it on disconnect, socket failure or a
// health-check timeout; the dispatcher mutates its telemetry and liveness
// as envelopes arrive.
type Conn struct {
	robot identity.RobotIdentity

	mu          sync.RWMutex
	ws          *websocket.Conn
	connected   bool
	closing     bool
	lastContact time.Time
	telemetry   models.TelemetrySnapshot
	subscriber  FeedbackFunc
	pending     chan protocol.Inbound

	// writeMu serializes socket writes; gorilla connections allow only
	// one concurrent writer.
	writeMu sync.Mutex

	// cmdGate admits one in-flight command at a time. The wire protocol
	// has no correlation ids, so responses can only be matched by order.
	cmdGate chan struct{}

	abortOnce  sync.Once
	abort      chan struct{}
	readerDone chan struct{}
}

func newConn(robot identity.RobotIdentity, ws *websocket.Conn, now time.Time) *Conn {
	return &Conn{
		robot:       robot,
		ws:          ws,
		connected:   true,
		lastContact: now,
		cmdGate:     make(chan struct{}, 1),
		abort:       make(chan struct{}),
		readerDone:  make(chan struct{}),
	}
}

// Robot returns the identity this connection belongs to.
func (c *Conn) Robot() identity.RobotIdentity { return c.robot }

// Connected reports whether the transport is open and usable.
func (c *Conn) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.connected && c.ws != nil
}

// LastContact returns when the robot last proved it was alive.
func (c *Conn) LastContact() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.lastContact
}

// Telemetry returns the latest snapshot the robot reported.
func (c *Conn) Telemetry() models.TelemetrySnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.telemetry
}

func (c *Conn) markContact(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastContact = at
}

func (c *Conn) mergeTelemetry(raw json.RawMessage, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, err := protocol.MergeTelemetry(c.telemetry, raw, at)
	if err != nil {
		return err
	}

	c.telemetry = next

	return nil
}

func (c *Conn) setSubscriber(fn FeedbackFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.subscriber = fn
}

func (c *Conn) subscriberFn() FeedbackFunc {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.subscriber
}

// acquireGate blocks until this connection has no other command in flight.
func (c *Conn) acquireGate(ctx context.Context) error {
	select {
	case c.cmdGate <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.abort:
		return ErrNotConnected
	}
}

func (c *Conn) releaseGate() {
	select {
	case <-c.cmdGate:
	default:
	}
}

// arm registers the pending-response slot for an in-flight command. The
// caller must hold the command gate.
func (c *Conn) arm() chan protocol.Inbound {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending = make(chan protocol.Inbound, 1)

	return c.pending
}

func (c *Conn) disarm() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending = nil
}

// resolve hands a response envelope to the armed command, if any.
func (c *Conn) resolve(env protocol.Inbound) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending == nil {
		return false
	}

	select {
	case c.pending <- env:
		return true
	default:
		return false
	}
}

// aborted is closed once the connection is known dead, releasing any
// caller still waiting on a response.
func (c *Conn) aborted() <-chan struct{} { return c.abort }

// writeEnvelope encodes and sends one outbound envelope. Writing to a
// connection that is already closed is not an error here; callers that
// care check Connected first.
func (c *Conn) writeEnvelope(env protocol.Outbound) error {
	if !c.Connected() {
		return fmt.Errorf("%w: %s", ErrNotConnected, c.robot.ID())
	}

	raw, err := protocol.EncodeEnvelope(env)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	if err := c.ws.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	return nil
}

// writeClose sends the close handshake frame.
func (c *Conn) writeClose() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
}

// beginClose marks the connection as shutting down. It returns false when
// another goroutine already started the teardown.
func (c *Conn) beginClose() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closing {
		return false
	}

	c.closing = true
	c.connected = false

	return true
}

func (c *Conn) isClosing() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.closing
}

// markDisconnected flags the transport dead and releases waiters.
func (c *Conn) markDisconnected() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	c.abortOnce.Do(func() { close(c.abort) })
}

// forceClose tears the socket down without a close handshake.
func (c *Conn) forceClose() {
	c.markDisconnected()
	_ = c.ws.Close()
}
