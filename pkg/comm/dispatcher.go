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
	"time"

	"github.com/roverlab/roverlink/pkg/identity"
	"github.com/roverlab/roverlink/pkg/logger"
	"github.com/roverlab/roverlink/pkg/models"
	"github.com/roverlab/roverlink/pkg/protocol"
)

// Dispatcher multiplexes one connection's socket between command
// request/response exchanges and the asynchronous feedback stream. Every
// inbound envelope becomes a feedback event; success and error envelopes
// additionally resolve the command in flight, if any.
type Dispatcher struct {
	registry *ConnectionRegistry
	opts     options
	log      logger.Logger
}

func NewDispatcher(registry *ConnectionRegistry, opts options, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		opts:     opts,
		log:      log,
	}
}

// SendCommand delivers one command and waits for the robot's response.
//
// The wire protocol carries no correlation id, so responses can only be
// matched to requests by order; commands on one connection are therefore
// strictly serialized. A concurrent caller waits for the gate, in FIFO
// order, before its command goes out.
func (d *Dispatcher) SendCommand(ctx context.Context, conn *Conn, command string) (protocol.CommandResult, error) {
	robot := conn.Robot()

	if command == "" {
		return protocol.CommandResult{}, newError(CodeCommandEmpty, robot, command, ErrEmptyCommand)
	}

	if !conn.Connected() {
		return protocol.CommandResult{}, newError(CodeNotConnected, robot, command, ErrNotConnected)
	}

	if err := conn.acquireGate(ctx); err != nil {
		return protocol.CommandResult{}, newError(CodeNotConnected, robot, command, err)
	}
	defer conn.releaseGate()

	pending := conn.arm()
	defer conn.disarm()

	env := protocol.NewCommand(command, d.opts.source, d.opts.clock.Now())

	d.log.Debug().Str("robot_id", robot.ID()).Str("command", command).Msg("Sending command")

	if err := conn.writeEnvelope(env); err != nil {
		return protocol.CommandResult{}, newError(CodeSendFailed, robot, command, err)
	}

	timer := time.NewTimer(d.opts.commandTimeout)
	defer timer.Stop()

	select {
	case resp := <-pending:
		return d.finishCommand(robot, command, resp)

	case <-timer.C:
		d.log.Warn().Str("robot_id", robot.ID()).Str("command", command).
			Dur("timeout", d.opts.commandTimeout).Msg("Command timed out")

		return protocol.CommandResult{}, newError(CodeCommandTimeout, robot, command, ErrCommandTimeout)

	case <-conn.aborted():
		return protocol.CommandResult{}, newError(CodeNotConnected, robot, command,
			fmt.Errorf("%w: connection lost awaiting response", ErrNotConnected))

	case <-ctx.Done():
		return protocol.CommandResult{}, newError(CodeCommandFailed, robot, command, ctx.Err())
	}
}

func (d *Dispatcher) finishCommand(robot identity.RobotIdentity, command string, resp protocol.Inbound) (protocol.CommandResult, error) {
	switch resp.Type {
	case protocol.TypeSuccess:
		result := protocol.ParseCommandResult(resp.Data, d.opts.clock.Now())

		d.log.Debug().Str("robot_id", robot.ID()).Str("command", command).
			Str("result_kind", result.Kind.String()).Msg("Command succeeded")

		return result, nil

	case protocol.TypeError:
		message := resp.Message
		if message == "" {
			message = "robot reported a command failure"
		}

		return protocol.CommandResult{}, newError(CodeCommandFailed, robot, command,
			fmt.Errorf("%w: %s", ErrCommandFailed, message))

	default:
		// resolve only ever hands over success or error envelopes.
		return protocol.CommandResult{}, newError(CodeCommandFailed, robot, command,
			fmt.Errorf("%w: unexpected %s response", ErrCommandFailed, resp.Type))
	}
}

// HandleInbound processes one raw frame from a robot. Malformed frames
// never reach a pending command; they surface as error feedback so the
// operator can see what the robot actually sent.
func (d *Dispatcher) HandleInbound(conn *Conn, raw []byte) {
	robot := conn.Robot()

	env, err := protocol.DecodeInbound(raw)
	if err != nil {
		d.log.Warn().Err(err).Str("robot_id", robot.ID()).Msg("Dropping malformed frame")

		d.deliver(conn, models.FeedbackEvent{
			RobotID:   robot.ID(),
			Timestamp: d.opts.clock.Now(),
			Type:      models.FeedbackError,
			Message:   fmt.Sprintf("%s sent an unreadable message", robot.DisplayName()),
			Data: map[string]interface{}{
				"raw":   string(raw),
				"error": err.Error(),
			},
		})

		return
	}

	// Any well-formed envelope proves the socket is alive.
	now := d.opts.clock.Now()
	conn.markContact(now)

	switch env.Type {
	case protocol.TypePong:
		d.handleTelemetry(conn, env, now, fmt.Sprintf("%s is responding to ping", robot.DisplayName()))

	case protocol.TypeStatus:
		d.handleStatus(conn, env, now)

	case protocol.TypeSuccess:
		conn.resolve(env)

		d.deliver(conn, models.FeedbackEvent{
			RobotID:   robot.ID(),
			Timestamp: now,
			Type:      models.FeedbackSuccess,
			Message:   fmt.Sprintf("%s confirmed the command", robot.DisplayName()),
			Data:      dataFields(env.Data),
		})

	case protocol.TypeError:
		conn.resolve(env)

		message := env.Message
		if message == "" {
			message = fmt.Sprintf("%s reported an error", robot.DisplayName())
		}

		d.deliver(conn, models.FeedbackEvent{
			RobotID:   robot.ID(),
			Timestamp: now,
			Type:      models.FeedbackError,
			Message:   message,
			Data:      dataFields(env.Data),
		})
	}
}

func (d *Dispatcher) handleTelemetry(conn *Conn, env protocol.Inbound, now time.Time, message string) {
	robot := conn.Robot()

	if err := conn.mergeTelemetry(env.Data, now); err != nil {
		d.log.Warn().Err(err).Str("robot_id", robot.ID()).Msg("Ignoring unparsable telemetry")
	}

	d.deliver(conn, models.FeedbackEvent{
		RobotID:   robot.ID(),
		Timestamp: now,
		Type:      models.FeedbackInfo,
		Message:   message,
		Data:      dataFields(env.Data),
	})
}

func (d *Dispatcher) handleStatus(conn *Conn, env protocol.Inbound, now time.Time) {
	robot := conn.Robot()

	if err := conn.mergeTelemetry(env.Data, now); err != nil {
		d.log.Warn().Err(err).Str("robot_id", robot.ID()).Msg("Ignoring unparsable status data")
	}

	snapshot := conn.Telemetry()

	message := fmt.Sprintf("%s status: %s", robot.DisplayName(), snapshot.Status)
	if snapshot.Status == "" {
		message = fmt.Sprintf("%s sent a status update", robot.DisplayName())
	}

	d.deliver(conn, models.FeedbackEvent{
		RobotID:   robot.ID(),
		Timestamp: now,
		Type:      models.FeedbackInfo,
		Message:   message,
		Data:      dataFields(env.Data),
	})
}

// Subscribe replaces the connection's feedback subscriber and immediately
// confirms the wiring with a synthetic "connection established" event.
func (d *Dispatcher) Subscribe(conn *Conn, fn FeedbackFunc) {
	conn.setSubscriber(fn)

	robot := conn.Robot()

	d.log.Debug().Str("robot_id", robot.ID()).Msg("Feedback subscriber attached")

	d.deliver(conn, models.FeedbackEvent{
		RobotID:   robot.ID(),
		Timestamp: d.opts.clock.Now(),
		Type:      models.FeedbackSuccess,
		Message:   fmt.Sprintf("Connection to %s established", robot.DisplayName()),
	})
}

// Unsubscribe detaches the connection's subscriber.
func (d *Dispatcher) Unsubscribe(conn *Conn) {
	conn.setSubscriber(nil)
}

// Publish routes an event to the subscriber of the first connection whose
// robot id matches.
func (d *Dispatcher) Publish(event models.FeedbackEvent) {
	conn, ok := d.registry.findByRobotID(event.RobotID)
	if !ok {
		d.log.Debug().Str("robot_id", event.RobotID).Msg("Dropping feedback for unknown robot")
		return
	}

	d.deliver(conn, event)
}

func (d *Dispatcher) deliver(conn *Conn, event models.FeedbackEvent) {
	fn := conn.subscriberFn()
	if fn == nil {
		d.log.Debug().Str("robot_id", event.RobotID).Str("type", string(event.Type)).
			Msg("No subscriber for feedback event")
		return
	}

	fn(event)
}

func dataFields(raw json.RawMessage) map[string]interface{} {
	if len(raw) == 0 {
		return nil
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil
	}

	return fields
}
