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

// Package sim emulates robot firmware over WebSocket: it answers pings
// with pongs, commands with canned success or error replies, and pushes
// unsolicited status telemetry with a slowly draining battery. roversim
// serves these robots on real ports; package tests dial them in-process.
package sim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/roverlab/roverlink/pkg/logger"
	"github.com/roverlab/roverlink/pkg/models"
	"github.com/roverlab/roverlink/pkg/protocol"
)

const (
	writeWait         = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
	minBattery        = 5
)

var errAlreadyStarted = errors.New("robot already started")

// Robot is one emulated robot listening on its own address.
type Robot struct {
	cfg  models.SimRobotConfig
	log  logger.Logger
	fail map[string]struct{}

	mu       sync.Mutex
	battery  int
	ln       net.Listener
	server   *http.Server
	sessions map[string]*session
	started  bool
	done     chan struct{}
	wg       sync.WaitGroup
}

// session is one client currently connected to the robot.
type session struct {
	id      string
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func NewRobot(cfg models.SimRobotConfig, log logger.Logger) *Robot {
	battery := cfg.InitialBattery
	if battery <= 0 {
		battery = 100
	}

	fail := make(map[string]struct{}, len(cfg.FailCommands))
	for _, command := range cfg.FailCommands {
		fail[command] = struct{}{}
	}

	return &Robot{
		cfg:      cfg,
		log:      log,
		fail:     fail,
		battery:  battery,
		sessions: make(map[string]*session),
	}
}

// Start begins serving on the configured address. It does not block.
func (r *Robot) Start(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return errAlreadyStarted
	}

	ln, err := net.Listen("tcp", r.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", r.cfg.ListenAddr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", r.handleSocket)

	r.ln = ln
	r.server = &http.Server{Handler: mux, ReadHeaderTimeout: readHeaderTimeout}
	r.started = true
	r.done = make(chan struct{})

	r.wg.Add(1)

	go func() {
		defer r.wg.Done()

		if serveErr := r.server.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			r.log.Error().Err(serveErr).Str("addr", ln.Addr().String()).Msg("Robot server stopped")
		}
	}()

	r.log.Info().Str("addr", ln.Addr().String()).Int("battery", r.battery).Msg("Robot listening")

	return nil
}

// Addr returns the address the robot actually listens on, useful when the
// configured address had port 0.
func (r *Robot) Addr() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ln == nil {
		return r.cfg.ListenAddr
	}

	return r.ln.Addr().String()
}

// Stop shuts the listener down and closes every live session.
func (r *Robot) Stop(ctx context.Context) error {
	r.mu.Lock()

	if !r.started {
		r.mu.Unlock()
		return nil
	}

	r.started = false
	close(r.done)

	server := r.server
	sessions := make([]*session, 0, len(r.sessions))

	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.mu.Unlock()

	err := server.Shutdown(ctx)

	// Shutdown does not touch hijacked WebSocket connections.
	for _, sess := range sessions {
		_ = sess.ws.Close()
	}

	r.wg.Wait()

	return err
}

func (r *Robot) handleSocket(w http.ResponseWriter, req *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(*http.Request) bool {
			return true
		},
	}

	ws, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Error().Err(err).Str("remote_addr", req.RemoteAddr).Msg("Failed to upgrade to WebSocket")
		return
	}

	sess := &session{id: uuid.New().String(), ws: ws}

	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		_ = ws.Close()

		return
	}

	r.sessions[sess.id] = sess
	done := r.done
	r.mu.Unlock()

	r.log.Info().
		Str("session_id", sess.id).
		Str("remote_addr", req.RemoteAddr).
		Msg("Client connected")

	if r.cfg.StatusInterval > 0 {
		r.wg.Add(1)

		go r.pushStatus(sess, done)
	}

	r.readLoop(sess)

	r.mu.Lock()
	delete(r.sessions, sess.id)
	r.mu.Unlock()

	_ = ws.Close()

	r.log.Info().Str("session_id", sess.id).Msg("Client disconnected")
}

func (r *Robot) readLoop(sess *session) {
	for {
		_, raw, err := sess.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				r.log.Warn().Err(err).Str("session_id", sess.id).Msg("Session ended abnormally")
			}

			return
		}

		r.handleFrame(sess, raw)
	}
}

func (r *Robot) handleFrame(sess *session, raw []byte) {
	frame, err := protocol.DecodeOutbound(raw)
	if err != nil {
		r.log.Warn().Err(err).Str("session_id", sess.id).Msg("Unreadable client frame")
		r.reply(sess, protocol.Inbound{
			Type:      protocol.TypeError,
			Message:   "unrecognized message",
			Timestamp: time.Now().UnixMilli(),
		})

		return
	}

	switch frame.Type {
	case protocol.TypePing:
		r.reply(sess, protocol.Inbound{
			Type:      protocol.TypePong,
			Data:      r.telemetryJSON(),
			Timestamp: time.Now().UnixMilli(),
		})

	case protocol.TypeCommand:
		r.handleCommand(sess, frame)

	case protocol.TypeStatus:
		r.reply(sess, protocol.Inbound{
			Type:      protocol.TypeSuccess,
			Data:      mustJSON(map[string]interface{}{"acknowledged": true}),
			Timestamp: time.Now().UnixMilli(),
		})
	}
}

func (r *Robot) handleCommand(sess *session, frame protocol.OutboundFrame) {
	var payload protocol.CommandPayload

	if err := json.Unmarshal(frame.Data, &payload); err != nil || payload.Command == "" {
		r.reply(sess, protocol.Inbound{
			Type:      protocol.TypeError,
			Message:   "missing command",
			Timestamp: time.Now().UnixMilli(),
		})

		return
	}

	r.log.Debug().
		Str("session_id", sess.id).
		Str("command", payload.Command).
		Str("source", payload.Source).
		Msg("Command received")

	if _, bad := r.fail[payload.Command]; bad {
		r.reply(sess, protocol.Inbound{
			Type:      protocol.TypeError,
			Message:   fmt.Sprintf("command %q failed", payload.Command),
			Timestamp: time.Now().UnixMilli(),
		})

		return
	}

	if payload.Command == "status" {
		r.reply(sess, protocol.Inbound{
			Type:      protocol.TypeSuccess,
			Data:      r.telemetryJSON(),
			Timestamp: time.Now().UnixMilli(),
		})

		return
	}

	r.reply(sess, protocol.Inbound{
		Type: protocol.TypeSuccess,
		Data: mustJSON(map[string]interface{}{
			"command": payload.Command,
			"result":  "ok",
		}),
		Timestamp: time.Now().UnixMilli(),
	})
}

// pushStatus emits unsolicited status telemetry until the session or the
// robot goes away, draining the battery one point per push.
func (r *Robot) pushStatus(sess *session, done chan struct{}) {
	defer r.wg.Done()

	ticker := time.NewTicker(time.Duration(r.cfg.StatusInterval))
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			r.drainBattery()

			if err := r.reply(sess, protocol.Inbound{
				Type:      protocol.TypeStatus,
				Data:      r.telemetryJSON(),
				Timestamp: time.Now().UnixMilli(),
			}); err != nil {
				return
			}
		}
	}
}

func (r *Robot) drainBattery() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.battery > minBattery {
		r.battery--
	}
}

func (r *Robot) telemetryJSON() json.RawMessage {
	r.mu.Lock()
	battery := r.battery
	r.mu.Unlock()

	status := "ok"
	if battery <= 20 {
		status = "low_battery"
	}

	return mustJSON(map[string]interface{}{
		"battery":         battery,
		"battery_voltage": 6.0 + 1.4*float64(battery)/100,
		"status":          status,
		"hardware": map[string]bool{
			"motors":  true,
			"leds":    true,
			"audio":   true,
			"sensors": true,
		},
	})
}

func (r *Robot) reply(sess *session, env protocol.Inbound) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}

	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()

	_ = sess.ws.SetWriteDeadline(time.Now().Add(writeWait))

	if err := sess.ws.WriteMessage(websocket.TextMessage, raw); err != nil {
		r.log.Debug().Err(err).Str("session_id", sess.id).Msg("Reply failed")
		return err
	}

	return nil
}

func mustJSON(v interface{}) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}

	return raw
}
