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
	"fmt"
	"sync"

	"github.com/roverlab/roverlink/pkg/logger"
	"github.com/roverlab/roverlink/pkg/protocol"
)

// HealthMonitor pings every live connection on a fixed interval and
// terminates connections that have been silent for two full intervals.
// Termination runs off the sweep goroutine so a slow close never delays
// the next sweep.
type HealthMonitor struct {
	registry *ConnectionRegistry
	manager  *Manager
	opts     options
	log      logger.Logger

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

func NewHealthMonitor(registry *ConnectionRegistry, manager *Manager, opts options, log logger.Logger) *HealthMonitor {
	return &HealthMonitor{
		registry: registry,
		manager:  manager,
		opts:     opts,
		log:      log,
	}
}

// Start launches the sweep loop. Starting an already running monitor is a
// no-op, and a stopped monitor can be started again.
func (m *HealthMonitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	m.running = true
	m.done = make(chan struct{})

	m.wg.Add(1)

	go m.run(m.done)

	m.log.Debug().Dur("interval", m.opts.pingInterval).Msg("Health monitor started")
}

// Stop halts the sweep loop and waits for it to exit.
func (m *HealthMonitor) Stop() {
	m.mu.Lock()

	if !m.running {
		m.mu.Unlock()
		return
	}

	m.running = false
	close(m.done)
	m.mu.Unlock()

	m.wg.Wait()

	m.log.Debug().Msg("Health monitor stopped")
}

// Running reports whether the sweep loop is active.
func (m *HealthMonitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.running
}

func (m *HealthMonitor) run(done chan struct{}) {
	defer m.wg.Done()

	ticker := m.opts.clock.Ticker(m.opts.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.Chan():
			m.sweep()
		}
	}
}

// sweep pings every connected robot and kills the ones that went quiet.
// A connection counts as stale once nothing has arrived for two ping
// intervals, meaning the robot ignored at least one ping outright.
func (m *HealthMonitor) sweep() {
	now := m.opts.clock.Now()
	limit := 2 * m.opts.pingInterval

	for _, conn := range m.registry.list() {
		if !conn.Connected() {
			continue
		}

		silence := now.Sub(conn.LastContact())
		if silence > limit {
			m.log.Warn().Str("robot_id", conn.Robot().ID()).
				Dur("silence", silence).Dur("limit", limit).
				Msg("Robot unresponsive, terminating connection")

			go m.manager.terminate(conn, fmt.Errorf("%w: no traffic for %s", ErrConnectionFailed, silence))

			continue
		}

		m.manager.sendEnvelope(conn, protocol.NewPing(now))
	}
}
