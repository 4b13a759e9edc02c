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
	"time"

	"github.com/roverlab/roverlink/pkg/models"
)

const (
	// DefaultConnectTimeout bounds the WebSocket handshake.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultCommandTimeout is how long a command waits for its response.
	DefaultCommandTimeout = 30 * time.Second
	// DefaultPingInterval is the health monitor cadence. A connection
	// silent for twice this interval is considered dead.
	DefaultPingInterval = 30 * time.Second
	// DefaultCloseTimeout bounds each connection's graceful close.
	DefaultCloseTimeout = 5 * time.Second
	// DefaultSource identifies this client in command payloads.
	DefaultSource = "roverlink-desktop"
)

type options struct {
	source         string
	connectTimeout time.Duration
	commandTimeout time.Duration
	pingInterval   time.Duration
	closeTimeout   time.Duration
	clock          Clock
	onDisconnect   DisconnectFunc
}

func defaultOptions() options {
	return options{
		source:         DefaultSource,
		connectTimeout: DefaultConnectTimeout,
		commandTimeout: DefaultCommandTimeout,
		pingInterval:   DefaultPingInterval,
		closeTimeout:   DefaultCloseTimeout,
		clock:          realClock{},
	}
}

// Option configures a Service.
type Option func(*options)

// WithSource sets the client identifier stamped into command payloads.
func WithSource(source string) Option {
	return func(o *options) {
		if source != "" {
			o.source = source
		}
	}
}

// WithConnectTimeout overrides the handshake deadline.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.connectTimeout = d
		}
	}
}

// WithCommandTimeout overrides how long commands wait for a response.
func WithCommandTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.commandTimeout = d
		}
	}
}

// WithPingInterval overrides the health monitor cadence.
func WithPingInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pingInterval = d
		}
	}
}

// WithCloseTimeout overrides the graceful close bound.
func WithCloseTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.closeTimeout = d
		}
	}
}

// WithClock injects a fake clock; tests use it to drive the health
// monitor through virtual time.
func WithClock(clock Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithDisconnectHandler registers the callback for unexpected connection
// loss. Graceful Disconnect and Close calls do not trigger it.
func WithDisconnectHandler(fn DisconnectFunc) Option {
	return func(o *options) {
		o.onDisconnect = fn
	}
}

// WithConfig applies timeouts and the source tag from a loaded
// configuration file. Zero values keep their defaults.
func WithConfig(cfg *models.CommConfig) Option {
	return func(o *options) {
		if cfg == nil {
			return
		}

		WithSource(cfg.Source)(o)
		WithConnectTimeout(time.Duration(cfg.ConnectTimeout))(o)
		WithCommandTimeout(time.Duration(cfg.CommandTimeout))(o)
		WithPingInterval(time.Duration(cfg.PingInterval))(o)
		WithCloseTimeout(time.Duration(cfg.CloseTimeout))(o)
	}
}
