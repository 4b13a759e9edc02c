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

package sim

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roverlab/roverlink/pkg/logger"
	"github.com/roverlab/roverlink/pkg/models"
	"github.com/roverlab/roverlink/pkg/protocol"
)

func TestFleetStartStop(t *testing.T) {
	cfg := &models.SimConfig{
		Robots: []models.SimRobotConfig{
			{ListenAddr: "127.0.0.1:0", InitialBattery: 90},
			{ListenAddr: "127.0.0.1:0", InitialBattery: 40},
		},
	}

	fleet := NewFleet(cfg, logger.NewTestLogger())
	ctx := context.Background()

	require.NoError(t, fleet.Start(ctx))

	require.Len(t, fleet.Robots(), 2)

	// Every member answers on its own socket.
	for _, robot := range fleet.Robots() {
		ws := dialRobot(t, robot)

		writeFrame(t, ws, protocol.NewPing(time.Now()))

		env := readFrame(t, ws)
		assert.Equal(t, protocol.TypePong, env.Type)
	}

	require.NoError(t, fleet.Stop(ctx))
}

func TestFleetStartRollsBackOnFailure(t *testing.T) {
	// Occupy a port so the second robot cannot bind it.
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = taken.Close()
	})

	cfg := &models.SimConfig{
		Robots: []models.SimRobotConfig{
			{ListenAddr: "127.0.0.1:0"},
			{ListenAddr: taken.Addr().String()},
		},
	}

	fleet := NewFleet(cfg, logger.NewTestLogger())
	ctx := context.Background()

	require.Error(t, fleet.Start(ctx))

	// The first robot was stopped again, so its port no longer accepts
	// WebSocket sessions.
	first := fleet.Robots()[0]

	conn, dialErr := net.DialTimeout("tcp", first.Addr(), 500*time.Millisecond)
	if dialErr == nil {
		_ = conn.Close()
	}

	assert.Error(t, dialErr)
}

func TestFleetStopIsIdempotent(t *testing.T) {
	cfg := &models.SimConfig{
		Robots: []models.SimRobotConfig{{ListenAddr: "127.0.0.1:0"}},
	}

	fleet := NewFleet(cfg, logger.NewTestLogger())
	ctx := context.Background()

	require.NoError(t, fleet.Start(ctx))
	require.NoError(t, fleet.Stop(ctx))
	require.NoError(t, fleet.Stop(ctx))
}
