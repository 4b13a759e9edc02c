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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/roverlab/roverlink/pkg/identity"
	"github.com/roverlab/roverlink/pkg/logger"
	"github.com/roverlab/roverlink/pkg/protocol"
)

// virtualNow is a hand-driven time source for the mocked clock.
type virtualNow struct {
	mu  sync.Mutex
	now time.Time
}

func (v *virtualNow) get() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.now
}

func (v *virtualNow) advance(d time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.now = v.now.Add(d)
}

func newVirtualClock(t *testing.T) (*MockClock, chan time.Time, *virtualNow) {
	t.Helper()

	ctrl := gomock.NewController(t)

	clock := NewMockClock(ctrl)
	ticker := NewMockTicker(ctrl)
	ticks := make(chan time.Time)
	vnow := &virtualNow{now: time.Unix(1700000000, 0)}

	clock.EXPECT().Now().DoAndReturn(vnow.get).AnyTimes()
	clock.EXPECT().Ticker(gomock.Any()).Return(ticker).AnyTimes()
	ticker.EXPECT().Chan().Return((<-chan time.Time)(ticks)).AnyTimes()
	ticker.EXPECT().Stop().AnyTimes()

	return clock, ticks, vnow
}

func sendTick(t *testing.T, ticks chan time.Time, at time.Time) {
	t.Helper()

	select {
	case ticks <- at:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor never consumed the tick")
	}
}

func TestMonitorPingsEachTick(t *testing.T) {
	clock, ticks, vnow := newVirtualClock(t)

	peer := newFakePeer(t)

	s := newTestService(t, WithClock(clock))
	robot := peer.robot(t)

	require.NoError(t, s.Connect(context.Background(), robot))
	require.True(t, s.monitor.Running())

	// Half a staleness window of silence: still healthy, gets pinged.
	vnow.advance(31 * time.Second)
	sendTick(t, ticks, vnow.get())

	peer.nextFrame(t, protocol.TypePing, 2*time.Second)

	assert.True(t, s.IsConnected(robot))
}

func TestMonitorTerminatesSilentConnection(t *testing.T) {
	clock, ticks, vnow := newVirtualClock(t)

	peer := newFakePeer(t)

	lost := make(chan error, 1)

	s := newTestService(t,
		WithClock(clock),
		WithDisconnectHandler(func(_ identity.RobotIdentity, cause error) {
			select {
			case lost <- cause:
			default:
			}
		}),
	)
	robot := peer.robot(t)

	require.NoError(t, s.Connect(context.Background(), robot))

	// Over two ping intervals with nothing heard: the sweep must kill the
	// connection instead of pinging it again.
	vnow.advance(61 * time.Second)
	sendTick(t, ticks, vnow.get())

	select {
	case cause := <-lost:
		assert.True(t, errors.Is(cause, ErrConnectionFailed))
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect handler never called")
	}

	assert.Eventually(t, func() bool {
		return !s.IsConnected(robot) && s.registry.size() == 0
	}, 2*time.Second, 10*time.Millisecond)

	peer.noFrame(t, protocol.TypePing, 100*time.Millisecond)
}

func TestMonitorStopsWithLastConnection(t *testing.T) {
	clock, _, _ := newVirtualClock(t)

	peer := newFakePeer(t)

	s := newTestService(t, WithClock(clock))
	robot := peer.robot(t)

	require.NoError(t, s.Connect(context.Background(), robot))
	assert.True(t, s.monitor.Running())

	require.NoError(t, s.Disconnect(context.Background(), robot))
	assert.False(t, s.monitor.Running())

	require.NoError(t, s.Connect(context.Background(), robot))
	assert.True(t, s.monitor.Running())
}

func TestMonitorStartStopRestart(t *testing.T) {
	clock, _, _ := newVirtualClock(t)

	registry := NewConnectionRegistry()

	opts := defaultOptions()
	opts.clock = clock

	log := logger.NewTestLogger()
	manager := NewManager(registry, opts, log)
	monitor := NewHealthMonitor(registry, manager, opts, log)

	require.False(t, monitor.Running())

	monitor.Start()
	monitor.Start() // second start is a no-op

	assert.True(t, monitor.Running())

	monitor.Stop()
	assert.False(t, monitor.Running())

	monitor.Start()
	assert.True(t, monitor.Running())

	monitor.Stop()
}
