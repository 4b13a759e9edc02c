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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roverlab/roverlink/pkg/models"
)

func TestDefaultOptions(t *testing.T) {
	opts := defaultOptions()

	assert.Equal(t, DefaultSource, opts.source)
	assert.Equal(t, DefaultConnectTimeout, opts.connectTimeout)
	assert.Equal(t, DefaultCommandTimeout, opts.commandTimeout)
	assert.Equal(t, DefaultPingInterval, opts.pingInterval)
	assert.Equal(t, DefaultCloseTimeout, opts.closeTimeout)
	assert.NotNil(t, opts.clock)
}

func TestOptionSetters(t *testing.T) {
	opts := defaultOptions()

	WithSource("bench-rig")(&opts)
	WithConnectTimeout(time.Second)(&opts)
	WithCommandTimeout(2 * time.Second)(&opts)
	WithPingInterval(3 * time.Second)(&opts)
	WithCloseTimeout(4 * time.Second)(&opts)

	assert.Equal(t, "bench-rig", opts.source)
	assert.Equal(t, time.Second, opts.connectTimeout)
	assert.Equal(t, 2*time.Second, opts.commandTimeout)
	assert.Equal(t, 3*time.Second, opts.pingInterval)
	assert.Equal(t, 4*time.Second, opts.closeTimeout)
}

func TestWithConfigAppliesOnlySetFields(t *testing.T) {
	opts := defaultOptions()

	WithConfig(&models.CommConfig{
		Source:         "lab-bench",
		CommandTimeout: models.Duration(5 * time.Second),
	})(&opts)

	assert.Equal(t, "lab-bench", opts.source)
	assert.Equal(t, 5*time.Second, opts.commandTimeout)

	// Unset durations keep their defaults.
	assert.Equal(t, DefaultConnectTimeout, opts.connectTimeout)
	assert.Equal(t, DefaultPingInterval, opts.pingInterval)
	assert.Equal(t, DefaultCloseTimeout, opts.closeTimeout)
}

func TestWithConfigNilIsNoOp(t *testing.T) {
	opts := defaultOptions()

	WithConfig(nil)(&opts)

	assert.Equal(t, DefaultSource, opts.source)
	assert.Equal(t, DefaultCommandTimeout, opts.commandTimeout)
}
