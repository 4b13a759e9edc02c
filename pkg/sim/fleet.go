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
	"errors"

	"github.com/roverlab/roverlink/pkg/logger"
	"github.com/roverlab/roverlink/pkg/models"
)

// Fleet runs every robot from a sim configuration as one service.
type Fleet struct {
	robots []*Robot
	log    logger.Logger
}

func NewFleet(cfg *models.SimConfig, log logger.Logger) *Fleet {
	robots := make([]*Robot, 0, len(cfg.Robots))
	for _, rc := range cfg.Robots {
		robots = append(robots, NewRobot(rc, log))
	}

	return &Fleet{robots: robots, log: log}
}

// Robots returns the fleet members, in configuration order.
func (f *Fleet) Robots() []*Robot {
	return f.robots
}

// Start brings every robot up. If one fails, the ones already started are
// stopped again.
func (f *Fleet) Start(ctx context.Context) error {
	for i, robot := range f.robots {
		if err := robot.Start(ctx); err != nil {
			for _, started := range f.robots[:i] {
				_ = started.Stop(ctx)
			}

			return err
		}
	}

	f.log.Info().Int("robots", len(f.robots)).Msg("Fleet started")

	return nil
}

// Stop shuts every robot down, collecting the errors.
func (f *Fleet) Stop(ctx context.Context) error {
	var errs []error

	for _, robot := range f.robots {
		if err := robot.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
