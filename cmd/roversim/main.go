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

package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/roverlab/roverlink/pkg/config"
	"github.com/roverlab/roverlink/pkg/lifecycle"
	"github.com/roverlab/roverlink/pkg/logger"
	"github.com/roverlab/roverlink/pkg/models"
	"github.com/roverlab/roverlink/pkg/sim"
)

var errFailedToLoadConfig = fmt.Errorf("failed to load config")

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/roverlink/roversim.json", "Path to simulator config file")
	flag.Parse()

	ctx := context.Background()

	cfgLoader := config.NewConfig(nil)

	var cfg models.SimConfig

	if err := cfgLoader.LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		return fmt.Errorf("%w: %w", errFailedToLoadConfig, err)
	}

	logConfig := cfg.Logging
	if logConfig == nil {
		logConfig = &logger.Config{
			Level:  "info",
			Output: "stdout",
		}
	}

	simLogger, err := lifecycle.CreateComponentLogger(ctx, "roversim", logConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	fleet := sim.NewFleet(&cfg, simLogger)

	return lifecycle.Run(ctx, &lifecycle.RunOptions{
		ServiceName: "roversim",
		Service:     fleet,
		Logger:      simLogger,
	})
}
