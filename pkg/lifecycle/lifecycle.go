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

// Package lifecycle runs long-lived services with logging setup, signal
// handling and bounded graceful shutdown.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/roverlab/roverlink/pkg/logger"
)

const defaultShutdownTimeout = 10 * time.Second

// Service is anything with a start/stop lifecycle.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// RunOptions configures Run.
type RunOptions struct {
	ServiceName     string
	Service         Service
	Logger          logger.Logger
	ShutdownTimeout time.Duration
}

var errNoService = errors.New("no service provided")

// Run starts the service and blocks until the context is canceled or a
// SIGINT/SIGTERM arrives, then stops the service within the shutdown
// timeout. The service's Start must not block.
func Run(ctx context.Context, opts *RunOptions) error {
	if opts == nil || opts.Service == nil {
		return errNoService
	}

	log := opts.Logger
	if log == nil {
		log = &LoggerImpl{logger: logger.GetLogger()}
	}

	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := opts.Service.Start(runCtx); err != nil {
		return fmt.Errorf("failed to start %s: %w", opts.ServiceName, err)
	}

	log.Info().Str("service", opts.ServiceName).Msg("Service started")

	// Wait for shutdown signal or context cancellation.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		log.Info().Str("service", opts.ServiceName).Str("signal", sig.String()).Msg("Shutdown signal received")
	case <-runCtx.Done():
		log.Info().Str("service", opts.ServiceName).Msg("Context canceled, shutting down")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()

	if err := opts.Service.Stop(stopCtx); err != nil {
		return fmt.Errorf("failed to stop %s: %w", opts.ServiceName, err)
	}

	log.Info().Str("service", opts.ServiceName).Msg("Service stopped")

	return nil
}
