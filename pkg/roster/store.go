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

// Package roster persists the list of known robots to a local JSON file.
// The file survives restarts of the desktop tools; a factory-default robot
// entry is always available after Clear so a fresh install can connect to
// an out-of-the-box robot without any setup.
package roster

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/roverlab/roverlink/pkg/identity"
	"github.com/roverlab/roverlink/pkg/logger"
)

const (
	rosterDirPerms  = 0700
	rosterFilePerms = 0o600

	// Robots ship with this access-point address preconfigured.
	defaultRobotAddress = "192.168.4.1"
	defaultRobotPort    = 8765
)

var (
	// ErrDuplicateRobot indicates an Add for an address already in the roster.
	ErrDuplicateRobot = errors.New("robot already exists in roster")
	// ErrUnknownRobot indicates an Update or Remove for an address not in the roster.
	ErrUnknownRobot = errors.New("robot not found in roster")
	// ErrBadRosterFile indicates the roster file on disk could not be decoded.
	ErrBadRosterFile = errors.New("roster file is not valid")

	errPathRequired = errors.New("roster store path is required")
)

// RobotConfig is one persisted roster entry.
type RobotConfig struct {
	IPAddress string `json:"ip_address"`
	Port      int    `json:"port"`
}

// Identity builds the validated identity for this entry.
func (rc RobotConfig) Identity() (identity.RobotIdentity, error) {
	return identity.NewBuilder().
		SetAddress(rc.IPAddress).
		SetPort(rc.Port).
		Build()
}

// DefaultRobot returns the factory-default roster entry.
func DefaultRobot() RobotConfig {
	return RobotConfig{IPAddress: defaultRobotAddress, Port: defaultRobotPort}
}

// rosterFile is the on-disk layout.
type rosterFile struct {
	Robots []RobotConfig `json:"robots"`
}

// Store is a file-backed robot roster. All mutations rewrite the file
// atomically via a temp file and rename.
type Store struct {
	path   string
	logger logger.Logger

	mu     sync.RWMutex
	robots []RobotConfig
}

// NewStore constructs a roster store backed by the given file path. The
// parent directory is created if missing; the file itself is created on
// the first mutation.
func NewStore(path string, log logger.Logger) (*Store, error) {
	if path == "" {
		return nil, errPathRequired
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, rosterDirPerms); err != nil {
		return nil, fmt.Errorf("create roster directory: %w", err)
	}

	return &Store{
		path:   path,
		logger: log,
		robots: []RobotConfig{DefaultRobot()},
	}, nil
}

// Load reads the roster file from disk. A missing file leaves the
// in-memory default entry in place.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Debug().
				Str("path", s.path).
				Msg("No roster file yet, starting with the default robot")

			return nil
		}

		return fmt.Errorf("read roster file: %w", err)
	}

	var file rosterFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBadRosterFile, s.path, err)
	}

	s.robots = file.Robots

	s.logger.Debug().
		Str("path", s.path).
		Int("robots", len(s.robots)).
		Msg("Loaded roster")

	return nil
}

// List returns a copy of every roster entry in file order.
func (s *Store) List() []RobotConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]RobotConfig, len(s.robots))
	copy(out, s.robots)

	return out
}

// Find locates an entry by its derived robot id (the last octet of the
// address). Entries that fail identity validation are skipped; the first
// match wins.
func (s *Store) Find(id string) (RobotConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rc := range s.robots {
		robot, err := rc.Identity()
		if err != nil {
			continue
		}

		if robot.ID() == id {
			return rc, true
		}
	}

	return RobotConfig{}, false
}

// FindByAddress locates an entry by its exact IP address.
func (s *Store) FindByAddress(address string) (RobotConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := s.indexOfLocked(address); i >= 0 {
		return s.robots[i], true
	}

	return RobotConfig{}, false
}

// Add appends a new entry and persists the roster. The entry must pass
// identity validation and its address must not already be present.
func (s *Store) Add(rc RobotConfig) error {
	if _, err := rc.Identity(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexOfLocked(rc.IPAddress) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateRobot, rc.IPAddress)
	}

	s.robots = append(s.robots, rc)

	return s.persistLocked()
}

// Update replaces the entry at the given address and persists the roster.
// The replacement may carry a different address as long as it does not
// collide with another entry.
func (s *Store) Update(address string, rc RobotConfig) error {
	if _, err := rc.Identity(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOfLocked(address)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownRobot, address)
	}

	if rc.IPAddress != address && s.indexOfLocked(rc.IPAddress) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateRobot, rc.IPAddress)
	}

	s.robots[i] = rc

	return s.persistLocked()
}

// Remove deletes the entry at the given address and persists the roster.
func (s *Store) Remove(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOfLocked(address)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownRobot, address)
	}

	s.robots = append(s.robots[:i], s.robots[i+1:]...)

	return s.persistLocked()
}

// Clear resets the roster to the factory-default entry and persists it.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.robots = []RobotConfig{DefaultRobot()}

	return s.persistLocked()
}

func (s *Store) indexOfLocked(address string) int {
	for i, rc := range s.robots {
		if rc.IPAddress == address {
			return i
		}
	}

	return -1
}

func (s *Store) persistLocked() error {
	payload, err := json.MarshalIndent(rosterFile{Robots: s.robots}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode roster: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, payload, rosterFilePerms); err != nil {
		return fmt.Errorf("write temporary roster file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath) // best-effort cleanup
		return fmt.Errorf("persist roster file: %w", err)
	}

	s.logger.Debug().
		Str("path", s.path).
		Int("robots", len(s.robots)).
		Msg("Roster written")

	return nil
}
