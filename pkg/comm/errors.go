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
	"errors"
	"fmt"

	"github.com/roverlab/roverlink/pkg/identity"
)

// Machine-readable error codes carried by *Error.
const (
	CodeConnectionTimeout    = "connection_timeout"
	CodeConnectionFailed     = "connection_failed"
	CodeConnectionInProgress = "connection_in_progress"
	CodeNotConnected         = "not_connected"
	CodeCommandTimeout       = "command_timeout"
	CodeCommandFailed        = "command_failed"
	CodeCommandEmpty         = "command_empty"
	CodeSendFailed           = "send_failed"
	CodeServiceClosed        = "service_closed"
)

// Sentinel errors for errors.Is checks. Public operations wrap these in an
// *Error carrying the robot and command context.
var (
	ErrConnectionTimeout    = errors.New("connection attempt timed out")
	ErrConnectionFailed     = errors.New("connection failed")
	ErrConnectionInProgress = errors.New("connection attempt already in progress")
	ErrNotConnected         = errors.New("robot is not connected")
	ErrCommandTimeout       = errors.New("timed out waiting for the robot's response")
	ErrCommandFailed        = errors.New("robot rejected the command")
	ErrEmptyCommand         = errors.New("command must not be empty")
	ErrSendFailed           = errors.New("failed to send envelope")
	ErrServiceClosed        = errors.New("communication service is closed")
)

// Error is the typed error every public comm operation returns on failure.
// Code is stable for programmatic handling; Robot and Command are set when
// known.
type Error struct {
	Code    string
	Robot   string
	Command string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Code

	if e.Robot != "" {
		msg += ": robot " + e.Robot
	}

	if e.Command != "" {
		msg += fmt.Sprintf(": command %q", e.Command)
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code string, robot identity.RobotIdentity, command string, err error) *Error {
	return &Error{
		Code:    code,
		Robot:   robot.ID(),
		Command: command,
		Err:     err,
	}
}

// ErrorCode extracts the machine code from an error returned by this
// package, or "" when the error carries none.
func ErrorCode(err error) string {
	var commErr *Error
	if errors.As(err, &commErr) {
		return commErr.Code
	}

	return ""
}
