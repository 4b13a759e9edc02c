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

// Package identity defines how robots are addressed. A RobotIdentity is an
// immutable value built from an IPv4 address and a port; its derived id is
// the last octet of the address, which is how the robots number themselves
// on their access-point subnet.
package identity

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	minPort = 1
	maxPort = 65535

	addressOctets = 4
	maxOctet      = 255
)

// Addresses that are syntactically valid IPv4 but never a reachable robot.
var forbiddenAddresses = map[string]string{
	"0.0.0.0":         "the unspecified address is not allowed",
	"255.255.255.255": "the broadcast address is not allowed",
}

// RobotIdentity identifies one robot by its network endpoint. Construct it
// through a Builder so every instance is known to be valid.
type RobotIdentity struct {
	address string
	port    int
}

// Address returns the robot's dotted-quad IPv4 address.
func (r RobotIdentity) Address() string { return r.address }

// Port returns the robot's WebSocket port.
func (r RobotIdentity) Port() int { return r.port }

// ID is the robot's short identifier, the last octet of its address.
func (r RobotIdentity) ID() string {
	return r.address[strings.LastIndex(r.address, ".")+1:]
}

// DisplayName is the human-facing label shown for this robot.
func (r RobotIdentity) DisplayName() string {
	return fmt.Sprintf("Robot %s", r.ID())
}

// Key is the canonical "address:port" form used to deduplicate
// connections. Two identities with equal keys address the same robot.
func (r RobotIdentity) Key() string {
	return fmt.Sprintf("%s:%d", r.address, r.port)
}

func (r RobotIdentity) String() string { return r.Key() }

// Builder accumulates endpoint fields and validates them all at once, so a
// caller can surface every problem in a single pass instead of fixing them
// one at a time.
type Builder struct {
	address string
	port    int
	portSet bool
}

func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) SetAddress(address string) *Builder {
	b.address = strings.TrimSpace(address)
	return b
}

func (b *Builder) SetPort(port int) *Builder {
	b.port = port
	b.portSet = true

	return b
}

// Build validates the accumulated fields and returns the identity. On
// failure the returned error is a ValidationErrors carrying one entry per
// violated rule.
func (b *Builder) Build() (RobotIdentity, error) {
	var errs ValidationErrors

	errs = append(errs, b.validateAddress()...)
	errs = append(errs, b.validatePort()...)

	if len(errs) > 0 {
		return RobotIdentity{}, errs
	}

	return RobotIdentity{address: b.address, port: b.port}, nil
}

func (b *Builder) validateAddress() ValidationErrors {
	var errs ValidationErrors

	if b.address == "" {
		errs = append(errs, ValidationError{
			Field:   "address",
			Code:    CodeAddressRequired,
			Message: "address is required",
		})

		return errs
	}

	parts := strings.Split(b.address, ".")
	if len(parts) != addressOctets {
		errs = append(errs, ValidationError{
			Field:   "address",
			Code:    CodeAddressInvalid,
			Message: fmt.Sprintf("%q is not a dotted-quad IPv4 address", b.address),
		})

		return errs
	}

	for i, part := range parts {
		octet, err := strconv.Atoi(part)
		if err != nil || part != strconv.Itoa(octet) || octet < 0 {
			errs = append(errs, ValidationError{
				Field:   "address",
				Code:    CodeAddressInvalid,
				Message: fmt.Sprintf("octet %d (%q) is not a decimal number", i+1, part),
			})

			continue
		}

		if octet > maxOctet {
			errs = append(errs, ValidationError{
				Field:   "address",
				Code:    CodeAddressInvalid,
				Message: fmt.Sprintf("octet %d (%d) exceeds %d", i+1, octet, maxOctet),
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}

	if reason, ok := forbiddenAddresses[b.address]; ok {
		errs = append(errs, ValidationError{
			Field:   "address",
			Code:    CodeAddressForbidden,
			Message: reason,
		})
	}

	return errs
}

func (b *Builder) validatePort() ValidationErrors {
	var errs ValidationErrors

	if !b.portSet {
		errs = append(errs, ValidationError{
			Field:   "port",
			Code:    CodePortRequired,
			Message: "port is required",
		})

		return errs
	}

	if b.port < minPort || b.port > maxPort {
		errs = append(errs, ValidationError{
			Field:   "port",
			Code:    CodePortOutOfRange,
			Message: fmt.Sprintf("port %d is outside %d-%d", b.port, minPort, maxPort),
		})
	}

	return errs
}

// Parse builds an identity from a single "address:port" string, the form
// the CLI and the roster file use.
func Parse(key string) (RobotIdentity, error) {
	host, portStr, found := strings.Cut(key, ":")
	if !found {
		return RobotIdentity{}, ValidationErrors{{
			Field:   "port",
			Code:    CodePortRequired,
			Message: fmt.Sprintf("%q is missing a port", key),
		}}
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return RobotIdentity{}, ValidationErrors{{
			Field:   "port",
			Code:    CodePortOutOfRange,
			Message: fmt.Sprintf("port %q is not a number", portStr),
		}}
	}

	return NewBuilder().SetAddress(host).SetPort(port).Build()
}
