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

package identity

import "strings"

// Machine-readable validation codes.
const (
	CodeAddressRequired  = "address_required"
	CodeAddressInvalid   = "address_invalid"
	CodeAddressForbidden = "address_forbidden"
	CodePortRequired     = "port_required"
	CodePortOutOfRange   = "port_out_of_range"
)

// ValidationError describes a single violated identity rule.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationErrors aggregates every rule a Build call violated.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}

	msgs := make([]string, 0, len(e))
	for _, ve := range e {
		msgs = append(msgs, ve.Error())
	}

	return "invalid robot endpoint: " + strings.Join(msgs, "; ")
}

// HasCode reports whether any collected violation carries the given code.
func (e ValidationErrors) HasCode(code string) bool {
	for _, ve := range e {
		if ve.Code == code {
			return true
		}
	}

	return false
}
