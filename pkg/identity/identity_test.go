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

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderBuildValid(t *testing.T) {
	tests := []struct {
		name        string
		address     string
		port        int
		wantID      string
		wantDisplay string
		wantKey     string
	}{
		{
			name:        "access point subnet",
			address:     "192.168.4.23",
			port:        8765,
			wantID:      "23",
			wantDisplay: "Robot 23",
			wantKey:     "192.168.4.23:8765",
		},
		{
			name:        "single digit octet",
			address:     "10.0.0.7",
			port:        80,
			wantID:      "7",
			wantDisplay: "Robot 7",
			wantKey:     "10.0.0.7:80",
		},
		{
			name:        "max octet and port",
			address:     "192.168.4.255",
			port:        65535,
			wantID:      "255",
			wantDisplay: "Robot 255",
			wantKey:     "192.168.4.255:65535",
		},
		{
			name:        "address with whitespace",
			address:     "  192.168.4.1 ",
			port:        8765,
			wantID:      "1",
			wantDisplay: "Robot 1",
			wantKey:     "192.168.4.1:8765",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := NewBuilder().SetAddress(tt.address).SetPort(tt.port).Build()
			require.NoError(t, err)

			assert.Equal(t, tt.wantID, id.ID())
			assert.Equal(t, tt.wantDisplay, id.DisplayName())
			assert.Equal(t, tt.wantKey, id.Key())
		})
	}
}

func TestBuilderBuildInvalid(t *testing.T) {
	tests := []struct {
		name      string
		address   string
		port      int
		skipPort  bool
		wantCodes []string
	}{
		{
			name:      "empty address",
			address:   "",
			port:      8765,
			wantCodes: []string{CodeAddressRequired},
		},
		{
			name:      "not dotted quad",
			address:   "robot.local",
			port:      8765,
			wantCodes: []string{CodeAddressInvalid},
		},
		{
			name:      "too few octets",
			address:   "192.168.4",
			port:      8765,
			wantCodes: []string{CodeAddressInvalid},
		},
		{
			name:      "octet out of range",
			address:   "192.168.4.300",
			port:      8765,
			wantCodes: []string{CodeAddressInvalid},
		},
		{
			name:      "octet not a number",
			address:   "192.168.four.1",
			port:      8765,
			wantCodes: []string{CodeAddressInvalid},
		},
		{
			name:      "leading zero octet",
			address:   "192.168.04.1",
			port:      8765,
			wantCodes: []string{CodeAddressInvalid},
		},
		{
			name:      "unspecified address",
			address:   "0.0.0.0",
			port:      8765,
			wantCodes: []string{CodeAddressForbidden},
		},
		{
			name:      "broadcast address",
			address:   "255.255.255.255",
			port:      8765,
			wantCodes: []string{CodeAddressForbidden},
		},
		{
			name:      "port zero",
			address:   "192.168.4.1",
			port:      0,
			wantCodes: []string{CodePortOutOfRange},
		},
		{
			name:      "port too large",
			address:   "192.168.4.1",
			port:      70000,
			wantCodes: []string{CodePortOutOfRange},
		},
		{
			name:      "port never set",
			address:   "192.168.4.1",
			skipPort:  true,
			wantCodes: []string{CodePortRequired},
		},
		{
			name:      "bad address and bad port reported together",
			address:   "999.168.4.1",
			port:      -1,
			wantCodes: []string{CodeAddressInvalid, CodePortOutOfRange},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder().SetAddress(tt.address)
			if !tt.skipPort {
				b.SetPort(tt.port)
			}

			_, err := b.Build()
			require.Error(t, err)

			var verrs ValidationErrors

			require.ErrorAs(t, err, &verrs)

			for _, code := range tt.wantCodes {
				assert.True(t, verrs.HasCode(code), "expected code %s in %v", code, verrs)
			}
		})
	}
}

func TestBuilderCollectsEveryViolation(t *testing.T) {
	_, err := NewBuilder().SetAddress("300.300.300.300").SetPort(0).Build()
	require.Error(t, err)

	var verrs ValidationErrors

	require.ErrorAs(t, err, &verrs)

	// One entry per out-of-range octet plus the port violation.
	assert.Len(t, verrs, 5)
}

func TestUnspecifiedAddressMessage(t *testing.T) {
	_, err := NewBuilder().SetAddress("0.0.0.0").SetPort(8765).Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed")
}

func TestParse(t *testing.T) {
	id, err := Parse("192.168.4.42:8765")
	require.NoError(t, err)
	assert.Equal(t, "42", id.ID())
	assert.Equal(t, 8765, id.Port())

	_, err = Parse("192.168.4.42")
	require.Error(t, err)

	var verrs ValidationErrors

	require.ErrorAs(t, err, &verrs)
	assert.True(t, verrs.HasCode(CodePortRequired))

	_, err = Parse("192.168.4.42:nope")
	require.Error(t, err)
	require.ErrorAs(t, err, &verrs)
	assert.True(t, verrs.HasCode(CodePortOutOfRange))
}

func TestValidationErrorsError(t *testing.T) {
	errs := ValidationErrors{
		{Field: "address", Code: CodeAddressRequired, Message: "address is required"},
		{Field: "port", Code: CodePortOutOfRange, Message: "port 0 is outside 1-65535"},
	}

	msg := errs.Error()
	assert.Contains(t, msg, "address is required")
	assert.Contains(t, msg, "port 0")

	var asErr error = errs

	assert.False(t, errors.Is(asErr, errors.New("other")))
}
