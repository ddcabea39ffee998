// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package id generates identifiers for users, sessions and tunnel exchanges.
package id

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/google/uuid"
)

// NewUUIDv7 returns a time-ordered UUID string.
// Falls back to a random (v4) UUID if the v7 generator fails.
func NewUUIDv7() string {
	u, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return u.String()
}

// NewCorrelationID returns an identifier that binds a tunnel request to its
// response. It is used as additional authenticated data, so it must never be
// reused across exchanges.
func NewCorrelationID() string {
	return NewUUIDv7()
}

// NewSessionID returns an unguessable session identifier.
func NewSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// IsValid reports whether s parses as a UUID.
func IsValid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
