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

package id

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUUIDv7_IsValidAndUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		v := NewUUIDv7()
		require.True(t, IsValid(v), "generated id must parse: %s", v)
		_, dup := seen[v]
		require.False(t, dup, "duplicate id generated: %s", v)
		seen[v] = struct{}{}
	}
}

func TestNewCorrelationID_Distinct(t *testing.T) {
	assert.NotEqual(t, NewCorrelationID(), NewCorrelationID())
}

func TestNewSessionID_Length(t *testing.T) {
	s, err := NewSessionID()
	require.NoError(t, err)
	// 32 random bytes, unpadded base64url
	assert.Len(t, s, 43)
	assert.NotContains(t, s, "=")
}

func TestIsValid_RejectsGarbage(t *testing.T) {
	assert.False(t, IsValid("not-a-uuid"))
	assert.False(t, IsValid(""))
}
