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

// Package secret holds key material outside the Go heap so that it can be
// wiped deterministically. Tunnel private keys (long-term and ephemeral) are
// kept in a Buffer for exactly as long as an exchange needs them.
package secret

import (
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned when a destroyed buffer is read.
var ErrClosed = errors.New("secret: buffer is closed")

// Buffer holds sensitive bytes. The zero value is not usable; construct with
// New or NewFromBytes and release with Close.
type Buffer struct {
	mu     sync.Mutex
	data   []byte
	closed bool
	locked bool
}

// New allocates a zeroed buffer of the given size.
func New(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("secret: buffer size must be positive, got %d", size)
	}
	data, locked, err := allocate(size)
	if err != nil {
		return nil, err
	}
	return &Buffer{data: data, locked: locked}, nil
}

// NewFromBytes copies source into a protected buffer and zeroes source in
// place, so the caller's slice no longer holds the secret.
func NewFromBytes(source []byte) (*Buffer, error) {
	if len(source) == 0 {
		return nil, errors.New("secret: cannot create buffer from empty source")
	}
	b, err := New(len(source))
	if err != nil {
		return nil, err
	}
	copy(b.data, source)
	Wipe(source)
	return b, nil
}

// Bytes returns the secret. The slice aliases protected memory and must not
// be retained past Close.
func (b *Buffer) Bytes() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	return b.data, nil
}

// Len returns the size of the secret, or 0 once closed.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0
	}
	return len(b.data)
}

// Locked reports whether the backing memory is pinned against swap.
func (b *Buffer) Locked() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.locked
}

// Closed reports whether Close has been called.
func (b *Buffer) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Close zeroes the contents and releases the memory. Idempotent.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	Wipe(b.data)
	err := release(b.data, b.locked)
	b.data = nil
	return err
}

// Wipe overwrites p with zeros.
func Wipe(p []byte) {
	for i := range p {
		p[i] = 0
	}
}
