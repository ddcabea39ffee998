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

package http

import "context"

// Caller is the authenticated principal behind a request.
type Caller struct {
	UserID    string
	Username  string
	Role      string
	SessionID string
}

type callerKey struct{}

func withCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller stored by AuthMiddleware.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}

// GetUserID returns the caller's user id, or "" outside AuthMiddleware.
func GetUserID(ctx context.Context) string {
	c, _ := CallerFrom(ctx)
	return c.UserID
}

// GetUsername returns the caller's username. It is also the caller's
// identity as a token audience.
func GetUsername(ctx context.Context) string {
	c, _ := CallerFrom(ctx)
	return c.Username
}

func GetRole(ctx context.Context) string {
	c, _ := CallerFrom(ctx)
	return c.Role
}

func GetSessionID(ctx context.Context) string {
	c, _ := CallerFrom(ctx)
	return c.SessionID
}
