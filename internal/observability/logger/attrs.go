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

package logger

import (
	"log/slog"
	"net/http"
	"time"
)

// HTTPRequest groups the access-log fields of one request.
func HTTPRequest(r *http.Request, status int, elapsed time.Duration) slog.Attr {
	return slog.Group("http",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("user_agent", r.UserAgent()),
		slog.Int("status_code", status),
		slog.Int64("duration_ms", elapsed.Milliseconds()),
	)
}

func RequestID(id string) slog.Attr {
	return slog.String("request_id", id)
}

// Identity
func UserID(id string) slog.Attr {
	return slog.String("user_id", id)
}

func Username(name string) slog.Attr {
	return slog.String("username", name)
}

// Satellite tokens
func KeyID(kid string) slog.Attr {
	return slog.String("kid", kid)
}

func Audience(aud string) slog.Attr {
	return slog.String("audience", aud)
}

// VerificationError carries an idp FailureKind.
func VerificationError(kind string) slog.Attr {
	return slog.String("verification_error", kind)
}

// Tunnel
func CorrelationID(id string) slog.Attr {
	return slog.String("correlation_id", id)
}

// Error renders err as a string so JSON output stays readable. A nil error
// yields an empty value.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

func RowsAffected(rows int64) slog.Attr {
	return slog.Int64("rows_affected", rows)
}

func Component(name string) slog.Attr {
	return slog.String("component", name)
}

func Operation(op string) slog.Attr {
	return slog.String("operation", op)
}

func String(key, value string) slog.Attr {
	return slog.String(key, value)
}
