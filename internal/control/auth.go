// Copyright 2025 Tom Barlow
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

package control

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net"
	"sync"
	"time"
)

var (
	// ErrAuthenticationFailed is returned when token validation fails.
	ErrAuthenticationFailed = errors.New("control: authentication failed")

	// ErrLockedOut is returned while a client IP is locked out.
	ErrLockedOut = errors.New("control: too many failed authentication attempts")
)

const (
	// TokenBytes is the number of random bytes in an auth token.
	TokenBytes = 32

	// MaxFailedAttempts is the number of failures within FailureWindow
	// that triggers a lockout.
	MaxFailedAttempts = 5

	// FailureWindow is the time window for counting failed attempts.
	FailureWindow = time.Minute

	// LockoutDuration is how long a client IP stays locked out.
	LockoutDuration = 60 * time.Second
)

// GenerateToken returns 32 random bytes, base64url-encoded without padding.
func GenerateToken() (string, error) {
	b := make([]byte, TokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// TokenValidator checks the shared control token and locks out IPs that
// keep presenting the wrong one.
type TokenValidator struct {
	token []byte
	now   func() time.Time

	mu       sync.Mutex
	failures map[string]*failureEntry
}

type failureEntry struct {
	count       int
	firstFail   time.Time
	lockedUntil time.Time
}

// NewTokenValidator creates a validator for token.
func NewTokenValidator(token string) *TokenValidator {
	return &TokenValidator{
		token:    []byte(token),
		now:      time.Now,
		failures: make(map[string]*failureEntry),
	}
}

// Validate compares token in constant time. remoteAddr may include a port.
func (v *TokenValidator) Validate(token, remoteAddr string) error {
	ip := clientIP(remoteAddr)

	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()
	v.prune(now)

	if e, ok := v.failures[ip]; ok && now.Before(e.lockedUntil) {
		return ErrLockedOut
	}

	if subtle.ConstantTimeCompare([]byte(token), v.token) != 1 {
		v.recordFailure(ip, now)
		return ErrAuthenticationFailed
	}

	delete(v.failures, ip)
	return nil
}

func (v *TokenValidator) recordFailure(ip string, now time.Time) {
	e, ok := v.failures[ip]
	if !ok || now.Sub(e.firstFail) > FailureWindow {
		v.failures[ip] = &failureEntry{count: 1, firstFail: now}
		return
	}
	e.count++
	if e.count >= MaxFailedAttempts {
		e.lockedUntil = now.Add(LockoutDuration)
	}
}

// prune drops entries whose window and lockout have both expired. Called
// with mu held.
func (v *TokenValidator) prune(now time.Time) {
	for ip, e := range v.failures {
		if now.After(e.lockedUntil) && now.Sub(e.firstFail) > FailureWindow {
			delete(v.failures, ip)
		}
	}
}

// FailedAttempts returns the failure count recorded for ip.
func (v *TokenValidator) FailedAttempts(ip string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if e, ok := v.failures[ip]; ok {
		return e.count
	}
	return 0
}

// IsLockedOut reports whether ip is currently locked out.
func (v *TokenValidator) IsLockedOut(ip string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.failures[ip]
	return ok && v.now().Before(e.lockedUntil)
}

func clientIP(remoteAddr string) string {
	ip, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return ip
}
