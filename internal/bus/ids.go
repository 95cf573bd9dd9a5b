// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugrt Contributors

package bus

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// NewID returns a new ULID string. IDs generated within one process sort
// in creation order.
func NewID(now time.Time) string {
	entropyLock.Lock()
	defer entropyLock.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}
