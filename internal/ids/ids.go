package ids

import (
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const tempPrefix = "tmp_"

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier suitable for storage
// keys and idempotency keys.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewTemp returns a client-only identifier for optimistic rows. Temp ids are
// replaced by the server-assigned id on the post-commit refetch and must never
// be persisted.
func NewTemp() string {
	return tempPrefix + New()
}

// IsTemp reports whether id was produced by NewTemp.
func IsTemp(id string) bool {
	return strings.HasPrefix(id, tempPrefix)
}
