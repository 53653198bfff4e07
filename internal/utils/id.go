package utils

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	idMu sync.Mutex
	mono io.Reader
)

func init() {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	mono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// NewID returns a ULID. IDs from one process sort by creation time, including
// within the same millisecond.
func NewID() string {
	return NewIDAt(time.Now())
}

// NewIDAt returns a ULID stamped with t.
func NewIDAt(t time.Time) string {
	idMu.Lock()
	defer idMu.Unlock()

	id, err := ulid.New(ulid.Timestamp(t.UTC()), mono)
	if err != nil {
		// only possible if entropy is exhausted or t is before the last stamp
		return ulid.Make().String()
	}
	return id.String()
}
