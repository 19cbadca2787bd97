package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Generator hands out monotonic ULIDs. Safe for concurrent use.
type Generator struct {
	mu   sync.Mutex
	mono io.Reader
	now  func() time.Time
}

func NewGenerator(now func() time.Time) *Generator {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if now == nil {
		now = time.Now
	}
	return &Generator{
		mono: ulid.Monotonic(rand.New(rand.NewSource(seed)), 0),
		now:  now,
	}
}

// New returns a time-sortable trade id.
func (g *Generator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(g.now().UTC()), g.mono)
	if err != nil {
		// only when the clock runs backwards past the monotonic window
		panic(err)
	}
	return id.String()
}

// Chain returns a re-entry chain id of the form SYMBOL_xxxxxxxx.
func Chain(symbol string) string {
	return symbol + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
