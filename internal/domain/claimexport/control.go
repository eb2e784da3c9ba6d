package claimexport

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/ehr/claimexport/internal/platform/x12"
)

// Control number ranges for one interchange.
const (
	MinInterchangeControl = 100000000
	MaxInterchangeControl = 999999999
	MinGroupControl       = 10000
	MaxGroupControl       = 99999
	MinTransactionControl = 1000
	MaxTransactionControl = 9999
)

// ControlNumbers are the three batch-scoped envelope identifiers.
type ControlNumbers struct {
	Interchange    int64 `json:"interchange"`
	Group          int64 `json:"group"`
	TransactionSet int64 `json:"transaction_set"`
}

// Validate checks each number against its range.
func (c ControlNumbers) Validate() error {
	if c.Interchange < MinInterchangeControl || c.Interchange > MaxInterchangeControl {
		return fmt.Errorf("interchange control number %d out of range", c.Interchange)
	}
	if c.Group < MinGroupControl || c.Group > MaxGroupControl {
		return fmt.Errorf("group control number %d out of range", c.Group)
	}
	if c.TransactionSet < MinTransactionControl || c.TransactionSet > MaxTransactionControl {
		return fmt.Errorf("transaction set control number %d out of range", c.TransactionSet)
	}
	return nil
}

// InterchangeString renders ISA13, always nine digits.
func (c ControlNumbers) InterchangeString() (string, error) {
	return x12.ZeroPad(c.Interchange, 9)
}

// TransactionSetString renders ST02, always four digits.
func (c ControlNumbers) TransactionSetString() (string, error) {
	return x12.ZeroPad(c.TransactionSet, 4)
}

// GroupString renders GS06.
func (c ControlNumbers) GroupString() string {
	return fmt.Sprintf("%d", c.Group)
}

// ControlNumberAllocator hands out one set of control numbers per export run.
type ControlNumberAllocator interface {
	Allocate(ctx context.Context, submitterID string) (ControlNumbers, error)
}

// RandomAllocator draws each number uniformly from its range. Numbers are
// not persisted, so repeated runs may collide.
type RandomAllocator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomAllocator returns an allocator. A nil rng uses the global source.
func NewRandomAllocator(rng *rand.Rand) *RandomAllocator {
	return &RandomAllocator{rng: rng}
}

func (a *RandomAllocator) Allocate(_ context.Context, _ string) (ControlNumbers, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return ControlNumbers{
		Interchange:    a.between(MinInterchangeControl, MaxInterchangeControl),
		Group:          a.between(MinGroupControl, MaxGroupControl),
		TransactionSet: a.between(MinTransactionControl, MaxTransactionControl),
	}, nil
}

func (a *RandomAllocator) between(lo, hi int64) int64 {
	if a.rng != nil {
		return lo + a.rng.Int64N(hi-lo+1)
	}
	return lo + rand.Int64N(hi-lo+1)
}
