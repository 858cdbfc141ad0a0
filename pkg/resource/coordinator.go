// Package resource arbitrates exclusive access to shared hardware: the
// capture device, the speech channel and the actuator bus.
package resource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Resource names a piece of shared hardware.
type Resource string

const (
	ResourceCamera   Resource = "camera"
	ResourceSpeech   Resource = "speech"
	ResourceActuator Resource = "actuator"
)

// Policy decides what happens when a resource is already held.
type Policy int

const (
	// PolicyWait blocks until the holder releases or the context ends.
	PolicyWait Policy = iota
	// PolicyReject fails immediately with a *BusyError.
	PolicyReject
)

func (p Policy) String() string {
	if p == PolicyReject {
		return "reject"
	}
	return "wait"
}

// DefaultPolicies is the per-resource policy used by New.
var DefaultPolicies = map[Resource]Policy{
	ResourceCamera:   PolicyReject,
	ResourceSpeech:   PolicyWait,
	ResourceActuator: PolicyWait,
}

// ErrBusy is matched by every *BusyError.
var ErrBusy = errors.New("resource: busy")

// ErrUnknownResource is returned for resources without a policy.
var ErrUnknownResource = errors.New("resource: unknown")

// BusyError reports a rejected acquisition.
type BusyError struct {
	Resource Resource
	Holder   string
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("resource: %s busy (held by %s)", e.Resource, e.Holder)
}

func (e *BusyError) Is(target error) bool { return target == ErrBusy }

// Release gives a resource back. Calling it more than once is a no-op.
type Release func()

// State is a point-in-time view of one resource.
type State struct {
	Resource Resource  `json:"resource"`
	Policy   string    `json:"policy"`
	Busy     bool      `json:"busy"`
	Holder   string    `json:"holder,omitempty"`
	Since    time.Time `json:"since,omitempty"`
	Waiters  int       `json:"waiters"`
}

type slot struct {
	policy  Policy
	busy    bool
	holder  string
	since   time.Time
	waiters int
	// freed is closed and replaced on every release to wake waiters.
	freed chan struct{}
}

// Coordinator owns the busy flag of every resource. Flags change only
// through Acquire and the returned Release.
type Coordinator struct {
	mu     sync.Mutex
	slots  map[Resource]*slot
	logger *slog.Logger
}

// New creates a coordinator with DefaultPolicies.
func New(logger *slog.Logger) *Coordinator {
	return NewWithPolicies(DefaultPolicies, logger)
}

// NewWithPolicies creates a coordinator for the given resources.
func NewWithPolicies(policies map[Resource]Policy, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		slots:  make(map[Resource]*slot, len(policies)),
		logger: logger.With("component", "resource.coordinator"),
	}
	for r, p := range policies {
		c.slots[r] = &slot{policy: p, freed: make(chan struct{})}
	}
	return c
}

// Acquire takes res for holder. Use the returned Release with defer so the
// resource is given back on every exit path.
func (c *Coordinator) Acquire(ctx context.Context, res Resource, holder string) (Release, error) {
	c.mu.Lock()
	s, ok := c.slots[res]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownResource, res)
	}

	for s.busy {
		if s.policy == PolicyReject {
			err := &BusyError{Resource: res, Holder: s.holder}
			c.mu.Unlock()
			return nil, err
		}
		freed := s.freed
		s.waiters++
		c.mu.Unlock()

		select {
		case <-freed:
			c.mu.Lock()
			s.waiters--
		case <-ctx.Done():
			c.mu.Lock()
			s.waiters--
			c.mu.Unlock()
			return nil, ctx.Err()
		}
	}

	s.busy = true
	s.holder = holder
	s.since = time.Now()
	c.mu.Unlock()
	c.logger.Debug("acquired", "resource", res, "holder", holder)

	var once sync.Once
	return func() {
		once.Do(func() { c.release(res, s, holder) })
	}, nil
}

func (c *Coordinator) release(res Resource, s *slot, holder string) {
	c.mu.Lock()
	held := time.Since(s.since)
	s.busy = false
	s.holder = ""
	s.since = time.Time{}
	close(s.freed)
	s.freed = make(chan struct{})
	c.mu.Unlock()
	c.logger.Debug("released", "resource", res, "holder", holder, "held", held)
}

// Busy reports whether res is currently held.
func (c *Coordinator) Busy(res Resource) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[res]
	return ok && s.busy
}

// Snapshot returns the state of every resource, sorted by name.
func (c *Coordinator) Snapshot() []State {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]State, 0, len(c.slots))
	for r, s := range c.slots {
		out = append(out, State{
			Resource: r,
			Policy:   s.policy.String(),
			Busy:     s.busy,
			Holder:   s.holder,
			Since:    s.since,
			Waiters:  s.waiters,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Resource < out[j].Resource })
	return out
}
