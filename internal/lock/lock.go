// Package lock guards a project against concurrent drivers. All project
// mutation assumes a single logical thread of control; the lock extends that
// invariant across processes. Locks are lease-based: a crashed holder's lock
// goes stale after its TTL and can be claimed.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oi-sh/oi/internal/util"
)

// DefaultTTL is how long a lock stays valid without a heartbeat.
const DefaultTTL = 60 * time.Second

// Lease is the on-disk lock record.
type Lease struct {
	Owner     string    `yaml:"owner"`
	PID       int       `yaml:"pid"`
	Acquired  time.Time `yaml:"acquired"`
	Heartbeat time.Time `yaml:"heartbeat"`
	TTL       string    `yaml:"ttl"`
}

func (l *Lease) ttl() time.Duration {
	d, err := time.ParseDuration(l.TTL)
	if err != nil {
		return DefaultTTL
	}
	return d
}

// HeldError reports a lock held by another process.
type HeldError struct {
	ProjectID string
	Owner     string
	PID       int
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("project %s is locked by %s (pid %d)", e.ProjectID, e.Owner, e.PID)
}

// Guard acquires and maintains project leases in a directory, one file per
// project id.
type Guard struct {
	dir   string
	owner string
	ttl   time.Duration
	now   func() time.Time
	mu    sync.Mutex
}

// Option customizes a Guard.
type Option func(*Guard)

// WithTTL overrides the lease TTL.
func WithTTL(ttl time.Duration) Option {
	return func(g *Guard) { g.ttl = ttl }
}

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// NewGuard creates a guard writing leases under dir. The owner identifier
// defaults to user@host.
func NewGuard(dir, owner string, opts ...Option) *Guard {
	if owner == "" {
		owner = defaultOwner()
	}
	g := &Guard{
		dir:   dir,
		owner: owner,
		ttl:   DefaultTTL,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func defaultOwner() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	user := os.Getenv("USER")
	if user == "" {
		user = "oi"
	}
	return user + "@" + host
}

func (g *Guard) leasePath(projectID string) string {
	return filepath.Join(g.dir, projectID+".lock")
}

func (g *Guard) readLease(projectID string) (*Lease, error) {
	data, err := os.ReadFile(g.leasePath(projectID))
	if err != nil {
		return nil, err
	}
	var lease Lease
	if err := yaml.Unmarshal(data, &lease); err != nil {
		return nil, fmt.Errorf("parse lock file: %w", err)
	}
	return &lease, nil
}

func (g *Guard) writeLease(projectID string, lease *Lease) error {
	data, err := yaml.Marshal(lease)
	if err != nil {
		return fmt.Errorf("marshal lock: %w", err)
	}
	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	return util.AtomicWriteFile(g.leasePath(projectID), data, 0o644)
}

// stale reports whether the lease's heartbeat has outlived its TTL.
func (g *Guard) stale(lease *Lease) bool {
	return g.now().Sub(lease.Heartbeat) > lease.ttl()
}

// Acquire takes the lease for a project. A live lease held by another owner
// returns a HeldError; a stale lease is claimed. Re-acquiring one's own
// lease refreshes it.
func (g *Guard) Acquire(projectID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	existing, err := g.readLease(projectID)
	switch {
	case err == nil:
		if !g.stale(existing) && existing.Owner != g.owner {
			return &HeldError{ProjectID: projectID, Owner: existing.Owner, PID: existing.PID}
		}
	case !os.IsNotExist(err):
		return fmt.Errorf("read lock: %w", err)
	}

	now := g.now().UTC()
	return g.writeLease(projectID, &Lease{
		Owner:     g.owner,
		PID:       os.Getpid(),
		Acquired:  now,
		Heartbeat: now,
		TTL:       g.ttl.String(),
	})
}

// Heartbeat refreshes the lease so it does not go stale mid-run.
func (g *Guard) Heartbeat(projectID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	lease, err := g.readLease(projectID)
	if err != nil {
		return fmt.Errorf("read lock: %w", err)
	}
	if lease.Owner != g.owner {
		return &HeldError{ProjectID: projectID, Owner: lease.Owner, PID: lease.PID}
	}
	lease.Heartbeat = g.now().UTC()
	return g.writeLease(projectID, lease)
}

// Release drops the lease. Releasing an unheld or foreign lease is not an
// error for the unheld case; a foreign live lease is left alone.
func (g *Guard) Release(projectID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	lease, err := g.readLease(projectID)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read lock: %w", err)
	}
	if lease.Owner != g.owner {
		return &HeldError{ProjectID: projectID, Owner: lease.Owner, PID: lease.PID}
	}
	if err := os.Remove(g.leasePath(projectID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

// Holder returns the current lease if one exists and is live.
func (g *Guard) Holder(projectID string) (*Lease, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	lease, err := g.readLease(projectID)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if g.stale(lease) {
		return nil, nil
	}
	return lease, nil
}
