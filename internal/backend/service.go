// Package backend composes the storage drivers with the policy that makes
// them behave identically: identifier minting, access control with group
// resolution, lifecycle bookkeeping, provenance logging, and change
// notification. Callers obtain a Client scoped to one (collection, identity)
// pair and speak only to it.
package backend

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"dbio/pkg/dbio"
)

// Notifier is the fire-and-forget change side-channel. Implementations must
// never block; the backend does not wait on delivery.
type Notifier interface {
	Notify(eventTag, collection, id string)
}

// MetricsRecorder aggregates per-operation timings and outcomes.
type MetricsRecorder interface {
	ObserveDuration(op string, d time.Duration)
	CountResult(op, result string)
}

// Archiver mirrors immutable artifacts into an out-of-band store: the
// snapshot taken at publish time and the history bundle produced by a
// terminal close. Both return a restore locator naming the archived copy.
type Archiver interface {
	ArchiveRecord(ctx context.Context, collection string, rec *dbio.Record) (string, error)
	ArchiveHistory(ctx context.Context, entry dbio.History) (string, error)
}

// Service owns a storage driver plus the shared policy state: the
// per-shoulder minting locks, per-subject archival locks, configuration, and
// the optional notifier and metrics sinks.
type Service struct {
	store    dbio.Store
	cfg      dbio.Config
	notifier Notifier
	metrics  MetricsRecorder
	archiver Archiver

	mintMu    lockTable
	subjectMu lockTable
}

// Option adjusts a Service under construction.
type Option func(*Service)

// WithNotifier attaches a change broadcaster.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithMetrics attaches an operation metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Service) { s.metrics = m }
}

// WithArchiver attaches an archive mirror for published snapshots and closed
// history bundles.
func WithArchiver(a Archiver) Option {
	return func(s *Service) { s.archiver = a }
}

// NewService wraps a storage driver with the shared backend policy.
func NewService(store dbio.Store, cfg dbio.Config, opts ...Option) *Service {
	s := &Service{store: store, cfg: cfg.WithDefaults()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store exposes the underlying driver, mainly for tests and admin tooling.
func (s *Service) Store() dbio.Store { return s.store }

// Config returns the effective configuration.
func (s *Service) Config() dbio.Config { return s.cfg }

// Close releases the underlying driver and stops an attached notifier when it
// owns resources of its own.
func (s *Service) Close() error {
	if closer, ok := s.notifier.(io.Closer); ok {
		_ = closer.Close()
	}
	return s.store.Close()
}

// Client returns a façade bound to one collection and one acting principal.
func (s *Service) Client(collection, who string) *Client {
	return &Client{svc: s, collection: collection, who: who}
}

// Groups returns the group-entity façade for the acting principal.
func (s *Service) Groups(who string) *GroupClient {
	return &GroupClient{Client: s.Client(dbio.GroupsCollection, who)}
}

// MintID issues "<shoulder>:<N>" where N is the next unused integer for the
// shoulder, zero-padded to at least four digits. The read-increment-persist
// runs under a lock scoped to (collection, shoulder).
func (s *Service) MintID(ctx context.Context, collection, shoulder string) (string, error) {
	unlock := s.mintMu.lock(collection + "/" + shoulder)
	defer unlock()
	n, err := s.store.NextSequence(ctx, collection, shoulder)
	if err != nil {
		return "", err
	}
	return FormatID(shoulder, n), nil
}

// PushBackID reclaims a just-minted id that went unused. It only takes
// effect when the id was the most recent mint for its shoulder; anything
// else is a silent no-op, so a stale push-back can never recycle an id that
// a newer create already holds.
func (s *Service) PushBackID(ctx context.Context, collection, id string) error {
	shoulder, n, err := ParseID(id)
	if err != nil {
		return err
	}
	unlock := s.mintMu.lock(collection + "/" + shoulder)
	defer unlock()
	return s.store.PushBackSequence(ctx, collection, shoulder, n)
}

// FormatID renders a minted identifier.
func FormatID(shoulder string, n int) string {
	return fmt.Sprintf("%s:%04d", shoulder, n)
}

// ParseID splits a minted identifier into shoulder and sequence number.
func ParseID(id string) (string, int, error) {
	shoulder, num, ok := strings.Cut(id, ":")
	if !ok || shoulder == "" {
		return "", 0, fmt.Errorf("malformed record id %q", id)
	}
	n, err := strconv.Atoi(num)
	if err != nil {
		return "", 0, fmt.Errorf("malformed record id %q: %w", id, err)
	}
	return shoulder, n, nil
}

// notify enqueues a change event when a notifier is attached.
func (s *Service) notify(eventTag, collection, id string) {
	if s.notifier != nil {
		s.notifier.Notify(eventTag, collection, id)
	}
}

// instrument starts a timed observation of an operation; the returned func
// records duration and outcome.
func (s *Service) instrument(op string) func(error) {
	if s.metrics == nil {
		return func(error) {}
	}
	start := time.Now()
	return func(err error) {
		s.metrics.ObserveDuration(op, time.Since(start))
		result := "success"
		if err != nil {
			result = "error"
		}
		s.metrics.CountResult(op, result)
	}
}

// lockTable hands out named mutexes, creating them on first use.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (t *lockTable) lock(name string) (unlock func()) {
	t.mu.Lock()
	if t.locks == nil {
		t.locks = make(map[string]*sync.Mutex)
	}
	l, ok := t.locks[name]
	if !ok {
		l = &sync.Mutex{}
		t.locks[name] = l
	}
	t.mu.Unlock()
	l.Lock()
	return l.Unlock
}
