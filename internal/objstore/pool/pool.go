// Package pool provides a bounded, round-robin pool of object-store
// resources, redesigned from the original's process-wide singleton into
// a dependency-injected type: callers construct a Pool and pass it where
// needed rather than reaching for a package-level instance.
package pool

import (
	"sync"
	"sync/atomic"

	"github.com/snafus/cephsum-server/internal/errs"
	"github.com/snafus/cephsum-server/internal/pathmap"
)

// MaxSize is the hard cap on pool membership: the original's default and
// only tested configuration, kept as a hard limit rather than a mutable
// default.
const MaxSize = 5

// Resource is one pooled connection/handle to the underlying object
// store. NewFunc constructs one; Close releases it at shutdown.
type Resource interface {
	Close() error
}

// NewFunc constructs a new Resource, e.g. connecting a client to a ceph
// cluster or an S3 endpoint.
type NewFunc func() (Resource, error)

// Pool is a fixed-size, round-robin resource pool plus the path mapper
// and default read-block-size shared by every caller that draws from it.
type Pool struct {
	mu        sync.Mutex
	resources []Resource
	index     int
	maxSize   int

	pathMapper    atomic.Pointer[pathmap.Parser]
	readBlockSize int64
}

// New builds a Pool of at most maxSize resources (capped at MaxSize),
// eagerly constructing each one via newFunc. If any construction fails,
// the resources created so far are closed and the error is returned.
func New(maxSize int, newFunc NewFunc, pathMapper *pathmap.Parser, readBlockSize int64) (*Pool, error) {
	if maxSize <= 0 || maxSize > MaxSize {
		maxSize = MaxSize
	}
	p := &Pool{maxSize: maxSize, readBlockSize: readBlockSize}
	p.pathMapper.Store(pathMapper)
	for i := 0; i < maxSize; i++ {
		r, err := newFunc()
		if err != nil {
			p.ShutdownAll()
			return nil, errs.Wrap(errs.KindNotFound, "construct pooled resource", err)
		}
		p.resources = append(p.resources, r)
	}
	return p, nil
}

// Get returns the next resource in round-robin order. Safe for concurrent
// use; the index advance is the only critical section, matching the
// original's "not atomically safe, but safe enough" comment made actually
// safe with a mutex.
func (p *Pool) Get() Resource {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.resources[p.index]
	p.index = (p.index + 1) % len(p.resources)
	return r
}

// ShutdownAll closes every pooled resource. Call once, at server
// shutdown.
func (p *Pool) ShutdownAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.resources {
		_ = r.Close()
	}
	p.resources = nil
}

// Size returns the number of resources currently held.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.resources)
}

// PathMapper returns the shared path mapper in effect for the next
// lookup. Safe to call concurrently with SetPathMapper.
func (p *Pool) PathMapper() *pathmap.Parser { return p.pathMapper.Load() }

// SetPathMapper atomically swaps the path mapper every future lookup
// sees; in-flight requests that already read the old mapper finish
// against it. Used by the config file watcher to apply a reloaded
// storage.xml document without restarting the daemon.
func (p *Pool) SetPathMapper(m *pathmap.Parser) { p.pathMapper.Store(m) }

// ReadBlockSize returns the pool-wide default chunk read size.
func (p *Pool) ReadBlockSize() int64 { return p.readBlockSize }
