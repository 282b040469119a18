// Package dbpool implements the bounded pool of shared database sessions
// described in SPEC_FULL.md §4.B, grounded on
// original_source/src/db/bucket.rs's DatabaseBucket/DatabasePool.
//
// The source infers a bucket's reference count from the runtime's shared
// pointer machinery; here the count is modeled explicitly with an
// atomic.Uint32, per the redesign flag in SPEC_FULL.md §9.
package dbpool

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocql/gocql"
)

// maxRefCount is the admission threshold: a bucket accepts new sessions
// until its reference count reaches this value (original: reference_count
// >= 3 means "full").
const maxRefCount = 3

// Bucket is a shareable database session with an explicit, atomic
// reference count. Bucket is a value type — cloning it shares the
// underlying *gocql.Session but never shares the counter's backing memory
// (it's a pointer), which is the mechanism Acquire/Release mutate.
type Bucket struct {
	session *gocql.Session
	rc      *atomic.Uint32
}

// Session returns the underlying driver session.
func (b Bucket) Session() *gocql.Session { return b.session }

// RefCount reports the current reference count.
func (b Bucket) RefCount() uint32 { return b.rc.Load() }

func (b Bucket) isFull() bool { return b.rc.Load() >= maxRefCount }

func (b Bucket) incr() Bucket {
	b.rc.Add(1)
	return b
}

func (b Bucket) decr() {
	for {
		cur := b.rc.Load()
		if cur == 0 {
			return
		}
		if b.rc.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// newBucket dials contactPoints with infinite retry and backoff, mirroring
// DatabaseBucket::new's retry loop.
func newBucket(ctx context.Context, contactPoints []string, keyspace string) Bucket {
	backoff := 500 * time.Millisecond
	const maxBackoff = 10 * time.Second

	for {
		cluster := gocql.NewCluster(contactPoints...)
		cluster.Keyspace = keyspace
		cluster.Consistency = gocql.Quorum
		cluster.Timeout = 10 * time.Second

		session, err := cluster.CreateSession()
		if err == nil {
			return Bucket{session: session, rc: new(atomic.Uint32)}
		}

		slog.Error("database bucket dial failed, retrying", "err", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			// Caller gave up waiting; still returns eventually once the DB
			// is reachable, matching the source's unconditional retry.
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}

// Pool multiplexes client sessions across a small number of Buckets.
type Pool struct {
	mu            sync.Mutex
	buckets       []Bucket
	contactPoints []string
	keyspace      string
}

// Config controls how the pool dials new buckets.
type Config struct {
	// ContactHost is CASSANDRA_HOST's value: a comma-separated host list.
	ContactHost string
	Keyspace    string
}

// New creates an empty pool. The first bucket is created lazily on the
// first Acquire, matching the source's "create one bucket eagerly" note
// being satisfied by the caller invoking Acquire once at startup.
func New(cfg Config) *Pool {
	host := strings.TrimSpace(cfg.ContactHost)
	if host == "" {
		host = "127.0.0.1"
	}
	var points []string
	for _, p := range strings.Split(host, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			points = append(points, p)
		}
	}
	if len(points) == 0 {
		points = []string{"127.0.0.1"}
	}
	return &Pool{contactPoints: points, keyspace: cfg.Keyspace}
}

// Acquire returns the first non-full bucket, incrementing its ref-count; if
// every bucket is full (or none exist yet) it sorts buckets by ascending
// ref-count, dials a new one, and returns it. Mirrors
// DatabasePool::get_available_bucket exactly.
func (p *Pool) Acquire(ctx context.Context) Bucket {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, b := range p.buckets {
		if !b.isFull() {
			acquired := b.incr()
			p.buckets[i] = acquired
			return acquired
		}
	}

	sort.Slice(p.buckets, func(i, j int) bool {
		return p.buckets[i].RefCount() < p.buckets[j].RefCount()
	})

	b := newBucket(ctx, p.contactPoints, p.keyspace).incr()
	p.buckets = append(p.buckets, b)
	slog.Info("database bucket created", "total_buckets", len(p.buckets))
	return b
}

// Release decrements a bucket's ref-count. Reclamation at ref-count 0 is an
// open question left unimplemented per SPEC_FULL.md §9 — buckets persist
// for the process lifetime once created.
func (p *Pool) Release(b Bucket) {
	b.decr()
}

// Size reports how many buckets currently exist (used by the ops
// side-channel's /stats endpoint).
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buckets)
}
