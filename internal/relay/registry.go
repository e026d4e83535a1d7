package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"go.uber.org/zap"
)

// Conn is one accepted client session as seen by the Registry.
type Conn interface {
	// ID is a stable identifier used in logs.
	ID() string
	// Send queues payload for delivery. It must not block.
	Send(payload []byte) error
	// Close tears down the transport. Safe to call more than once.
	Close() error
}

type group struct {
	mu      sync.RWMutex
	members map[Conn]struct{}
}

// Registry maps conversation ids to the set of connections bound to them.
// A connection is expected to be registered under a single conversation id
// for its whole lifetime.
type Registry struct {
	groups  cmap.ConcurrentMap[string, *group]
	owners  cmap.ConcurrentMap[string, string]
	logger  *zap.Logger
	metrics *Metrics
	closing atomic.Bool
}

// NewRegistry creates an empty Registry. metrics may be nil.
func NewRegistry(logger *zap.Logger, metrics *Metrics) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		groups:  cmap.New[*group](),
		owners:  cmap.New[string](),
		logger:  logger,
		metrics: metrics,
	}
}

// Connect adds conn to the group for conversationID, creating the group on
// first use. Connecting an already registered connection is a no-op; a
// connection registered under another id is moved. Once Shutdown has begun,
// a newly added connection is closed right away.
func (r *Registry) Connect(conn Conn, conversationID string) {
	if previous, ok := r.owners.Get(conn.ID()); ok && previous != conversationID {
		r.Disconnect(conn, previous)
	}

	added := false
	// Upsert runs under the shard lock, so it cannot interleave with the
	// prune in Disconnect for the same id.
	r.groups.Upsert(conversationID, nil, func(exist bool, current, _ *group) *group {
		if !exist || current == nil {
			current = &group{members: make(map[Conn]struct{})}
		}
		current.mu.Lock()
		if _, ok := current.members[conn]; !ok {
			current.members[conn] = struct{}{}
			added = true
		}
		current.mu.Unlock()
		return current
	})

	if !added {
		return
	}
	r.owners.Set(conn.ID(), conversationID)
	r.metrics.connectionOpened()
	r.logger.Debug("connection registered",
		zap.String("conversation_id", conversationID),
		zap.String("conn_id", conn.ID()),
	)

	// closing is set before Shutdown snapshots the groups, so a connection
	// added after that snapshot always observes it here.
	if r.closing.Load() {
		_ = conn.Close()
	}
}

// Disconnect removes conn from the group for conversationID and prunes the
// group once it is empty. It reports whether conn was a member; calling it
// for an absent connection or group does nothing.
func (r *Registry) Disconnect(conn Conn, conversationID string) bool {
	removed := false
	r.groups.RemoveCb(conversationID, func(_ string, g *group, exists bool) bool {
		if !exists || g == nil {
			return false
		}
		g.mu.Lock()
		defer g.mu.Unlock()
		if _, ok := g.members[conn]; ok {
			delete(g.members, conn)
			removed = true
		}
		return len(g.members) == 0
	})

	if !removed {
		return false
	}
	r.owners.RemoveCb(conn.ID(), func(_ string, owner string, exists bool) bool {
		return exists && owner == conversationID
	})
	r.metrics.connectionClosed()
	r.logger.Debug("connection deregistered",
		zap.String("conversation_id", conversationID),
		zap.String("conn_id", conn.ID()),
	)
	return true
}

// Broadcast sends payload to every connection in the group and returns the
// number of successful deliveries. Members whose send fails are removed from
// the group and closed; delivery to the rest continues.
func (r *Registry) Broadcast(conversationID string, payload []byte) int {
	g, ok := r.groups.Get(conversationID)
	if !ok {
		return 0
	}

	delivered := 0
	var failed []Conn

	// Sends are non-blocking, so the read lock is held only briefly and
	// membership cannot change mid-iteration.
	g.mu.RLock()
	for conn := range g.members {
		if err := conn.Send(payload); err != nil {
			r.logger.Warn("broadcast send failed, evicting connection",
				zap.String("conversation_id", conversationID),
				zap.String("conn_id", conn.ID()),
				zap.Error(err),
			)
			failed = append(failed, conn)
			continue
		}
		delivered++
	}
	g.mu.RUnlock()

	for _, conn := range failed {
		r.Disconnect(conn, conversationID)
		_ = conn.Close()
	}

	r.metrics.broadcastDone(delivered, len(failed))
	return delivered
}

// Count returns the number of connections in the group for conversationID.
func (r *Registry) Count(conversationID string) int {
	g, ok := r.groups.Get(conversationID)
	if !ok {
		return 0
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.members)
}

// GroupCount returns the number of conversations with at least one
// registered connection.
func (r *Registry) GroupCount() int {
	return r.groups.Count()
}

// Closing reports whether Shutdown has been called. Endpoints use it to turn
// away new clients.
func (r *Registry) Closing() bool {
	return r.closing.Load()
}

// Shutdown closes every registered connection and waits until their
// endpoints have deregistered them or ctx expires.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.closing.Store(true)

	var conns []Conn
	for item := range r.groups.IterBuffered() {
		item.Val.mu.RLock()
		for conn := range item.Val.members {
			conns = append(conns, conn)
		}
		item.Val.mu.RUnlock()
	}

	r.logger.Info("closing relay connections", zap.Int("count", len(conns)))
	for _, conn := range conns {
		_ = conn.Close()
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if r.groups.Count() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			r.logger.Warn("relay shutdown timed out", zap.Int("remaining_groups", r.groups.Count()))
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
