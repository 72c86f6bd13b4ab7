package main

import (
	"sort"
	"sync"
)

// registry is the single source of truth for which users are reachable.
// A user holds at most one active connection: a second connect from the same
// user overwrites the previous entry. Disconnects arrive with only a
// connection id, so a reverse index is kept alongside the forward map.
type registry struct {
	mu    sync.RWMutex
	users map[string]string // userId -> connId
	conns map[string]string // connId -> userId
}

func newRegistry() *registry {
	return &registry{
		users: make(map[string]string),
		conns: make(map[string]string),
	}
}

// connect inserts or overwrites the entry for userId. It returns the replaced
// connection id when the user was already connected elsewhere.
func (r *registry) connect(userId, connId string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, replaced := r.users[userId]
	if replaced {
		delete(r.conns, old)
	}
	r.users[userId] = connId
	r.conns[connId] = userId
	return old, replaced
}

// disconnect removes the entry holding connId and returns the userId it
// belonged to. A connection that was already removed (or overwritten by a
// newer connect) is a no-op.
func (r *registry) disconnect(connId string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	userId, ok := r.conns[connId]
	if !ok {
		return "", false
	}
	delete(r.conns, connId)
	if r.users[userId] == connId {
		delete(r.users, userId)
	}
	return userId, true
}

// lookup returns the connection id for userId, if present.
func (r *registry) lookup(userId string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	connId, ok := r.users[userId]
	return connId, ok
}

// lookupConn resolves a connection id back to its authenticated user.
func (r *registry) lookupConn(connId string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userId, ok := r.conns[connId]
	return userId, ok
}

// snapshot returns all currently-present userIds, sorted for deterministic
// broadcast payloads.
func (r *registry) snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := make([]string, 0, len(r.users))
	for userId := range r.users {
		users = append(users, userId)
	}
	sort.Strings(users)
	return users
}

// connections returns a copy of the userId -> connId map for fan-out.
func (r *registry) connections() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make(map[string]string, len(r.users))
	for userId, connId := range r.users {
		conns[userId] = connId
	}
	return conns
}

func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}
