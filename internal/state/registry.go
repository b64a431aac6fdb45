package state

import (
	"sort"
	"sync"

	"parlor/internal/types"
)

// Conn is the outbound side of one live transport session. The registry never
// reads from a connection; it only fans out and closes.
type Conn interface {
	ID() string
	UserID() string
	Send(msg []byte)
	Close()
}

// Registry tracks every authenticated connection and derives presence from
// it: a user is online iff at least one of their connections is registered.
// A user may hold several simultaneous connections (desktop + browser), so
// presence transitions are reference-counted, not single-flag.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]Conn            // connID → conn
	byUser map[string]map[string]Conn // userID → connID → conn
	users  map[string]types.User      // userID → profile snapshot
}

func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]Conn),
		byUser: make(map[string]map[string]Conn),
		users:  make(map[string]types.User),
	}
}

// Register adds an authenticated connection. It reports whether this is the
// user's first live connection, i.e. whether the user just came online.
func (r *Registry) Register(conn Conn, user types.User) (first bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[conn.ID()]; exists {
		return false, ErrAlreadyRegistered
	}

	r.conns[conn.ID()] = conn
	set, ok := r.byUser[user.ID]
	if !ok {
		set = make(map[string]Conn)
		r.byUser[user.ID] = set
	}
	set[conn.ID()] = conn
	r.users[user.ID] = user
	return len(set) == 1, nil
}

// Unregister removes a connection. It reports whether this was the user's
// last connection, i.e. whether the user just went offline.
func (r *Registry) Unregister(conn Conn) (last bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[conn.ID()]; !exists {
		return false, ErrNotRegistered
	}
	delete(r.conns, conn.ID())

	userID := conn.UserID()
	set := r.byUser[userID]
	delete(set, conn.ID())
	if len(set) == 0 {
		delete(r.byUser, userID)
		delete(r.users, userID)
		return true, nil
	}
	return false, nil
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// OnlineUsers returns one profile per online user, sorted by username for
// consistent ordering.
func (r *Registry) OnlineUsers() []types.User {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]types.User, 0, len(r.users))
	for _, u := range r.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].Username < users[j].Username
	})
	return users
}

// Broadcast fans msg out to every registered connection.
func (r *Registry) Broadcast(msg []byte) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, conn := range r.conns {
		conn.Send(msg)
	}
}

// BroadcastExcept fans msg out to every connection not owned by excludeUserID.
func (r *Registry) BroadcastExcept(msg []byte, excludeUserID string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, conn := range r.conns {
		if conn.UserID() != excludeUserID {
			conn.Send(msg)
		}
	}
}

// SendToUser delivers msg to every connection held by userID.
func (r *Registry) SendToUser(userID string, msg []byte) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, conn := range r.byUser[userID] {
		conn.Send(msg)
	}
}

// CloseUser force-closes every connection held by userID (moderation hook).
func (r *Registry) CloseUser(userID string) {
	r.mu.RLock()
	conns := make([]Conn, 0, len(r.byUser[userID]))
	for _, conn := range r.byUser[userID] {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		conn.Close()
	}
}

func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
