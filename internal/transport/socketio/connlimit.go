package socketio

import (
	"net"
	"sync"
)

// DefaultMaxPerAddress bounds the sockets a single device may hold open.
const DefaultMaxPerAddress = 4

// ConnectionLimiter limits the number of concurrent connections per remote
// address. A phone that reconnects after a network switch leaves stale
// sockets behind; once the limit is exceeded the oldest one from the same
// address is evicted. Loopback connections are never limited.
type ConnectionLimiter struct {
	mu            sync.Mutex
	maxPerAddress int
	// client IDs per address, oldest first
	byAddress map[string][]string
	// all tracked connections: clientID -> address
	connections map[string]string
}

// NewConnectionLimiter creates a limiter that allows up to maxPerAddress
// concurrent connections from each non-loopback address.
func NewConnectionLimiter(maxPerAddress int) *ConnectionLimiter {
	if maxPerAddress <= 0 {
		maxPerAddress = DefaultMaxPerAddress
	}
	return &ConnectionLimiter{
		maxPerAddress: maxPerAddress,
		byAddress:     make(map[string][]string),
		connections:   make(map[string]string),
	}
}

// TryAdd registers a new connection and returns the ID of any evicted
// client (empty string if none). remoteAddr may carry a port.
func (cl *ConnectionLimiter) TryAdd(clientID, remoteAddr string) (evictedID string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.connections[clientID]; exists {
		return ""
	}

	addr := hostOnly(remoteAddr)
	cl.connections[clientID] = addr

	if isLocalIP(addr) {
		return ""
	}

	ids := append(cl.byAddress[addr], clientID)
	if len(ids) > cl.maxPerAddress {
		evictedID = ids[0]
		ids = ids[1:]
		delete(cl.connections, evictedID)
	}
	cl.byAddress[addr] = ids
	return evictedID
}

// Remove unregisters a connection when a client disconnects.
func (cl *ConnectionLimiter) Remove(clientID string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	addr, exists := cl.connections[clientID]
	if !exists {
		return
	}
	delete(cl.connections, clientID)

	ids := cl.byAddress[addr]
	for i, id := range ids {
		if id == clientID {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(cl.byAddress, addr)
	} else {
		cl.byAddress[addr] = ids
	}
}

// Count returns the number of tracked connections.
func (cl *ConnectionLimiter) Count() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return len(cl.connections)
}

func hostOnly(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

// isLocalIP returns true if the address is a loopback address.
func isLocalIP(addr string) bool {
	ip := net.ParseIP(addr)
	return ip != nil && ip.IsLoopback()
}
