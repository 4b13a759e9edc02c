/*
 * Copyright 2025 RoverLab Robotics.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package comm

import "sync"

// ConnectionRegistry holds the live connection records, at most one per
// canonical "address:port" key. Each Service owns exactly one registry;
// there is no shared package state.
type ConnectionRegistry struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{conns: make(map[string]*Conn)}
}

func (r *ConnectionRegistry) get(key string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[key]

	return conn, ok
}

func (r *ConnectionRegistry) set(key string, conn *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[key] = conn
}

func (r *ConnectionRegistry) remove(key string) (*Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[key]
	if ok {
		delete(r.conns, key)
	}

	return conn, ok
}

// removeConn removes the record only if it is still the registered one,
// so a terminated connection cannot evict its replacement.
func (r *ConnectionRegistry) removeConn(conn *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := conn.Robot().Key()
	if current, ok := r.conns[key]; ok && current == conn {
		delete(r.conns, key)
		return true
	}

	return false
}

// list returns a snapshot of the current records, safe to iterate while
// the registry keeps changing.
func (r *ConnectionRegistry) list() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Conn, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}

	return conns
}

// findByRobotID locates a record by the robot's short id.
func (r *ConnectionRegistry) findByRobotID(id string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, conn := range r.conns {
		if conn.Robot().ID() == id {
			return conn, true
		}
	}

	return nil, false
}

func (r *ConnectionRegistry) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.conns)
}

// clear empties the registry and returns what it held.
func (r *ConnectionRegistry) clear() []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := make([]*Conn, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}

	r.conns = make(map[string]*Conn)

	return conns
}
