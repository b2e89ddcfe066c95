package vanstock

import (
	"fmt"
	"sync"
	"time"
)

// EditSet holds a session's not-yet-saved stock line drafts. It lives
// only in process memory: drafts are cleared on explicit save and simply
// dropped when the session is abandoned. The handler goroutines and the
// notification listener touch the same set, so every method locks.
type EditSet struct {
	mu    sync.Mutex
	order []int64
	byPID map[int64]StockLine
}

// NewEditSet returns an empty edit set.
func NewEditSet() *EditSet {
	return &EditSet{byPID: make(map[int64]StockLine)}
}

// Put stages a draft line, replacing any draft for the same product
// while keeping first-staged order for display.
func (e *EditSet) Put(line StockLine) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.put(line)
}

func (e *EditSet) put(line StockLine) {
	if _, ok := e.byPID[line.ProductID]; !ok {
		e.order = append(e.order, line.ProductID)
	}
	e.byPID[line.ProductID] = line
}

// Get returns the draft for a product, if staged.
func (e *EditSet) Get(productID int64) (StockLine, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	line, ok := e.byPID[productID]
	return line, ok
}

// Lines returns drafts in staging order.
func (e *EditSet) Lines() []StockLine {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]StockLine, 0, len(e.order))
	for _, pid := range e.order {
		out = append(out, e.byPID[pid])
	}
	return out
}

// Len reports the number of staged drafts.
func (e *EditSet) Len() int {
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.byPID)
}

// Clear drops every staged draft.
func (e *EditSet) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clear()
}

func (e *EditSet) clear() {
	e.order = nil
	e.byPID = make(map[int64]StockLine)
}

// Replace swaps the staged drafts for the given lines.
func (e *EditSet) Replace(lines []StockLine) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clear()
	for _, line := range lines {
		e.put(line)
	}
}

// SessionKey identifies the operator session owning an edit set.
type SessionKey struct {
	VehicleID  int64
	OperatorID int64
	Date       string
}

// NewSessionKey builds a key from the day coordinates.
func NewSessionKey(vehicleID, operatorID int64, date time.Time) SessionKey {
	return SessionKey{
		VehicleID:  vehicleID,
		OperatorID: operatorID,
		Date:       date.Format("2006-01-02"),
	}
}

func (k SessionKey) String() string {
	return fmt.Sprintf("%d:%d:%s", k.VehicleID, k.OperatorID, k.Date)
}

// SessionRegistry owns the in-memory edit sets per active session.
// Background order-sync writes go to storage only and never through the
// registry, so pending operator edits survive sync events untouched.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[SessionKey]*EditSet
}

// NewSessionRegistry constructs an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[SessionKey]*EditSet)}
}

// Acquire returns the edit set for the session, creating it on first
// access.
func (r *SessionRegistry) Acquire(key SessionKey) *EditSet {
	r.mu.Lock()
	defer r.mu.Unlock()
	es, ok := r.sessions[key]
	if !ok {
		es = NewEditSet()
		r.sessions[key] = es
	}
	return es
}

// Peek returns the edit set if the session exists, without creating it.
func (r *SessionRegistry) Peek(key SessionKey) (*EditSet, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	es, ok := r.sessions[key]
	return es, ok
}

// Discard drops the session and its drafts. Abandoning a session has no
// other side effects: nothing was persisted.
func (r *SessionRegistry) Discard(key SessionKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, key)
}

// Reset clears the drafts of the session if it exists. Used when a
// change notification explicitly demands a full reload.
func (r *SessionRegistry) Reset(key SessionKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if es, ok := r.sessions[key]; ok {
		es.Clear()
	}
}

// ResetMatching clears drafts of every session on the vehicle and date,
// whichever operator holds them.
func (r *SessionRegistry) ResetMatching(vehicleID int64, date string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, es := range r.sessions {
		if key.VehicleID == vehicleID && key.Date == date {
			es.Clear()
		}
	}
}
