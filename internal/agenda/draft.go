// Package agenda implements the operator-driven appointment protocol:
// extract a draft from a forwarded chat, negotiate corrections, and
// submit the confirmed appointment to the scheduling back-end.
package agenda

import "sync"

// Draft negotiation steps.
const (
	StepAwaitingConfirmation = "AWAITING_CONFIRMATION"
	StepReadyToSubmit        = "READY_TO_SUBMIT"
)

// Draft is an in-flight appointment under negotiation, keyed by the
// chat it is being negotiated in. Drafts live in memory only; an
// operator restarts the protocol after a process restart.
type Draft struct {
	ClientName        string
	ClientPhone       string
	Address           string
	AddressComplement string
	MapLink           string
	Lat               float64
	Lng               float64
	HasCoords         bool
	Date              string // YYYY-MM-DD
	Time              string // HH:mm
	TechName          string
	Cost              *float64
	Notes             string
	Step              string
}

// Drafts is a concurrency-safe registry of one draft per chat.
type Drafts struct {
	mu     sync.Mutex
	byPeer map[string]*Draft
}

// NewDrafts creates an empty draft registry.
func NewDrafts() *Drafts {
	return &Drafts{byPeer: make(map[string]*Draft)}
}

// Get returns the draft for peerID, or nil.
func (d *Drafts) Get(peerID string) *Draft {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.byPeer[peerID]
}

// Put stores the draft for peerID, replacing any previous one.
func (d *Drafts) Put(peerID string, draft *Draft) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byPeer[peerID] = draft
}

// Delete removes the draft for peerID and reports whether one existed.
func (d *Drafts) Delete(peerID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.byPeer[peerID]
	delete(d.byPeer, peerID)
	return ok
}
