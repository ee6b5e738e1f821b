package connectivity

import (
	"sync"
)

// Transport labels
const (
	TypeWiFi     = "wifi"
	TypeCellular = "cellular"
	TypeEthernet = "ethernet"
	TypeNone     = "none"
	TypeUnknown  = "unknown"
)

// Status is the current reachability
type Status struct {
	Connected bool
	Type      string
}

// Online and Offline are the common statuses when the transport is not known
var (
	Online  = Status{Connected: true, Type: TypeUnknown}
	Offline = Status{Connected: false, Type: TypeNone}
)

// Monitor reports reachability and notifies on change
type Monitor interface {
	Current() Status
	// Subscribe returns a channel that receives each new status and a func
	// to stop the subscription. Slow readers see only the latest status.
	Subscribe() (<-chan Status, func())
}

// Manual is a Monitor driven by explicit Set calls
type Manual struct {
	mu      sync.Mutex
	current Status
	subs    map[int]chan Status
	nextID  int
}

// NewManual creates a monitor starting at initial
func NewManual(initial Status) *Manual {
	return &Manual{current: initial, subs: make(map[int]chan Status)}
}

func (m *Manual) Current() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *Manual) Subscribe() (<-chan Status, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan Status, 1)
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if c, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(c)
			}
		})
	}
}

// Set records s and notifies subscribers. Repeating the current status is a no-op.
func (m *Manual) Set(s Status) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s == m.current {
		return false
	}
	m.current = s

	for _, ch := range m.subs {
		// Keep only the newest status for readers that have not caught up
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
	return true
}
