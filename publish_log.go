package match

import "sync"

// PublishLog is an interface for publishing order book logs (opens, matches,
// cancels and status changes).
//
// IMPORTANT: Implementations must either:
//  1. Process logs synchronously before returning, OR
//  2. Clone the OrderBookLog data before returning
//
// The caller recycles OrderBookLog objects to a sync.Pool after Publish
// returns, so any asynchronous processing must work with cloned data.
type PublishLog interface {
	Publish(...*OrderBookLog)
}

// MemoryPublishLog stores logs in memory, useful for testing.
type MemoryPublishLog struct {
	mu   sync.RWMutex
	logs []*OrderBookLog
}

// NewMemoryPublishLog creates a new MemoryPublishLog.
func NewMemoryPublishLog() *MemoryPublishLog {
	return &MemoryPublishLog{
		logs: make([]*OrderBookLog, 0),
	}
}

// Publish appends copies of the logs to the in-memory slice.
func (m *MemoryPublishLog) Publish(logs ...*OrderBookLog) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, log := range logs {
		cpy := new(OrderBookLog)
		*cpy = *log
		m.logs = append(m.logs, cpy)
	}
}

// Count returns the number of logs stored.
func (m *MemoryPublishLog) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.logs)
}

// Get returns the log at the specified index.
func (m *MemoryPublishLog) Get(index int) *OrderBookLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.logs[index]
}

// Logs returns a copy of all logs stored.
func (m *MemoryPublishLog) Logs() []*OrderBookLog {
	m.mu.RLock()
	defer m.mu.RUnlock()

	logs := make([]*OrderBookLog, len(m.logs))
	copy(logs, m.logs)
	return logs
}

// LogsOfType returns the stored logs with the given type, in publish order.
func (m *MemoryPublishLog) LogsOfType(t LogType) []*OrderBookLog {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var logs []*OrderBookLog
	for _, log := range m.logs {
		if log.Type == t {
			logs = append(logs, log)
		}
	}
	return logs
}

// DiscardPublishLog discards all logs, useful for benchmarking.
type DiscardPublishLog struct {
}

// NewDiscardPublishLog creates a new DiscardPublishLog.
func NewDiscardPublishLog() *DiscardPublishLog {
	return &DiscardPublishLog{}
}

// Publish does nothing.
func (p *DiscardPublishLog) Publish(logs ...*OrderBookLog) {

}

// MultiPublishLog fans every batch out to each publisher in order.
type MultiPublishLog struct {
	publishers []PublishLog
}

// NewMultiPublishLog skips nil publishers.
func NewMultiPublishLog(publishers ...PublishLog) *MultiPublishLog {
	m := &MultiPublishLog{}
	for _, p := range publishers {
		if p != nil {
			m.publishers = append(m.publishers, p)
		}
	}
	return m
}

func (m *MultiPublishLog) Publish(logs ...*OrderBookLog) {
	for _, p := range m.publishers {
		p.Publish(logs...)
	}
}
