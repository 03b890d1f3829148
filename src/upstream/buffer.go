package upstream

import (
	"sync"

	"market-fanout/src/models"
)

// messageBuffer holds the latest payload per (kind, identifier) since the last flush.
type messageBuffer struct {
	mu   sync.Mutex
	data map[models.DataKind]map[string]interface{}
}

func newMessageBuffer() *messageBuffer {
	return &messageBuffer{data: make(map[models.DataKind]map[string]interface{})}
}

func (b *messageBuffer) store(kind models.DataKind, identifier string, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	byID, ok := b.data[kind]
	if !ok {
		byID = make(map[string]interface{})
		b.data[kind] = byID
	}
	byID[identifier] = payload
}

func (b *messageBuffer) get(kind models.DataKind, identifier string) (interface{}, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.data[kind][identifier]
	return v, ok
}

// drain returns the buffered payloads and leaves the buffer empty.
func (b *messageBuffer) drain() map[models.DataKind]map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.data
	b.data = make(map[models.DataKind]map[string]interface{})
	return out
}

func (b *messageBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, byID := range b.data {
		n += len(byID)
	}
	return n
}
