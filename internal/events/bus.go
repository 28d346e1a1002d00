package events

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/atendezap/zapbridge/internal/core"
)

// Channel derives the bus channel name for one conversation. The developer
// console subscribes per (receiving number, contact phone) pair.
func Channel(pnid, phone string) string {
	return pnid + "|" + phone
}

// Bus broadcasts new message records to SSE subscribers, grouped by
// conversation channel. Publishing never blocks; slow subscribers drop
// batches instead of stalling the webhook path.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[string]chan []core.MessageRecord
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[string]map[string]chan []core.MessageRecord),
	}
}

// Subscribe registers a subscriber on a channel and returns its receive
// channel. The subscription is removed and the channel closed when ctx is
// done.
func (b *Bus) Subscribe(ctx context.Context, channel, id string) <-chan []core.MessageRecord {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan []core.MessageRecord, 16)
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[string]chan []core.MessageRecord)
	}
	b.subs[channel][id] = ch

	go func() {
		<-ctx.Done()
		b.Unsubscribe(channel, id)
	}()

	return ch
}

// Unsubscribe removes one subscriber and closes its channel.
func (b *Bus) Unsubscribe(channel, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[channel]
	if ch, ok := subs[id]; ok {
		close(ch)
		delete(subs, id)
	}
	if len(subs) == 0 {
		delete(b.subs, channel)
	}
}

// Publish delivers a batch of records to every subscriber of the channel.
func (b *Bus) Publish(channel string, records ...core.MessageRecord) {
	if len(records) == 0 {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[channel] {
		select {
		case ch <- records:
		default:
			// subscriber is full, drop the batch
		}
	}
}

// FormatSSE renders one batch as a server-sent event frame.
func FormatSSE(records []core.MessageRecord) (string, error) {
	data, err := json.Marshal(records)
	if err != nil {
		return "", err
	}
	return "data: " + string(data) + "\n\n", nil
}
