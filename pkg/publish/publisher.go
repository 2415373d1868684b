package publish

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nicktill/dockpulse/pkg/telemetry"
)

// DefaultObjectName is the object the snapshot is published under.
const DefaultObjectName = "locations.json"

// Publisher encodes snapshots and writes them to a Sink under one name.
type Publisher struct {
	sink Sink
	name string

	mu   sync.RWMutex
	last Object
}

// NewPublisher creates a publisher writing to name in sink.
func NewPublisher(sink Sink, name string) *Publisher {
	if name == "" {
		name = DefaultObjectName
	}
	return &Publisher{sink: sink, name: name}
}

// Name returns the object name snapshots are written to.
func (p *Publisher) Name() string { return p.name }

// Publish encodes records and overwrites the published object.
func (p *Publisher) Publish(ctx context.Context, records []telemetry.Record) error {
	obj, err := Encode(records)
	if err != nil {
		return err
	}
	obj.ModTime = time.Now().UTC()

	if err := p.sink.Put(ctx, p.name, obj); err != nil {
		return fmt.Errorf("failed to put %s: %w", p.name, err)
	}

	obj.Body = nil
	p.mu.Lock()
	p.last = obj
	p.mu.Unlock()
	return nil
}

// Last returns the headers of the most recent successful publication.
// The zero Object means nothing was published yet.
func (p *Publisher) Last() Object {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last
}
