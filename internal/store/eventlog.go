package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/jeanpaul/redel/internal/events"
)

// EventLog appends every event it receives as one JSON line.
type EventLog struct {
	mu     sync.Mutex
	enc    *json.Encoder
	closer io.Closer
}

func NewEventLog(w io.Writer) *EventLog {
	return &EventLog{enc: json.NewEncoder(w)}
}

// OpenEventLog appends to the file at path, creating it and its directory
// as needed.
func OpenEventLog(path string) (*EventLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	l := NewEventLog(f)
	l.closer = f
	return l, nil
}

// Record is an events.Listener.
func (l *EventLog) Record(_ context.Context, e events.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enc.Encode(e); err != nil {
		return fmt.Errorf("event log: %w", err)
	}
	return nil
}

func (l *EventLog) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
