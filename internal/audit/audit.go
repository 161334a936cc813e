// Package audit records scheduling mutations without ever blocking or
// failing them.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/famcal/internal/model"
)

const writeTimeout = 5 * time.Second

// Writer persists a single audit entry.
type Writer interface {
	Create(ctx context.Context, entry *model.AuditEntry) error
}

// DropCounter is told about every entry that never reached the Writer.
type DropCounter interface {
	AuditDropped()
}

// Recorder queues entries on a buffered channel drained by one goroutine.
// Record never blocks: when the buffer is full the entry is dropped and
// logged. Write failures are logged at warn and swallowed.
type Recorder struct {
	w       Writer
	logger  *slog.Logger
	dropped DropCounter

	mu     sync.RWMutex
	closed bool
	queue  chan model.AuditEntry
	done   chan struct{}
}

// NewRecorder starts the writer goroutine. dropped may be nil.
func NewRecorder(w Writer, logger *slog.Logger, buffer int, dropped DropCounter) *Recorder {
	if buffer < 1 {
		buffer = 1
	}
	r := &Recorder{
		w:       w,
		logger:  logger,
		dropped: dropped,
		queue:   make(chan model.AuditEntry, buffer),
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Recorder) Record(entry model.AuditEntry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.drop(entry, "recorder closed")
		return
	}
	select {
	case r.queue <- entry:
	default:
		r.drop(entry, "buffer full")
	}
}

// Close stops accepting entries and waits for queued ones to be written.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	<-r.done
}

func (r *Recorder) run() {
	defer close(r.done)
	for entry := range r.queue {
		r.write(entry)
	}
}

func (r *Recorder) write(entry model.AuditEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.w.Create(ctx, &entry); err != nil {
		r.logger.Warn("audit write failed",
			"action", entry.Action,
			"entity_id", entry.EntityID,
			"family_id", entry.FamilyID,
			"error", err,
		)
		if r.dropped != nil {
			r.dropped.AuditDropped()
		}
	}
}

func (r *Recorder) drop(entry model.AuditEntry, reason string) {
	r.logger.Warn("audit entry dropped",
		"reason", reason,
		"action", entry.Action,
		"entity_id", entry.EntityID,
	)
	if r.dropped != nil {
		r.dropped.AuditDropped()
	}
}
