package dashboard

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultLogCapacity is the number of records a LogBuffer keeps.
const DefaultLogCapacity = 500

// LogRecord is one captured log line.
type LogRecord struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// LogBuffer keeps the most recent log records in a ring.
type LogBuffer struct {
	mu        sync.Mutex
	records   []LogRecord
	next      int
	full      bool
	publisher Publisher
}

// NewLogBuffer returns a buffer holding up to capacity records.
func NewLogBuffer(capacity int) *LogBuffer {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &LogBuffer{records: make([]LogRecord, capacity)}
}

// SetPublisher makes every added record also go out as a logAdded event.
func (b *LogBuffer) SetPublisher(p Publisher) {
	b.mu.Lock()
	b.publisher = p
	b.mu.Unlock()
}

func (b *LogBuffer) add(r LogRecord) {
	b.mu.Lock()
	b.records[b.next] = r
	b.next = (b.next + 1) % len(b.records)
	if b.next == 0 {
		b.full = true
	}
	p := b.publisher
	b.mu.Unlock()

	if p != nil {
		p.Publish(Event{Type: EventLogAdded, Data: r})
	}
}

// Records returns the buffered records, oldest first.
func (b *LogBuffer) Records() []LogRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.full {
		return append([]LogRecord(nil), b.records[:b.next]...)
	}
	out := make([]LogRecord, 0, len(b.records))
	out = append(out, b.records[b.next:]...)
	return append(out, b.records[:b.next]...)
}

// Handler returns a slog.Handler that records into b and then passes every
// record on to next.
func (b *LogBuffer) Handler(next slog.Handler) slog.Handler {
	return &teeHandler{buf: b, next: next}
}

type teeHandler struct {
	buf    *LogBuffer
	next   slog.Handler
	attrs  []slog.Attr
	prefix string
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	rec := LogRecord{
		Time:    r.Time.UTC(),
		Level:   r.Level.String(),
		Message: r.Message,
	}
	if n := len(h.attrs) + r.NumAttrs(); n > 0 {
		rec.Attrs = make(map[string]any, n)
		for _, a := range h.attrs {
			rec.Attrs[a.Key] = attrValue(a.Value.Resolve())
		}
		r.Attrs(func(a slog.Attr) bool {
			rec.Attrs[h.prefix+a.Key] = attrValue(a.Value.Resolve())
			return true
		})
	}
	h.buf.add(rec)
	return h.next.Handle(ctx, r)
}

func attrValue(v slog.Value) any {
	if err, ok := v.Any().(error); ok {
		return err.Error()
	}
	return v.Any()
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.next = h.next.WithAttrs(attrs)
	cp.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		cp.attrs = append(cp.attrs, a)
	}
	return &cp
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	cp := *h
	cp.next = h.next.WithGroup(name)
	cp.prefix = h.prefix + name + "."
	return &cp
}
