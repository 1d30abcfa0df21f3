// Package accesslog records PAC access events off the request path. The
// evaluator must never block or fail on the append, so records go through a
// buffered channel into a single writer goroutine and are dropped (with a
// log line) when the buffer is full.
package accesslog

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/jokelbaf/proxyko/pkg/models"
)

// Appender is the durable sink; store.AccessStore satisfies it.
type Appender interface {
	Append(ctx context.Context, rec models.AccessRecord) error
}

// Exporter mirrors records to an external bus. Optional.
type Exporter interface {
	Export(ctx context.Context, rec models.AccessRecord) error
	Close() error
}

type Recorder struct {
	appender Appender
	exporter Exporter
	ch       chan models.AccessRecord
	dropped  func()
}

// NewRecorder builds a recorder with the given buffer size. exporter may be
// nil. onDrop is called for every discarded record; optional.
func NewRecorder(appender Appender, exporter Exporter, buffer int, onDrop func()) *Recorder {
	if buffer <= 0 {
		buffer = 256
	}
	return &Recorder{
		appender: appender,
		exporter: exporter,
		ch:       make(chan models.AccessRecord, buffer),
		dropped:  onDrop,
	}
}

// Record enqueues an access event. Never blocks; a full buffer drops the
// record.
func (r *Recorder) Record(ip string, userAgent *string, deviceID *int64) {
	rec := models.AccessRecord{
		ID:        uuid.New().String(),
		IP:        ip,
		UserAgent: userAgent,
		DeviceID:  deviceID,
		CreatedAt: time.Now().UTC(),
	}
	select {
	case r.ch <- rec:
	default:
		log.Printf("accesslog: buffer full, dropping record for %s", ip)
		if r.dropped != nil {
			r.dropped()
		}
	}
}

// Run drains the buffer until ctx is done. Append and export failures are
// logged and the loop continues; an access record is never worth failing a
// request over.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-r.ch:
			writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := r.appender.Append(writeCtx, rec); err != nil {
				log.Printf("accesslog: append failed: %v", err)
			}
			if r.exporter != nil {
				if err := r.exporter.Export(writeCtx, rec); err != nil {
					log.Printf("accesslog: export failed: %v", err)
				}
			}
			cancel()
		}
	}
}
