package accesslog

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/jokelbaf/proxyko/pkg/models"
)

type fakeKafkaWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeKafkaWriter) Close() error {
	w.closed = true
	return nil
}

func TestNewKafkaExporterValidation(t *testing.T) {
	if _, err := NewKafkaExporter(KafkaConfig{Topic: "proxyko.access"}); err == nil {
		t.Fatal("missing brokers should fail")
	}
	if _, err := NewKafkaExporter(KafkaConfig{Brokers: []string{" ", ""}, Topic: "proxyko.access"}); err == nil {
		t.Fatal("blank brokers should fail")
	}
	if _, err := NewKafkaExporter(KafkaConfig{Brokers: []string{"localhost:9092"}}); err == nil {
		t.Fatal("missing topic should fail")
	}
	e, err := NewKafkaExporter(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "proxyko.access"})
	if err != nil {
		t.Fatalf("valid config: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestKafkaExportKeysByIP(t *testing.T) {
	w := &fakeKafkaWriter{}
	e := &KafkaExporter{writer: w}

	rec := models.AccessRecord{
		ID:        "rec-1",
		IP:        "192.0.2.7",
		CreatedAt: time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC),
	}
	if err := e.Export(context.Background(), rec); err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("messages = %d", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "192.0.2.7" {
		t.Fatalf("key = %q", w.msgs[0].Key)
	}
	var decoded models.AccessRecord
	if err := json.Unmarshal(w.msgs[0].Value, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.ID != "rec-1" || decoded.IP != "192.0.2.7" {
		t.Fatalf("payload = %+v", decoded)
	}
}

func TestKafkaExporterNilWriter(t *testing.T) {
	var e *KafkaExporter
	if err := e.Export(context.Background(), models.AccessRecord{}); err == nil {
		t.Fatal("nil exporter should error")
	}
	if err := e.Close(); err != nil {
		t.Fatalf("nil close should be a no-op, got %v", err)
	}
}
