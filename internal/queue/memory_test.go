package queue

import (
	"io"
	"log/slog"
	"testing"
)

func TestMemoryQueue_Conformance(t *testing.T) {
	runConformance(t, func(t *testing.T) JobQueue {
		t.Helper()

		return NewMemoryQueue(slog.New(slog.NewTextHandler(io.Discard, nil)))
	})
}
