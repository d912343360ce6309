package artifact

import (
	"context"
	"fmt"
	"slices"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohammed-shakir/wfs-query/internal/core/observability"
)

// Memory keeps the most recently written artifacts in process.
type Memory struct {
	entries *lru.Cache[string, []byte]
}

func NewMemory(size int) (*Memory, error) {
	if size <= 0 {
		size = 256
	}
	c, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("artifact memory lru: %w", err)
	}
	return &Memory{entries: c}, nil
}

func (m *Memory) Put(_ context.Context, name string, data []byte) error {
	start := time.Now()
	err := ValidateName(name)
	if err == nil {
		m.entries.Add(name, slices.Clone(data))
	}
	observability.ObserveArtifactOp("memory", "set", err, false, time.Since(start).Seconds())
	return err
}

func (m *Memory) Get(_ context.Context, name string) ([]byte, error) {
	start := time.Now()
	v, ok := m.entries.Get(name)
	observability.ObserveArtifactOp("memory", "get", nil, !ok, time.Since(start).Seconds())
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return slices.Clone(v), nil
}

func (m *Memory) Len() int { return m.entries.Len() }

// Collector reports the number of artifacts held, read at scrape time.
func (m *Memory) Collector() prometheus.Collector {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "artifact_memory_entries",
		Help: "Artifacts currently held by the in-memory store.",
	}, func() float64 { return float64(m.Len()) })
}
