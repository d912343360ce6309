package kafkaconsumer

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type versionDedupe struct {
	mu  sync.Mutex
	lru *lru.Cache[string, int64]
}

func newVersionDedupe(size int) *versionDedupe {
	c, _ := lru.New[string, int64](size)
	return &versionDedupe{lru: c}
}

// returns true if ts is newer than the last applied event for source
func (d *versionDedupe) shouldApply(source string, ts time.Time) bool {
	v := ts.UnixNano()
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lru.Get(source); ok && v <= last {
		return false
	}
	d.lru.Add(source, v)
	return true
}
