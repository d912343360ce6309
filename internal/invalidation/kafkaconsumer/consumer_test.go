package kafkaconsumer

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/wfs-query/internal/invalidation"
)

type fakeCache struct {
	mu     sync.Mutex
	seen   []string
	cached map[string]bool
}

func (f *fakeCache) Invalidate(sources ...string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range sources {
		f.seen = append(f.seen, s)
		if f.cached[s] {
			delete(f.cached, s)
			n++
		}
	}
	return n
}

func (f *fakeCache) invalidated() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.seen)
}

type sess struct {
	ctx    context.Context
	claims map[string][]int32
	mu     sync.Mutex
	marked []int64
}

func (s *sess) Claims() map[string][]int32 { return s.claims }
func (s *sess) MemberID() string           { return "" }
func (s *sess) GenerationID() int32        { return 0 }
func (s *sess) MarkMessage(m *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, m.Offset)
	s.mu.Unlock()
}
func (s *sess) ResetOffset(_ string, _ int32, _ int64, _ string) {}
func (s *sess) MarkOffset(_ string, _ int32, _ int64, _ string)  {}
func (s *sess) Context() context.Context                         { return s.ctx }
func (s *sess) Commit()                                          {}

type claim struct {
	part int32
	msgs chan *sarama.ConsumerMessage
}

func (c *claim) Topic() string                            { return "dataset-invalidation" }
func (c *claim) Partition() int32                         { return c.part }
func (c *claim) InitialOffset() int64                     { return 0 }
func (c *claim) HighWaterMarkOffset() int64               { return 0 }
func (c *claim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

var baseTS = time.Date(2025, 10, 26, 12, 0, 0, 0, time.UTC)

func eventBytes(source string, ts time.Time, extra ...string) []byte {
	ev := invalidation.Event{Version: 1, Op: invalidation.OpUpdate, Source: source, Sources: extra, TS: ts}
	b, _ := json.Marshal(ev)
	return b
}

func newConsumerForTest(fc *fakeCache) *Consumer {
	return New(Config{Brokers: []string{"x"}}, nil, fc)
}

func msg(part int32, off int64, value []byte) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{Topic: "dataset-invalidation", Partition: part, Offset: off, Value: value}
}

func TestSinglePartition_OrderAndCommitAfterWork(t *testing.T) {
	fc := &fakeCache{cached: map[string]bool{"obs": true}}
	c := newConsumerForTest(fc)

	g := c.handler()
	s := &sess{ctx: t.Context()}
	ch := make(chan *sarama.ConsumerMessage, 2)
	ch <- msg(0, 10, eventBytes("obs", baseTS))
	ch <- msg(0, 11, eventBytes("grid", baseTS, "obs"))
	close(ch)

	if err := g.ConsumeClaim(s, &claim{part: 0, msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(s.marked) != 2 || s.marked[0] != 10 || s.marked[1] != 11 {
		t.Fatalf("marked offsets=%v want [10 11]", s.marked)
	}
	// obs at the same ts is a replay and is skipped the second time
	if got := fc.invalidated(); !slices.Equal(got, []string{"obs", "grid"}) {
		t.Fatalf("invalidated = %v", got)
	}
}

func TestProcessOne_StaleEventsSkipped(t *testing.T) {
	fc := &fakeCache{}
	c := newConsumerForTest(fc)
	ctx := context.Background()

	for i, ts := range []time.Time{baseTS, baseTS.Add(-time.Minute), baseTS.Add(time.Minute)} {
		if err := c.ProcessOne(ctx, msg(0, int64(i), eventBytes("obs", ts))); err != nil {
			t.Fatalf("ProcessOne: %v", err)
		}
	}
	if got := fc.invalidated(); len(got) != 2 {
		t.Fatalf("invalidated = %v, want 2 applications", got)
	}
}

func TestProcessOne_BadMessagesAreDroppedAndMarked(t *testing.T) {
	fc := &fakeCache{}
	c := newConsumerForTest(fc)

	bad := []byte(`{"version":1,"op":"insert","source":"obs","ts":"2025-10-26T12:00:00Z"}`)
	s := &sess{ctx: t.Context()}
	ch := make(chan *sarama.ConsumerMessage, 3)
	ch <- msg(0, 1, []byte("{not json"))
	ch <- msg(0, 2, bad)
	ch <- msg(0, 3, eventBytes("obs", baseTS))
	close(ch)

	if err := c.handler().ConsumeClaim(s, &claim{part: 0, msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(s.marked) != 3 {
		t.Fatalf("marked = %v", s.marked)
	}
	if got := fc.invalidated(); !slices.Equal(got, []string{"obs"}) {
		t.Fatalf("invalidated = %v", got)
	}
}

func TestConsumeClaim_CancelledContextStopsWithoutMarking(t *testing.T) {
	fc := &fakeCache{}
	c := newConsumerForTest(fc)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := &sess{ctx: ctx}
	ch := make(chan *sarama.ConsumerMessage)
	if err := c.handler().ConsumeClaim(s, &claim{msgs: ch}); err == nil {
		t.Fatalf("expected context error")
	}
	if err := c.ProcessOne(ctx, msg(0, 1, eventBytes("obs", baseTS))); err == nil {
		t.Fatalf("ProcessOne should refuse a cancelled context")
	}
	if len(s.marked) != 0 || len(fc.invalidated()) != 0 {
		t.Fatalf("nothing should be applied")
	}
}

func TestMultiPartition_Parallel(t *testing.T) {
	fc := &fakeCache{}
	c := newConsumerForTest(fc)
	g := c.handler()
	s := &sess{ctx: t.Context()}

	p0 := make(chan *sarama.ConsumerMessage, 2)
	p1 := make(chan *sarama.ConsumerMessage, 2)
	p0 <- msg(0, 1, eventBytes("a", baseTS))
	p0 <- msg(0, 2, eventBytes("a", baseTS.Add(time.Second)))
	p1 <- msg(1, 1, eventBytes("b", baseTS))
	p1 <- msg(1, 2, eventBytes("b", baseTS.Add(time.Second)))
	close(p0)
	close(p1)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = g.ConsumeClaim(s, &claim{part: 0, msgs: p0}) }()
	go func() { defer wg.Done(); _ = g.ConsumeClaim(s, &claim{part: 1, msgs: p1}) }()
	wg.Wait()

	if len(s.marked) != 4 || len(fc.invalidated()) != 4 {
		t.Fatalf("marked=%v invalidated=%v", s.marked, fc.invalidated())
	}
}

func TestReadiness_FollowsSession(t *testing.T) {
	c := newConsumerForTest(&fakeCache{})
	if ok, _ := c.Readiness(); ok {
		t.Fatalf("not ready before setup")
	}
	h := c.handler()
	s := &sess{ctx: t.Context(), claims: map[string][]int32{"dataset-invalidation": {2, 0}}}
	_ = h.Setup(s)
	ok, parts := c.Readiness()
	if !ok || !slices.Equal(parts, []int32{0, 2}) {
		t.Fatalf("readiness = %v %v", ok, parts)
	}
	_ = h.Cleanup(s)
	if ok, _ := c.Readiness(); ok {
		t.Fatalf("not ready after cleanup")
	}
}

func TestRun_RequiresDependencies(t *testing.T) {
	if err := New(Config{Brokers: []string{"x"}}, nil, nil).Run(t.Context()); err == nil {
		t.Fatalf("expected missing cache error")
	}
	if err := New(Config{}, nil, &fakeCache{}).Run(t.Context()); err == nil {
		t.Fatalf("expected missing brokers error")
	}
}
