package sim

import (
	"fmt"
	"sync"
	"testing"
)

type recordingMetrics struct {
	mu     sync.Mutex
	adds   map[string]uint64
	stores map[string]uint64
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{adds: make(map[string]uint64), stores: make(map[string]uint64)}
}

func (m *recordingMetrics) Add(key string, delta uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adds[key] += delta
}

func (m *recordingMetrics) Store(key string, value uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stores[key] = value
}

func (m *recordingMetrics) added(key string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adds[key]
}

func (m *recordingMetrics) stored(key string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stores[key]
}

func TestCommandBufferWraparound(t *testing.T) {
	buffer := NewCommandBuffer(3, nil)
	cmds := []Command{
		{Type: CommandMove},
		{Type: CommandShoot},
		{Type: CommandStop},
	}
	for _, cmd := range cmds {
		if !buffer.Push(cmd) {
			t.Fatalf("expected push to succeed for %+v", cmd)
		}
	}
	if buffer.Push(Command{Type: CommandTurnLeft}) {
		t.Fatalf("expected push to fail when buffer full")
	}
	drained := buffer.Drain()
	if len(drained) != len(cmds) {
		t.Fatalf("expected %d commands, got %d", len(cmds), len(drained))
	}
	for i, cmd := range drained {
		if cmd.Type != cmds[i].Type {
			t.Fatalf("expected drain order %v, got %v", cmds[i].Type, cmd.Type)
		}
	}
	// Push again to ensure the indices wrap correctly.
	for _, cmd := range []Command{{Type: CommandTurnLeft}, {Type: CommandTurnRight}} {
		if !buffer.Push(cmd) {
			t.Fatalf("expected push to succeed after drain for %+v", cmd)
		}
	}
	wrapped := buffer.Drain()
	if len(wrapped) != 2 {
		t.Fatalf("expected 2 commands after wraparound, got %d", len(wrapped))
	}
	if wrapped[0].Type != CommandTurnLeft || wrapped[1].Type != CommandTurnRight {
		t.Fatalf("unexpected order after wraparound: %+v", wrapped)
	}
}

func TestCommandBufferOverflow(t *testing.T) {
	metrics := newRecordingMetrics()
	buffer := NewCommandBuffer(1, metrics)
	if !buffer.Push(Command{ID: "one"}) {
		t.Fatalf("expected initial push to succeed")
	}
	if buffer.Push(Command{ID: "two"}) {
		t.Fatalf("expected push to fail when capacity exceeded")
	}
	if got := metrics.added(commandBufferOverflowMetricKey); got != 1 {
		t.Fatalf("expected one overflow, got %d", got)
	}
	if got := metrics.stored(commandBufferOccupancyMetricKey); got != 1 {
		t.Fatalf("expected occupancy 1, got %d", got)
	}
	drained := buffer.Drain()
	if len(drained) != 1 || drained[0].ID != "one" {
		t.Fatalf("unexpected drained commands: %+v", drained)
	}
	if got := metrics.stored(commandBufferOccupancyMetricKey); got != 0 {
		t.Fatalf("expected occupancy 0 after drain, got %d", got)
	}
}

func TestCommandBufferConcurrentProducers(t *testing.T) {
	const producers = 8
	const perProducer = 50
	buffer := NewCommandBuffer(producers*perProducer, nil)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				buffer.Push(Command{ID: fmt.Sprintf("%d-%d", p, i), Source: fmt.Sprint(p)})
			}
		}(p)
	}
	wg.Wait()

	drained := buffer.Drain()
	if len(drained) != producers*perProducer {
		t.Fatalf("expected %d commands, got %d", producers*perProducer, len(drained))
	}
	// Each producer's own commands keep their relative order.
	next := make(map[string]int)
	for _, cmd := range drained {
		want := fmt.Sprintf("%s-%d", cmd.Source, next[cmd.Source])
		if cmd.ID != want {
			t.Fatalf("expected %s, got %s", want, cmd.ID)
		}
		next[cmd.Source]++
	}
	if buffer.Len() != 0 {
		t.Fatalf("expected empty buffer after drain")
	}
}

func TestCommandBufferReset(t *testing.T) {
	buffer := NewCommandBuffer(2, nil)
	buffer.Push(Command{Type: CommandMove})
	buffer.Reset()
	if buffer.Len() != 0 {
		t.Fatalf("expected reset to discard commands")
	}
	if drained := buffer.Drain(); drained != nil {
		t.Fatalf("expected nothing to drain, got %+v", drained)
	}
}
