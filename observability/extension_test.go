package observability

import (
	"context"
	"testing"
	"time"
)

type fakeCounter struct{ n float64 }

func (c *fakeCounter) Inc()          { c.n++ }
func (c *fakeCounter) Add(v float64) { c.n += v }

type fakeHistogram struct{ observed []float64 }

func (h *fakeHistogram) Observe(v float64) { h.observed = append(h.observed, v) }

type fakeGauge struct{ value float64 }

func (g *fakeGauge) Set(v float64) { g.value = v }
func (g *fakeGauge) Inc()          { g.value++ }
func (g *fakeGauge) Dec()          { g.value-- }

type fakeFactory struct {
	counters   map[string]*fakeCounter
	histograms map[string]*fakeHistogram
	gauges     map[string]*fakeGauge
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		counters:   make(map[string]*fakeCounter),
		histograms: make(map[string]*fakeHistogram),
		gauges:     make(map[string]*fakeGauge),
	}
}

func (f *fakeFactory) Counter(name string) Counter {
	if c, ok := f.counters[name]; ok {
		return c
	}
	c := &fakeCounter{}
	f.counters[name] = c
	return c
}

func (f *fakeFactory) Histogram(name string) Histogram {
	if h, ok := f.histograms[name]; ok {
		return h
	}
	h := &fakeHistogram{}
	f.histograms[name] = h
	return h
}

func (f *fakeFactory) Gauge(name string) Gauge {
	if g, ok := f.gauges[name]; ok {
		return g
	}
	g := &fakeGauge{}
	f.gauges[name] = g
	return g
}

func TestRefundPassSetsPendingGauge(t *testing.T) {
	f := newFakeFactory()
	m := NewMetricsExtension(f)
	ctx := context.Background()

	if err := m.OnRefundPassCompleted(ctx, "run-1", 5, 7); err != nil {
		t.Fatal(err)
	}
	if g := f.gauges["treasury.refund.pending.remaining"]; g == nil || g.value != 7 {
		t.Fatalf("pending gauge = %+v, want 7", g)
	}

	// A drained backlog resets the gauge to zero.
	if err := m.OnRefundPassCompleted(ctx, "run-2", 7, 0); err != nil {
		t.Fatal(err)
	}
	if g := f.gauges["treasury.refund.pending.remaining"]; g.value != 0 {
		t.Errorf("pending gauge = %v, want 0", g.value)
	}
}

func TestSettlementDurationObservedOnBothOutcomes(t *testing.T) {
	f := newFakeFactory()
	m := NewMetricsExtension(f)
	ctx := context.Background()

	if err := m.OnSettlementProcessed(ctx, nil, 250*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if err := m.OnSettlementFailed(ctx, "txn_1", 100*time.Millisecond, "provider down"); err != nil {
		t.Fatal(err)
	}

	h := f.histograms["treasury.settlement.duration.seconds"]
	if h == nil || len(h.observed) != 2 {
		t.Fatalf("duration observations = %+v, want 2", h)
	}
	if h.observed[0] != 0.25 || h.observed[1] != 0.1 {
		t.Errorf("observed = %v, want [0.25 0.1]", h.observed)
	}
	if c := f.counters["treasury.settlement.processed"]; c.n != 1 {
		t.Errorf("processed counter = %v, want 1", c.n)
	}
	if c := f.counters["treasury.settlement.failed"]; c.n != 1 {
		t.Errorf("failed counter = %v, want 1", c.n)
	}
}
