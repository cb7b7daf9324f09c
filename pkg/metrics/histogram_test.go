package metrics

import (
	"math"
	"sync"
	"testing"
)

func TestHistogramBasic(t *testing.T) {
	h := NewHistogram([]float64{10, 50, 100, 500})

	h.Observe(5)    // <=10
	h.Observe(25)   // <=50
	h.Observe(75)   // <=100
	h.Observe(200)  // <=500
	h.Observe(1000) // +Inf

	if h.Count() != 5 {
		t.Errorf("expected count 5, got %d", h.Count())
	}

	expectedMean := (5.0 + 25 + 75 + 200 + 1000) / 5
	if h.Mean() != expectedMean {
		t.Errorf("expected mean %.2f, got %.2f", expectedMean, h.Mean())
	}
}

func TestHistogramSummary(t *testing.T) {
	h := NewHistogram([]float64{100, 10, 50}) // unsorted on purpose

	for _, v := range []float64{5, 10, 15, 60, 150} {
		h.Observe(v)
	}

	summary := h.Summary()
	if summary.Count != 5 {
		t.Errorf("expected count 5, got %d", summary.Count)
	}
	if summary.Min != 5 || summary.Max != 150 {
		t.Errorf("expected min 5 max 150, got %.2f %.2f", summary.Min, summary.Max)
	}
	if summary.Sum != 240 {
		t.Errorf("expected sum 240, got %.2f", summary.Sum)
	}

	want := []BucketCount{
		{UpperBound: 10, Count: 2}, // bounds are inclusive
		{UpperBound: 50, Count: 3},
		{UpperBound: 100, Count: 4},
		{UpperBound: math.Inf(1), Count: 5},
	}
	if len(summary.Buckets) != len(want) {
		t.Fatalf("expected %d buckets, got %d", len(want), len(summary.Buckets))
	}
	for i, b := range want {
		if summary.Buckets[i] != b {
			t.Errorf("bucket %d: expected %+v, got %+v", i, b, summary.Buckets[i])
		}
	}
}

func TestHistogramEmpty(t *testing.T) {
	h := NewHistogram([]float64{10, 50, 100})

	summary := h.Summary()
	if summary.Count != 0 {
		t.Errorf("expected count 0, got %d", summary.Count)
	}
	if len(summary.Buckets) != 0 {
		t.Errorf("expected no buckets, got %d", len(summary.Buckets))
	}
	if h.Mean() != 0 {
		t.Errorf("expected mean 0, got %.2f", h.Mean())
	}
	if h.Quantile(0.5) != 0 {
		t.Errorf("expected quantile 0, got %.2f", h.Quantile(0.5))
	}
}

func TestHistogramQuantile(t *testing.T) {
	h := NewHistogram([]float64{10, 20, 30})
	for i := 0; i < 10; i++ {
		h.Observe(15)
	}

	// All ten observations sit in (10,20]; the median interpolates to 15.
	if got := h.Quantile(0.5); got != 15 {
		t.Errorf("expected median 15, got %.2f", got)
	}
	if got := h.Quantile(1); got != 20 {
		t.Errorf("expected max quantile 20, got %.2f", got)
	}

	h.Observe(1000)
	if got := h.Quantile(1); got != 1000 {
		t.Errorf("expected overflow quantile 1000, got %.2f", got)
	}
}

func TestHistogramReset(t *testing.T) {
	h := NewHistogram([]float64{10})
	h.Observe(1)
	h.Observe(100)
	h.Reset()

	if h.Count() != 0 {
		t.Errorf("expected count 0 after reset, got %d", h.Count())
	}
	h.Observe(3)
	if s := h.Summary(); s.Min != 3 || s.Max != 3 {
		t.Errorf("expected min/max 3 after reset, got %.2f/%.2f", s.Min, s.Max)
	}
}

func TestHistogramConcurrency(t *testing.T) {
	h := NewHistogram(QueryCountBuckets)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				h.Observe(float64(j))
			}
		}()
	}
	wg.Wait()

	if h.Count() != 8000 {
		t.Errorf("expected count 8000, got %d", h.Count())
	}
}
