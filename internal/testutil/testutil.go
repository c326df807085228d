// Package testutil provides testing utilities for pixbridge tests.
package testutil

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/pixbridge/internal/imaging"
)

// Eventually polls cond every few milliseconds until it returns true or
// timeout elapses, in which case the test fails with msg.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met within %s: %s", timeout, msg)
	}
}

// GradientStack creates a single-channel uint8 stack whose sample at
// (x, y) on slice z is (x + y*width + z*7) mod 256.
func GradientStack(t *testing.T, name string, width, height, depth int) *imaging.Stack {
	t.Helper()

	s := imaging.NewStack(name, width, height, depth, 1, imaging.Uint8)
	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				if err := s.SetPixelValue(x, y, z, float64((x+y*width+z*7)%256)); err != nil {
					t.Fatalf("failed to fill gradient: %v", err)
				}
			}
		}
	}
	return s
}

// SlicePixels returns a copy of slice index of img, failing the test on error.
func SlicePixels(t *testing.T, img imaging.Image, index int) []byte {
	t.Helper()

	data, err := img.SlicePixels(index)
	if err != nil {
		t.Fatalf("failed to read slice %d of %s: %v", index, img.Name(), err)
	}
	return bytes.Clone(data)
}

// SyncBuffer is a bytes.Buffer safe for concurrent writers, for capturing
// log output from background goroutines.
type SyncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// Write appends p to the buffer.
func (b *SyncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// String returns everything written so far.
func (b *SyncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// ProgressRecorder is a progress sink that records every update.
type ProgressRecorder struct {
	mu            sync.Mutex
	values        []float64
	indeterminate []bool
}

// SetValue records a percentage.
func (r *ProgressRecorder) SetValue(percent float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, percent)
}

// SetIndeterminate records an indeterminate toggle.
func (r *ProgressRecorder) SetIndeterminate(indeterminate bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indeterminate = append(r.indeterminate, indeterminate)
}

// Values returns the recorded percentages in delivery order.
func (r *ProgressRecorder) Values() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]float64, len(r.values))
	copy(out, r.values)
	return out
}

// Indeterminate returns the recorded indeterminate toggles.
func (r *ProgressRecorder) Indeterminate() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bool, len(r.indeterminate))
	copy(out, r.indeterminate)
	return out
}
