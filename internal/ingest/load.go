// Package ingest implements backpressure-aware consumption: load sensors, the
// pause/resume gauge, and the Governor that drives a Consumer.
package ingest

import "sync/atomic"

// GlobalLoadUnknown is handed to a Gauge when no process-wide sensor is wired.
const GlobalLoadUnknown int64 = -1

// LoadSensor counts records currently in flight. One sensor is shared by every
// governor in the process (global); each governor also owns a local one.
type LoadSensor struct {
	n atomic.Int64
}

// NewLoadSensor returns a sensor starting at zero.
func NewLoadSensor() *LoadSensor {
	return &LoadSensor{}
}

// Increment adds one and returns the new value.
func (s *LoadSensor) Increment() int64 {
	return s.n.Add(1)
}

// Decrement subtracts one and returns the new value.
func (s *LoadSensor) Decrement() int64 {
	return s.n.Add(-1)
}

// Current returns the value without changing it.
func (s *LoadSensor) Current() int64 {
	return s.n.Load()
}
