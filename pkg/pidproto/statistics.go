// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pidproto

import (
	"fmt"
	"time"
)

// Statistics tracks datagram counts and rates seen by a client
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalDatagrams uint64
	Responses      uint64
	ErrorResults   uint64
	Samples        uint64
	DecodeErrors   uint64
	Timeouts       uint64

	// Rates (calculated)
	SampleRate float64 // samples/sec
	ErrorRate  float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// RecordResponse counts a decoded response frame
func (s *Statistics) RecordResponse(f Frame) {
	s.TotalDatagrams++
	s.Responses++
	if f.Result == ResultError {
		s.ErrorResults++
	}
	s.LastUpdateTime = time.Now()
}

// RecordSample counts a stream datagram
func (s *Statistics) RecordSample() {
	s.TotalDatagrams++
	s.Samples++
	s.LastUpdateTime = time.Now()
}

// RecordDecodeError counts a datagram that could not be decoded
func (s *Statistics) RecordDecodeError() {
	s.TotalDatagrams++
	s.DecodeErrors++
	s.LastUpdateTime = time.Now()
}

// RecordTimeout counts a request that got no response
func (s *Statistics) RecordTimeout() {
	s.Timeouts++
}

// CalculateRates calculates sample and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.SampleRate = float64(s.Samples) / elapsed
		s.ErrorRate = float64(s.ErrorResults+s.DecodeErrors+s.Timeouts) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()
	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Datagrams:       %8d\n", s.TotalDatagrams)
	result += fmt.Sprintf("Responses:       %8d\n", s.Responses)
	result += fmt.Sprintf("Stream Samples:  %8d\n", s.Samples)
	if s.ErrorResults > 0 {
		result += fmt.Sprintf("Error Results:   %8d\n", s.ErrorResults)
	}
	if s.DecodeErrors > 0 {
		result += fmt.Sprintf("Decode Errors:   %8d\n", s.DecodeErrors)
	}
	if s.Timeouts > 0 {
		result += fmt.Sprintf("Timeouts:        %8d\n", s.Timeouts)
	}
	result += fmt.Sprintf("Sample Rate:     %8.1f samples/sec\n", s.SampleRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"
	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
