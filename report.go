// Copyright 2021 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gptimer

import (
	"fmt"
	"io"
	"log"
	"sync"
)

// AlarmReport is emitted by the Monitor on each wake.
type AlarmReport struct {
	Tick    uint64 // Scheduler tick at wake
	Counter uint64 // Counter read after the wake
	Bits    uint32 // Notification bits consumed
}

func (r AlarmReport) String() string {
	return fmt.Sprintf("alarm: tick %d, counter %d", r.Tick, r.Counter)
}

// SampleReport is emitted by the Sampler each period.
type SampleReport struct {
	Tick    uint64  // Scheduler tick of the sample
	Counter uint64  // Counter value
	Elapsed float64 // Counter value in seconds
}

func (r SampleReport) String() string {
	return fmt.Sprintf("sample: counter %d, %f s", r.Counter, r.Elapsed)
}

// Reporter is the output sink for the monitor and sampler reports.
// It is called concurrently from both.
type Reporter interface {
	Alarm(AlarmReport)
	Sample(SampleReport)
}

// LogReporter writes reports to a log.Logger.
type LogReporter struct {
	l *log.Logger
}

// NewLogReporter creates a LogReporter. A nil logger uses the standard logger.
func NewLogReporter(l *log.Logger) *LogReporter {
	if l == nil {
		l = log.Default()
	}
	return &LogReporter{l: l}
}

func (r *LogReporter) Alarm(a AlarmReport) {
	r.l.Print(a)
}

func (r *LogReporter) Sample(s SampleReport) {
	r.l.Print(s)
}

// WriterReporter writes one line per report to a writer.
// Write errors are dropped.
type WriterReporter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterReporter creates a WriterReporter over w.
func NewWriterReporter(w io.Writer) *WriterReporter {
	return &WriterReporter{w: w}
}

func (r *WriterReporter) Alarm(a AlarmReport) {
	r.line(a.String())
}

func (r *WriterReporter) Sample(s SampleReport) {
	r.line(s.String())
}

func (r *WriterReporter) line(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	io.WriteString(r.w, s+"\r\n")
}

type tee []Reporter

// Tee returns a Reporter that sends each report to all of rs in order.
func Tee(rs ...Reporter) Reporter {
	return tee(rs)
}

func (t tee) Alarm(a AlarmReport) {
	for _, r := range t {
		r.Alarm(a)
	}
}

func (t tee) Sample(s SampleReport) {
	for _, r := range t {
		r.Sample(s)
	}
}
