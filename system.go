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
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
)

// System bundles the timer, the notifier shared by the interrupt handler
// and the Monitor, the scheduler tick and the report sink.
type System struct {
	cfg    Config
	timer  *Timer
	notify *Notifier
	out    Reporter
}

// New creates a System running drv with the configuration c.
func New(c *Config, drv Driver, out Reporter) (*System, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if out == nil {
		out = NewLogReporter(nil)
	}
	return &System{
		cfg:    *c,
		timer:  NewTimer(drv),
		notify: NewNotifier(),
		out:    out,
	}, nil
}

// Timer returns the timer driven by the system.
func (s *System) Timer() *Timer {
	return s.timer
}

// isr is the alarm interrupt handler. It only posts the notification bit.
func (s *System) isr(AlarmEvent) bool {
	return s.notify.PostFromISR(s.cfg.bit)
}

// Run configures and starts the timer, then runs the Monitor and the
// Sampler until ctx is done. Setup failures are returned; cancellation
// stops the timer and returns nil.
func (s *System) Run(ctx context.Context) error {
	log.Printf("source clock %d MHz, counter rate %.0f Hz, alarm every %v",
		s.cfg.sourceHz/1000000, s.cfg.Rate(), s.cfg.AlarmPeriod())
	if err := s.timer.Configure(&s.cfg); err != nil {
		return fmt.Errorf("configure timer: %w", err)
	}
	if err := s.timer.Arm(s.isr); err != nil {
		return fmt.Errorf("arm timer: %w", err)
	}
	ticks := NewTickClock(s.cfg.tickHz)
	mon := NewMonitor(s.notify, s.timer, ticks, s.out)
	smp := NewSampler(s.timer, ticks, s.cfg.sample, s.out)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	var monErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		monErr = mon.Run(ctx)
	}()
	if err := s.timer.Start(); err != nil {
		cancel()
		wg.Wait()
		return fmt.Errorf("start timer: %w", err)
	}
	err := smp.Run(ctx)
	cancel()
	wg.Wait()
	if isDone(err) {
		err = nil
	}
	if err == nil && !isDone(monErr) {
		err = fmt.Errorf("monitor: %w", monErr)
	}
	if serr := s.timer.Stop(); serr != nil && err == nil {
		err = fmt.Errorf("stop timer: %w", serr)
	}
	return err
}

// isDone reports whether err is nil or a context cancellation or deadline.
func isDone(err error) bool {
	return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
