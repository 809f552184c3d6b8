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
	"time"

	"github.com/tarm/serial"
)

// SerialConfig holds the console serial port settings.
type SerialConfig struct {
	// Device path (e.g., "/dev/ttyUSB0", "COM3")
	Device string

	// Baud rate
	Baud int

	// Read timeout in milliseconds (0 = blocking)
	Timeout int
}

// DefaultSerialConfig returns the console settings for device.
func DefaultSerialConfig(device string) *SerialConfig {
	return &SerialConfig{
		Device:  device,
		Baud:    115200,
		Timeout: 100,
	}
}

// SerialReporter writes report lines to a serial console.
type SerialReporter struct {
	*WriterReporter
	port *serial.Port
}

// OpenSerial opens the console serial port.
func OpenSerial(cfg *SerialConfig) (*SerialReporter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: time.Duration(cfg.Timeout) * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Device, err)
	}
	return &SerialReporter{WriterReporter: NewWriterReporter(port), port: port}, nil
}

// Close closes the serial port.
func (s *SerialReporter) Close() error {
	return s.port.Close()
}
