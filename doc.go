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

/*

Package gptimer drives a periodic hardware timer alarm and hands the alarm
events from interrupt context to a task.

The timer is a 64 bit counter with a clock divider, a count direction,
an alarm value and an optional auto-reload of the counter on alarm match.
The register layout follows the ESP32 timer group, which is reached on Linux
through a UIO device (see OpenUIO). A software model of the same peripheral
(see NewSimTimer) is provided for hosts without the hardware.

When the counter matches the alarm value the registered callback runs in
interrupt context. The callback posts a bit to a Notifier, which wakes the
single Monitor task blocked on it. Independently, a Sampler polls the
counter at a fixed, drift-corrected period. A System bundles all of these:

  sys, err := gptimer.New(gptimer.DefaultConfig(), gptimer.NewSimTimer(80000000), gptimer.NewLogReporter(nil))
  if err != nil {
      log.Fatalf("%s", err)
  }
  sys.Run(ctx)

*/
package gptimer
