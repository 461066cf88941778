/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package extref

import (
	"bufio"
	"context"
	"io"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"github.com/ptpordc/ptpordc/hwclock"
	"github.com/ptpordc/ptpordc/ptptime"
	"github.com/ptpordc/ptpordc/servo"
)

// Config is EXT-REF's static configuration, spec §4.7/§6.3.
type Config struct {
	Device string
	Baud   int

	NoAdjust     bool
	NoResetClock bool
}

// DefaultConfig fills in the serial defaults of spec §6.3: 9600 baud 8-N-1.
func DefaultConfig(device string) Config {
	return Config{Device: device, Baud: 9600}
}

// PPSSource abstracts the rising-edge interrupt of spec §4.7: each value
// received is the instant HW-CLOCK was timestamped on that edge. Production
// wires this to a GPIO/PPS driver; tests inject edges directly.
type PPSSource interface {
	Pulses() <-chan time.Time
}

// Discipline runs EXT-REF: it owns the serial port and PPS source and
// writes HW-CLOCK directly, independent of PTP-ENGINE, per spec §4.7/§5.
type Discipline struct {
	cfg   Config
	clock hwclock.HardwareClock
	pps   PPSSource
	ctrl  *servo.Controller

	neverSet   bool
	streamSeen time.Time

	pendingTruth time.Time
	havePending  bool
}

// New builds a Discipline ready to Run.
func New(cfg Config, clock hwclock.HardwareClock, pps PPSSource) *Discipline {
	return &Discipline{
		cfg:      cfg,
		clock:    clock,
		pps:      pps,
		ctrl:     servo.DefaultController(),
		neverSet: true,
	}
}

// Run opens the serial port and drives the discipline loop until ctx is
// cancelled. Grounded on sa53fw/mac/mac.go's serial.Open usage.
func (d *Discipline) Run(ctx context.Context) error {
	mode := &serial.Mode{BaudRate: d.cfg.Baud}
	port, err := serial.Open(d.cfg.Device, mode)
	if err != nil {
		return err
	}
	defer port.Close()
	return d.run(ctx, port)
}

func (d *Discipline) run(ctx context.Context, r io.Reader) error {
	lines := make(chan string, 16)
	go scanLines(r, lines)
	d.streamSeen = time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return io.EOF
			}
			d.handleLine(line)
		case edge := <-d.pps.Pulses():
			d.handleEdge(edge)
		}
	}
}

func scanLines(r io.Reader, out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		out <- sc.Text()
	}
}

func (d *Discipline) handleLine(line string) {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "$") {
		pt, err := ParseGPZDA(trimmed)
		if err != nil {
			log.Debugf("extref: %v", err)
			return
		}
		d.pendingTruth = pt.NextPPSEdge()
		d.havePending = true
		return
	}
	// Binary ACK/NACK frames arrive on the same wire in spec §6.3 but
	// carry no timing information; they are ignored here.
}

// handleEdge implements the init/steady-state split of spec §4.7.
func (d *Discipline) handleEdge(edge time.Time) {
	if !d.havePending {
		return
	}
	truth := d.pendingTruth
	d.havePending = false

	if d.neverSet {
		delta := edge.Sub(d.streamSeen)
		if delta < 0 {
			delta = -delta
		}
		if delta < time.Second {
			d.clock.Set(ptptime.FromDuration(time.Duration(truth.UnixNano())))
			d.neverSet = false
		}
		return
	}

	sampled := d.clock.Get()
	truthT := ptptime.FromDuration(time.Duration(truth.UnixNano()))
	// Sample takes clock minus reference, the sign of offsetFromMaster.
	offset := ptptime.Sub(sampled, truthT)

	res := d.ctrl.Sample(offset, 0, d.cfg.NoAdjust, d.cfg.NoResetClock)
	switch res.State {
	case servo.StateStep:
		if !d.cfg.NoAdjust {
			d.clock.Set(truthT)
		}
	case servo.StateSlew:
		if !d.cfg.NoAdjust {
			if err := d.clock.AdjustFreq(res.FreqAdjustmentPPB); err != nil {
				log.Warnf("extref: adjust_freq: %v", err)
			}
		}
	}
}
