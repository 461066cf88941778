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

// Package ptptime holds the engine's internal time representation:
// signed seconds plus signed nanoseconds, kept normalized so offset and
// path-delay arithmetic never overflows a plain int64 nanosecond count
// the way a naive "total nanoseconds" field would for multi-year uptimes.
package ptptime

import (
	"fmt"
	"time"

	"github.com/ptpordc/ptpordc/ptp/protocol"
)

const nsPerSec = int64(time.Second)

// Time is the internal-time primitive: signed 32-bit seconds, signed
// 32-bit nanoseconds, always normalized (§3.1: |ns| < 1e9, and sign(sec)
// == sign(ns) whenever both are nonzero).
type Time struct {
	Sec int32
	Nsec int32
}

// FromDuration builds a normalized Time from a time.Duration
func FromDuration(d time.Duration) Time {
	return normalize(int64(d)/nsPerSec, int64(d)%nsPerSec)
}

// Duration converts to a time.Duration. Callers must ensure the value
// fits a Duration's int64 nanosecond range; seconds this core produces
// never approach that bound.
func (t Time) Duration() time.Duration {
	return time.Duration(int64(t.Sec)*nsPerSec + int64(t.Nsec))
}

// FromWireTimestamp converts a wire Timestamp to internal-time. The 48-bit
// wire seconds field is wider than Sec: values of 2^31 or more wrap in the
// int32 conversion.
func FromWireTimestamp(ts protocol.WireTimestamp) Time {
	return normalize(int64(ts.Seconds.Seconds()), int64(ts.Nanoseconds))
}

// FromCorrection converts a correctionField value, discarding the
// fractional low 16 bits per §3.1 and §9's truncation note.
func FromCorrection(c protocol.Correction) Time {
	ns := c.Nanoseconds()
	return normalize(ns/nsPerSec, ns%nsPerSec)
}

// normalize brings (sec, ns) into the invariant form: |ns| < 1e9 and
// sign(sec) == sign(ns) when both are nonzero.
func normalize(sec, ns int64) Time {
	sec += ns / nsPerSec
	ns %= nsPerSec
	if sec > 0 && ns < 0 {
		sec--
		ns += nsPerSec
	} else if sec < 0 && ns > 0 {
		sec++
		ns -= nsPerSec
	}
	return Time{Sec: int32(sec), Nsec: int32(ns)}
}

// Normalize re-applies the invariant; exposed so callers that build a
// Time field-by-field (e.g. decoding) can restore it explicitly.
func (t Time) Normalize() Time {
	return normalize(int64(t.Sec), int64(t.Nsec))
}

// Add returns a + b, normalized.
func Add(a, b Time) Time {
	return normalize(int64(a.Sec)+int64(b.Sec), int64(a.Nsec)+int64(b.Nsec))
}

// Sub returns a - b, normalized.
func Sub(a, b Time) Time {
	return normalize(int64(a.Sec)-int64(b.Sec), int64(a.Nsec)-int64(b.Nsec))
}

// Div2 returns t / 2, normalized. Used to average two timestamps
// (e.g. Sync/Delay_Req pair midpoints) without losing a trailing
// nanosecond to integer truncation asymmetry.
func Div2(t Time) Time {
	totalNs := int64(t.Sec)*nsPerSec + int64(t.Nsec)
	return normalize(0, totalNs/2)
}

// Neg returns -t, normalized.
func Neg(t Time) Time {
	return normalize(-int64(t.Sec), -int64(t.Nsec))
}

// IsZero reports whether t is the zero value
func (t Time) IsZero() bool { return t.Sec == 0 && t.Nsec == 0 }

func (t Time) String() string {
	return fmt.Sprintf("%d.%09ds", t.Sec, t.Nsec)
}
