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

// Package extref implements EXT-REF: an optional external-time-reference
// discipline loop that parses GPZDA date/time sentences and a PPS edge
// off a serial receiver and disciplines HW-CLOCK directly, independent of
// PTP-ENGINE, per spec §4.7. Framing is grounded on sa53fw/mac/mac.go's
// serial command/response handling.
package extref

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParsedTime is a GPZDA sentence converted to a truth instant, still
// carrying the field values the sanity check examined.
type ParsedTime struct {
	Hour, Min, Sec, Msec int
	Day, Month, Year     int
}

// ErrBadSentence covers any GPZDA line that fails the parser's sanity checks.
type ErrBadSentence struct{ Reason string }

func (e ErrBadSentence) Error() string { return "extref: bad GPZDA sentence: " + e.Reason }

// ParseGPZDA parses a NMEA ZDA-style line, spec §4.7:
//
//	$GPZDA,hhmmss.ss,dd,mm,yyyy,xx,yy*CC
func ParseGPZDA(line string) (ParsedTime, error) {
	line = strings.TrimRight(line, "\r\n")
	if i := strings.IndexByte(line, '*'); i >= 0 {
		line = line[:i]
	}
	if !strings.HasPrefix(line, "$") {
		return ParsedTime{}, ErrBadSentence{Reason: "missing $ prefix"}
	}
	fields := strings.Split(line, ",")
	if len(fields) < 5 || !strings.HasSuffix(fields[0], "ZDA") {
		return ParsedTime{}, ErrBadSentence{Reason: "not a ZDA sentence"}
	}

	hhmmss := fields[1]
	if len(hhmmss) < 6 {
		return ParsedTime{}, ErrBadSentence{Reason: "short time field"}
	}
	hour, err1 := strconv.Atoi(hhmmss[0:2])
	minute, err2 := strconv.Atoi(hhmmss[2:4])
	sec, err3 := strconv.Atoi(hhmmss[4:6])
	msec := 0
	if dot := strings.IndexByte(hhmmss, '.'); dot >= 0 && len(hhmmss) > dot+1 {
		frac := hhmmss[dot+1:]
		if len(frac) > 3 {
			frac = frac[:3]
		}
		for len(frac) < 3 {
			frac += "0"
		}
		msec, _ = strconv.Atoi(frac)
	}
	day, err4 := strconv.Atoi(fields[2])
	month, err5 := strconv.Atoi(fields[3])
	year, err6 := strconv.Atoi(fields[4])
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil || err6 != nil {
		return ParsedTime{}, ErrBadSentence{Reason: "non-numeric field"}
	}

	pt := ParsedTime{Hour: hour, Min: minute, Sec: sec, Msec: msec, Day: day, Month: month, Year: year}
	if err := pt.sanityCheck(); err != nil {
		return ParsedTime{}, err
	}
	return pt, nil
}

func (pt ParsedTime) sanityCheck() error {
	switch {
	case pt.Year < 2000 || pt.Year > 2040:
		return ErrBadSentence{Reason: fmt.Sprintf("year %d out of range", pt.Year)}
	case pt.Month < 1 || pt.Month > 12:
		return ErrBadSentence{Reason: fmt.Sprintf("month %d out of range", pt.Month)}
	case pt.Day < 1 || pt.Day > 31:
		return ErrBadSentence{Reason: fmt.Sprintf("day %d out of range", pt.Day)}
	case pt.Hour > 23 || pt.Min > 59 || pt.Sec > 60:
		return ErrBadSentence{Reason: "time-of-day field out of range"}
	}
	return nil
}

// NextPPSEdge converts pt to the instant of the PPS edge it announces:
// the ZDA line refers to the edge one second after the parsed time,
// spec §4.7.
func (pt ParsedTime) NextPPSEdge() time.Time {
	t := time.Date(pt.Year, time.Month(pt.Month), pt.Day, pt.Hour, pt.Min, pt.Sec, pt.Msec*1_000_000, time.UTC)
	return t.Add(time.Second)
}
