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

package engine

import "time"

// taiMinusUTCBase is TAI-UTC before the first leap second (1972-01-01);
// a table entry's Nleap counts the leap seconds inserted since then.
const taiMinusUTCBase = 10

// currentUTCOffset walks the system leap second table loaded at New and
// returns the TAI-UTC offset in effect at now, with ok reporting whether
// any table entry applied. A grandmaster publishes this in its Announce
// messages' CurrentUTCOffset/CurrentUTCOffsetValid fields, spec §3.4.
func (e *Engine) currentUTCOffset(now time.Time) (offset int16, ok bool) {
	for _, leap := range e.leapSeconds {
		if !leap.Time().After(now) {
			offset, ok = int16(leap.Nleap)+taiMinusUTCBase, true
		}
	}
	return offset, ok
}
