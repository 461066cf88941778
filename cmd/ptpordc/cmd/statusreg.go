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

package cmd

import (
	"encoding/json"
	"net/http"

	"github.com/ptpordc/ptpordc/engine"
)

// statusRegistry serves the running engine's Status as JSON for the
// status subcommand to poll over HTTP.
type statusRegistry struct {
	eng *engine.Engine
}

func newStatusRegistry(eng *engine.Engine) *statusRegistry {
	return &statusRegistry{eng: eng}
}

func (s *statusRegistry) snapshot() engine.Status { return s.eng.Status() }

func (s *statusRegistry) serveHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.snapshot())
}
