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
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/ptpordc/ptpordc/engine"
	ptp "github.com/ptpordc/ptpordc/ptp/protocol"
)

var statusAddrFlag string

func init() {
	RootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVarP(&statusAddrFlag, "address", "a", "localhost:0", "ptpordc run's monitoring address")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running clock's port state and offset",
	RunE: func(cmd *cobra.Command, args []string) error {
		configureVerbosity()
		return printStatus(statusAddrFlag)
	},
}

func fetchStatus(addr string) (engine.Status, error) {
	var s engine.Status
	client := http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s/status", addr))
	if err != nil {
		return s, err
	}
	defer resp.Body.Close()
	err = json.NewDecoder(resp.Body).Decode(&s)
	return s, err
}

func printStatus(addr string) error {
	s, err := fetchStatus(addr)
	if err != nil {
		return fmt.Errorf("fetching status from %s: %w", addr, err)
	}

	state := s.PortState.String()
	switch s.PortState {
	case ptp.PortStateSlave, ptp.PortStateMaster:
		state = color.GreenString(state)
	case ptp.PortStateFaulty:
		state = color.RedString(state)
	default:
		state = color.YellowString(state)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetColWidth(24)
	table.SetHeader([]string{"state", "steps removed", "offset(ns)", "path delay(ns)", "parent", "grandmaster"})
	table.Append([]string{
		state,
		fmt.Sprintf("%d", s.StepsRemoved),
		fmt.Sprintf("%d", s.OffsetFromMaster),
		fmt.Sprintf("%d", s.MeanPathDelay),
		s.ParentIdentity.String(),
		s.GrandmasterID.String(),
	})
	table.Render()
	return nil
}
