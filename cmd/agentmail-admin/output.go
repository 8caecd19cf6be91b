/*
 * Copyright 2025 Cong Wang
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/rodaine/table"

	"github.com/amtp-protocol/agentmail/internal/types"
	"github.com/amtp-protocol/agentmail/pkg/client"
)

// newTable creates a table with consistent styling
func newTable(w io.Writer, headers ...interface{}) table.Table {
	return table.New(headers...).
		WithWriter(w).
		WithPadding(2)
}

func printLine(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintf(w, format+"\n", args...)
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	printLine(w, "%s", data)
	return nil
}

func printMessages(w io.Writer, resp *types.MessagesResponse) {
	printLine(w, "Found %d message(s) for %s", resp.Count, resp.Agent)
	if resp.Count == 0 {
		return
	}
	printLine(w, "")

	tbl := newTable(w, "ID", "Sender", "Timestamp", "Message")
	for _, entry := range resp.Messages {
		tbl.AddRow(entry.ID, entry.Message.Sender, entry.Message.CreatedAt.String(), entry.Message.Content)
	}
	tbl.Print()
}

func printAgents(w io.Writer, resp *types.AgentsResponse) {
	printLine(w, "Found %d agent(s)", resp.TotalAgents)
	if resp.TotalAgents == 0 {
		return
	}
	printLine(w, "")

	names := make([]string, 0, len(resp.Agents))
	for name := range resp.Agents {
		names = append(names, name)
	}
	sort.Strings(names)

	tbl := newTable(w, "Agent", "Messages", "Max Key")
	for _, name := range names {
		summary := resp.Agents[name]
		tbl.AddRow(name, summary.MessageCount, summary.MaxKey)
	}
	tbl.Print()
}

func printHealth(w io.Writer, health *client.HealthStatus) {
	printLine(w, "Status: %s (version %s)", health.Status, health.Version)

	names := make([]string, 0, len(health.Components))
	for name := range health.Components {
		names = append(names, name)
	}
	sort.Strings(names)

	tbl := newTable(w, "Component", "Status")
	for _, name := range names {
		tbl.AddRow(name, health.Components[name])
	}
	tbl.Print()
}
