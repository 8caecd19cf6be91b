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
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/amtp-protocol/agentmail/pkg/client"
)

const (
	defaultServerURL = "http://localhost:8000"
	apiKeyEnv        = "MAILBOX_API_KEY"
	serverURLEnv     = "MAILBOX_SERVER_URL"
)

// globalOptions are shared by every subcommand
type globalOptions struct {
	serverURL  string
	apiKey     string
	apiKeyFile string
	timeout    time.Duration
	verbose    bool
	jsonOutput bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "agentmail-admin",
		Short: "Administer an agent mailbox server",
		Long: `agentmail-admin talks to a running mailbox server over its HTTP API.

It can send messages between agents, inspect and prune mailboxes, and manage
the agent registry. The API key is read from --api-key, --api-key-file or the
MAILBOX_API_KEY environment variable.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.serverURL, "server-url", envOr(serverURLEnv, defaultServerURL), "Mailbox server URL")
	flags.StringVar(&opts.apiKey, "api-key", os.Getenv(apiKeyEnv), "API key for the mailbox API")
	flags.StringVar(&opts.apiKeyFile, "api-key-file", "", "File containing the API key")
	flags.DurationVar(&opts.timeout, "timeout", client.DefaultTimeout, "Request timeout")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Verbose output")
	flags.BoolVar(&opts.jsonOutput, "json", false, "Print raw JSON responses")

	rootCmd.AddCommand(newSendCmd(opts))
	rootCmd.AddCommand(newMessagesCmd(opts))
	rootCmd.AddCommand(newDeleteCmd(opts))
	rootCmd.AddCommand(newClearCmd(opts))
	rootCmd.AddCommand(newAgentsCmd(opts))
	rootCmd.AddCommand(newRegisterCmd(opts))
	rootCmd.AddCommand(newHealthCmd(opts))

	return rootCmd
}

// newClient builds an API client from the global options
func (o *globalOptions) newClient(cmd *cobra.Command) (*client.Client, error) {
	apiKey := o.apiKey
	if o.apiKeyFile != "" {
		data, err := os.ReadFile(o.apiKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read API key file: %w", err)
		}
		apiKey = strings.TrimSpace(string(data))
	}

	var transport http.RoundTripper = http.DefaultTransport
	if o.verbose {
		transport = &verboseTransport{next: transport, out: cmd.ErrOrStderr()}
	}

	return client.New(o.serverURL, apiKey, client.WithHTTPClient(&http.Client{
		Timeout:   o.timeout,
		Transport: transport,
	})), nil
}

// verboseTransport prints each request and its status
type verboseTransport struct {
	next http.RoundTripper
	out  io.Writer
}

func (t *verboseTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	fmt.Fprintf(t.out, "Making %s request to: %s\n", req.Method, req.URL)

	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(t.out, "Response status: %d (%s)\n", resp.StatusCode, time.Since(start).Round(time.Millisecond))
	return resp, nil
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
