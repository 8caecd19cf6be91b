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
	"github.com/spf13/cobra"
)

func newSendCmd(opts *globalOptions) *cobra.Command {
	var sender string

	cmd := &cobra.Command{
		Use:   "send <recipient> <message>",
		Short: "Send a message to an agent",
		Long: `Send a message to an agent's mailbox. The recipient is created if it is not
known yet. Without --sender the server's default sender is used.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.newClient(cmd)
			if err != nil {
				return err
			}

			id, err := c.Send(cmd.Context(), args[0], sender, args[1])
			if err != nil {
				return err
			}

			if opts.jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]string{
					"status":     "Message sent successfully",
					"message_id": id,
				})
			}
			printLine(cmd.OutOrStdout(), "Message %s sent to %s", id, args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&sender, "sender", "s", "", "Sender name")
	return cmd
}

func newMessagesCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "messages <agent>",
		Aliases: []string{"ls"},
		Short:   "List the messages in an agent's mailbox",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.newClient(cmd)
			if err != nil {
				return err
			}

			resp, err := c.Messages(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if opts.jsonOutput {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			printMessages(cmd.OutOrStdout(), resp)
			return nil
		},
	}
}

func newDeleteCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <agent> <message-id>",
		Aliases: []string{"rm"},
		Short:   "Delete one message from an agent's mailbox",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.newClient(cmd)
			if err != nil {
				return err
			}

			resp, err := c.DeleteMessage(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}

			if opts.jsonOutput {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			printLine(cmd.OutOrStdout(), "%s", resp.Status)
			return nil
		},
	}
}

func newClearCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <agent>",
		Short: "Remove every message from an agent's mailbox",
		Long: `Remove every message from an agent's mailbox. Message IDs keep counting from
where they left off.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.newClient(cmd)
			if err != nil {
				return err
			}

			resp, err := c.ClearMailbox(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if opts.jsonOutput {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			printLine(cmd.OutOrStdout(), "%s", resp.Status)
			return nil
		},
	}
}

func newAgentsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List all known agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.newClient(cmd)
			if err != nil {
				return err
			}

			resp, err := c.Agents(cmd.Context())
			if err != nil {
				return err
			}

			if opts.jsonOutput {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			printAgents(cmd.OutOrStdout(), resp)
			return nil
		},
	}
}

func newRegisterCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "register <name>",
		Short: "Register a new agent with an empty mailbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.newClient(cmd)
			if err != nil {
				return err
			}

			resp, err := c.RegisterAgent(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if opts.jsonOutput {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			printLine(cmd.OutOrStdout(), "%s", resp.Status)
			return nil
		},
	}
}

func newHealthCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check whether the server is alive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.newClient(cmd)
			if err != nil {
				return err
			}

			health, err := c.Health(cmd.Context())
			if err != nil {
				return err
			}

			if opts.jsonOutput {
				return printJSON(cmd.OutOrStdout(), health)
			}
			printHealth(cmd.OutOrStdout(), health)
			return nil
		},
	}
}
