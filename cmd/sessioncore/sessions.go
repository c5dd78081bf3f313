// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/coralweave/sessioncore/internal/log"
	"github.com/coralweave/sessioncore/pkg/eventcore"
	"github.com/coralweave/sessioncore/pkg/storage/sqlite"
)

var (
	searchSession string
	searchType    string
	searchLimit   int
)

func init() {
	searchCmd.Flags().StringVar(&searchSession, "session", "", "Restrict to one session")
	searchCmd.Flags().StringVar(&searchType, "type", "", "Restrict to one event type")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 20, "Maximum results")
}

// withStore opens the store, runs fn, and closes cleanly.
func withStore(fn func(ctx context.Context, store *eventcore.EventStore) error) error {
	ctx := context.Background()
	logger := log.With(zap.String("db", resolveDBPath()))
	conn, err := eventcore.Open(ctx, eventcore.ConnectionConfig{
		DBPath:    resolveDBPath(),
		EnableWAL: true,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer conn.Close() //nolint:errcheck
	return fn(ctx, eventcore.NewEventStore(conn, nil, logger))
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions across all workspaces",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, store *eventcore.EventStore) error {
			workspaces, err := store.ListWorkspaces(ctx)
			if err != nil {
				return err
			}
			for _, ws := range workspaces {
				fmt.Printf("workspace %s  %s\n", ws.ID, ws.Path)
				sessions, err := store.ListSessions(ctx, ws.ID)
				if err != nil {
					return err
				}
				for _, s := range sessions {
					title := s.Title
					if title == "" {
						title = "(untitled)"
					}
					fmt.Printf("  %s  %-8s  %-40s  events=%d msgs=%d  %s\n",
						s.ID, s.Status, truncate(title, 40), s.EventCount, s.MessageCount, s.LastActivityAt)
				}
			}
			return nil
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <session-id>",
	Short: "Dump a session's event history in sequence order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, store *eventcore.EventStore) error {
			events, err := store.GetEventsBySession(ctx, args[0])
			if err != nil {
				return err
			}
			for _, e := range events {
				parent := e.ParentID
				if parent == "" {
					parent = "-"
				}
				fmt.Printf("%4d  %-24s  %s  parent=%s\n", e.Sequence, e.Type, e.ID, parent)
				if len(e.RawPayload) > 0 && string(e.RawPayload) != "{}" {
					fmt.Printf("      %s\n", truncate(string(e.RawPayload), 120))
				}
			}
			return nil
		})
	},
}

var messagesCmd = &cobra.Command{
	Use:   "messages <session-id>",
	Short: "Replay a session's reconstructed conversation at its head",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, store *eventcore.EventStore) error {
			result, err := store.GetMessagesAtHead(ctx, args[0])
			if err != nil {
				return err
			}
			if result.SystemPrompt != "" {
				fmt.Printf("[system] %s\n\n", truncate(result.SystemPrompt, 200))
			}
			for _, m := range result.Messages {
				fmt.Printf("[%s]\n", m.Message.Role)
				for _, b := range m.Message.Content {
					switch b.Type {
					case eventcore.BlockText:
						fmt.Printf("  %s\n", b.Text)
					case eventcore.BlockToolUse:
						fmt.Printf("  -> tool %s (%s)\n", b.ToolName, b.ToolCallID)
					case eventcore.BlockToolResult:
						fmt.Printf("  <- %s\n", truncate(b.ToolResultContent, 120))
					case eventcore.BlockThinking:
						fmt.Printf("  (thinking) %s\n", truncate(b.Text, 120))
					}
				}
			}
			fmt.Printf("\nturns=%d tokens_in=%d tokens_out=%d\n",
				result.TurnCount, result.TokenUsage.InputTokens, result.TokenUsage.OutputTokens)
			return nil
		})
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Full-text search over event payloads",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, store *eventcore.EventStore) error {
			events, err := store.Search(ctx, eventcore.SearchOptions{
				Query:     strings.Join(args, " "),
				SessionID: searchSession,
				Type:      eventcore.EventType(searchType),
				Limit:     searchLimit,
			})
			if err != nil {
				return err
			}
			for _, e := range events {
				fmt.Printf("%s  %-24s  %s\n      %s\n",
					e.SessionID, e.Type, e.ID, truncate(string(e.RawPayload), 140))
			}
			fmt.Printf("%d result(s)\n", len(events))
			return nil
		})
	},
}

var branchesCmd = &cobra.Command{
	Use:   "branches <session-id>",
	Short: "List a session's fork branches",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, store *eventcore.EventStore) error {
			branches, err := store.GetBranches(ctx, args[0])
			if err != nil {
				return err
			}
			for _, b := range branches {
				name := b.Name
				if name == "" {
					name = "(unnamed)"
				}
				fmt.Printf("%s  %-20s  fork_at=%s  head=%s  msgs=%d\n",
					b.ID, name, b.ForkEventID, b.HeadEventID, b.MessageCount)
			}
			return nil
		})
	},
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Take a verified online backup of the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := sqlite.Backup(resolveDBPath())
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	},
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
