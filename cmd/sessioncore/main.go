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

// sessioncore is an inspection CLI over the event-sourced session store:
// list sessions, dump event history and ancestry, replay reconstruction,
// and run full-text search. It opens the database directly; it is a
// debugging aid, not a serving surface.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/coralweave/sessioncore/pkg/config"
)

var dbPath string

var rootCmd = &cobra.Command{
	Use:   "sessioncore",
	Short: "Inspect the event-sourced session store",
	Long: `Inspect the event-sourced session store: sessions, event history,
ancestry chains, reconstructed conversations, and full-text search.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to the SQLite database (default: $SESSIONCORE_DATA_DIR/sessions.db)")

	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(messagesCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(branchesCmd)
	rootCmd.AddCommand(backupCmd)
}

func resolveDBPath() string {
	if dbPath != "" {
		return dbPath
	}
	return filepath.Join(config.GetDataDir(), "sessions.db")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
