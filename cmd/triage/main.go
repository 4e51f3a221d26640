package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/db"
)

// Version is set via ldflags at build time.
var Version = "dev"

var (
	dbPath     string
	jsonOutput bool
	quietFlag  bool
	store      *db.DB
)

// needsNoDB lists commands that run without the local database.
var needsNoDB = map[string]bool{
	"init": true, "help": true, "version": true, "mode": true,
	"classify": true, "gmail": true, "search": true, "read": true,
}

var rootCmd = &cobra.Command{
	Use:   "triage",
	Short: "triage - tiered email triage for an executive inbox",
	Long: `Triage fetches new Gmail messages, classifies each into one of four tiers
(escalate, handle, draft, flag), acts on it once, and reports cost and
pipeline health in scheduled digests.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if needsNoDB[cmd.Name()] {
			return nil
		}

		path := dbPath
		if path == "" {
			path = os.Getenv("TRIAGE_DB")
		}
		if path == "" {
			path = db.DiscoverDB()
		}
		if path == "" {
			return fmt.Errorf("no triage database found, run 'triage init' first")
		}

		var err error
		store, err = db.Open(path)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			store.Close()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "triage version %s\n", Version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize .triage/ in the project root",
	RunE: func(cmd *cobra.Command, args []string) error {
		root := db.FindProjectRoot()
		if root == "" {
			return fmt.Errorf("could not find project root (no .git directory found)")
		}

		path := filepath.Join(root, ".triage", "triage.db")
		s, err := db.Open(path)
		if err != nil {
			return err
		}
		s.Close()

		if err := ensureGitignore(root); err != nil && !quietFlag {
			fmt.Fprintf(cmd.ErrOrStderr(), "  ! could not update .gitignore: %v\n", err)
		}

		if !quietFlag {
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized triage at %s\n", path)
		}
		return nil
	},
}

// ensureGitignore adds .triage/ to .gitignore if not already present.
func ensureGitignore(root string) error {
	gitignorePath := filepath.Join(root, ".gitignore")
	const entry = ".triage/"

	data, err := os.ReadFile(gitignorePath)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == entry || line == ".triage" {
			return nil
		}
	}

	f, err := os.OpenFile(gitignorePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if len(data) > 0 && data[len(data)-1] != '\n' {
		if _, err := f.WriteString("\n"); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(f, "\n# Triage state (decisions, markers, run history)\n%s\n", entry)
	return err
}

// writeJSON prints v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (default: $TRIAGE_DB or auto-discover .triage/triage.db)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
