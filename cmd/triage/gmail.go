package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/auth"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/config"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/db"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/display"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/gmail"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/logging"
)

var (
	gmailAccount     string
	gmailCredentials string
	gmailMaxResults  int
	gmailFormat      string
)

// gmailCmd is the parent command for Gmail operations.
var gmailCmd = &cobra.Command{
	Use:   "gmail",
	Short: "Gmail operations (search, read)",
	Long:  "Search and read Gmail messages with the same credentials the pipeline uses.",
}

var gmailSearchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Search Gmail messages",
	Long: `Search Gmail messages matching a query.

Uses the same query syntax as Gmail's search box.`,
	Example: `  triage gmail search "from:someone@example.com"
  triage gmail search "subject:urgent is:unread" -n 20
  triage gmail search "newer_than:7d has:attachment"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := args[0]
		credPath, err := resolveCredentials()
		if err != nil {
			return err
		}
		svc, err := auth.NewService(cmd.Context(), credPath, logging.Nop())
		if err != nil {
			return err
		}
		results, err := gmail.Search(cmd.Context(), svc, query, int64(gmailMaxResults))
		if err != nil {
			return err
		}

		if jsonOutput {
			if results == nil {
				results = []gmail.MessageSummary{}
			}
			return writeJSON(cmd.OutOrStdout(), results)
		}

		w := cmd.OutOrStdout()
		if len(results) == 0 {
			fmt.Fprintf(w, "No messages found matching: %s\n", query)
			return nil
		}
		fmt.Fprintf(w, "Found %d message(s) matching: %s\n\n", len(results), query)
		for i, msg := range results {
			fmt.Fprintf(w, "[%d] ID: %s\n", i+1, msg.ID)
			fmt.Fprintf(w, "    From: %s\n", msg.From)
			fmt.Fprintf(w, "    Subject: %s\n", msg.Subject)
			fmt.Fprintf(w, "    Date: %s\n", msg.Date)
			fmt.Fprintf(w, "    Preview: %s\n\n", display.Truncate(msg.Snippet, 100))
		}
		return nil
	},
}

var gmailReadCmd = &cobra.Command{
	Use:   "read MESSAGE_ID",
	Short: "Read a Gmail message by ID",
	Long: `Read the full content of a Gmail message, including headers, labels
and (with --format full) attachment metadata.`,
	Example: `  triage gmail read 18d5a7b3c4e5f6a7
  triage gmail read 18d5a7b3c4e5f6a7 --format full
  triage gmail read 18d5a7b3c4e5f6a7 --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if gmailFormat != "basic" && gmailFormat != "full" {
			return fmt.Errorf("--format must be basic or full")
		}
		credPath, err := resolveCredentials()
		if err != nil {
			return err
		}
		svc, err := auth.NewService(cmd.Context(), credPath, logging.Nop())
		if err != nil {
			return err
		}
		msg, err := gmail.ReadFull(cmd.Context(), svc, args[0])
		if err != nil {
			return err
		}
		if gmailFormat == "basic" {
			msg.Attachments = nil
		}
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), msg)
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "From: %s\n", msg.From)
		fmt.Fprintf(w, "To: %s\n", msg.To)
		if msg.CC != "" {
			fmt.Fprintf(w, "Cc: %s\n", msg.CC)
		}
		fmt.Fprintf(w, "Subject: %s\n", msg.Subject)
		fmt.Fprintf(w, "Date: %s\n", msg.Date)
		if msg.MessageID != "" {
			fmt.Fprintf(w, "Message-ID: %s\n", msg.MessageID)
		}
		if gmailFormat == "full" {
			fmt.Fprintf(w, "Labels: %s\n", strings.Join(msg.Labels, ", "))
			if len(msg.Attachments) > 0 {
				fmt.Fprintf(w, "Attachments:\n")
				for _, att := range msg.Attachments {
					fmt.Fprintf(w, "  - %s (%s, %d bytes)\n", att.Filename, att.MimeType, att.Size)
				}
			}
		}
		fmt.Fprintf(w, "\n%s\n\n", strings.Repeat("=", 60))
		fmt.Fprintf(w, "%s\n", msg.Body)
		return nil
	},
}

// resolveCredentials picks credentials.json: --credentials, then
// --account under the project root, then GMAIL_CREDENTIALS, then the single
// account directory found in the project root.
func resolveCredentials() (string, error) {
	if gmailCredentials != "" {
		return gmailCredentials, nil
	}
	root := db.FindProjectRoot()
	if gmailAccount != "" {
		if root == "" {
			return "", fmt.Errorf("could not find project root (no .git directory)")
		}
		return filepath.Join(root, gmailAccount, "credentials.json"), nil
	}
	if cfg, err := config.Load(config.ScopeLocal); err == nil && cfg.CredentialsPath != "" {
		return cfg.CredentialsPath, nil
	}
	accounts := discoverAccounts(root)
	switch len(accounts) {
	case 0:
		return "", fmt.Errorf("no credentials found, set GMAIL_CREDENTIALS or pass --credentials")
	case 1:
		return filepath.Join(root, accounts[0], "credentials.json"), nil
	default:
		return "", fmt.Errorf("several accounts found (%s), pass --account", strings.Join(accounts, ", "))
	}
}

// discoverAccounts finds <root>/<address>/credentials.json directories.
func discoverAccounts(root string) []string {
	if root == "" {
		return nil
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	var accounts []string
	for _, entry := range entries {
		if !entry.IsDir() || !strings.Contains(entry.Name(), "@") {
			continue
		}
		if _, err := os.Stat(filepath.Join(root, entry.Name(), "credentials.json")); err == nil {
			accounts = append(accounts, entry.Name())
		}
	}
	sort.Strings(accounts)
	return accounts
}

func init() {
	gmailCmd.PersistentFlags().StringVar(&gmailAccount, "account", "", "Account directory under the project root")
	gmailCmd.PersistentFlags().StringVar(&gmailCredentials, "credentials", "", "Path to credentials.json")

	gmailSearchCmd.Flags().IntVarP(&gmailMaxResults, "max-results", "n", 10, "Maximum results to return")
	gmailReadCmd.Flags().StringVarP(&gmailFormat, "format", "f", "basic", "Output format: basic or full")

	gmailCmd.AddCommand(gmailSearchCmd)
	gmailCmd.AddCommand(gmailReadCmd)
	rootCmd.AddCommand(gmailCmd)
}
