package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/optimiscs/ZhimoWanxiang/internal/cli/client"
	"github.com/optimiscs/ZhimoWanxiang/internal/cli/config"
	"github.com/optimiscs/ZhimoWanxiang/internal/cli/ui"
)

var (
	deleteForce bool
)

// sessionsCmd groups the chat session management subcommands.
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "manage chat sessions",
	Long: `Manage your chat sessions on the server.

Each session holds its own conversation history and model settings.
The chat command resumes your most recent session automatically; use
these subcommands to inspect, create, or remove sessions directly.`,
	Example: `  # List your sessions, newest first
  $ wanxctl sessions list

  # Create a fresh session (with the assistant's welcome message)
  $ wanxctl sessions new

  # Delete a session and its history
  $ wanxctl sessions delete 6f1c9a52-...`,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "list your chat sessions",
	RunE:  runSessionsList,
}

var sessionsNewCmd = &cobra.Command{
	Use:   "new",
	Short: "create a new chat session",
	RunE:  runSessionsNew,
}

var sessionsExportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "export a session transcript to a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsExport,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "delete a chat session",
	Long: `Delete a chat session and its message history.

By default, you will be prompted to confirm the deletion. Use --force to skip confirmation.`,
	Args: cobra.ExactArgs(1),
	RunE: runSessionsDelete,
}

func init() {
	sessionsDeleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "Skip confirmation prompt")

	// Silence usage to avoid showing help on every error
	sessionsCmd.SilenceUsage = true
	sessionsListCmd.SilenceUsage = true
	sessionsNewCmd.SilenceUsage = true
	sessionsExportCmd.SilenceUsage = true
	sessionsDeleteCmd.SilenceUsage = true

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsNewCmd)
	sessionsCmd.AddCommand(sessionsExportCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
}

// authenticatedClient loads the saved config and builds an API client
// from it. Shared by every subcommand that talks to the server.
func authenticatedClient() (*client.APIClient, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		ui.PrintError("failed to load config: %v", err)
		return nil, nil, fmt.Errorf("config load failed")
	}

	if !cfg.IsAuthenticated() {
		ui.PrintError("not authenticated, please login first")
		fmt.Println("\nRun 'wanxctl login' to authenticate.")
		return nil, nil, fmt.Errorf("authentication required")
	}

	apiClient, err := client.NewAPIClient(cfg.Server, cfg.AccessToken)
	if err != nil {
		ui.PrintError("failed to create client: %v", err)
		return nil, nil, fmt.Errorf("client creation failed")
	}

	return apiClient, cfg, nil
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	apiClient, cfg, err := authenticatedClient()
	if err != nil {
		return err
	}

	ui.PrintInfo("Fetching sessions from %s...", cfg.Server)

	sessions, err := apiClient.ListSessions(ctx)
	if err != nil {
		ui.PrintError("failed to list sessions: %v", err)
		return fmt.Errorf("list operation failed")
	}

	fmt.Println()
	fmt.Println(ui.RenderSessionList(sessions, cfg.LastSessionID))
	fmt.Println(ui.RenderSessionSummary(len(sessions)))

	return nil
}

func runSessionsNew(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	apiClient, cfg, err := authenticatedClient()
	if err != nil {
		return err
	}

	session, err := apiClient.CreateSession(ctx, true)
	if err != nil {
		ui.PrintError("failed to create session: %v", err)
		return fmt.Errorf("create operation failed")
	}

	cfg.RememberSession(session.ID)

	ui.PrintSuccess("Created session '%s' (%s)", session.Title, session.ID)
	fmt.Println("\nRun 'wanxctl chat' to start the conversation.")
	return nil
}

func runSessionsExport(cmd *cobra.Command, args []string) error {
	sessionID := args[0]

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	apiClient, _, err := authenticatedClient()
	if err != nil {
		return err
	}

	transcript, err := apiClient.ExportChat(ctx, sessionID)
	if err != nil {
		ui.PrintError("failed to export: %v", err)
		return fmt.Errorf("export failed")
	}

	filename := fmt.Sprintf("chat-%s.json", sessionID)
	if err := os.WriteFile(filename, transcript, 0644); err != nil {
		ui.PrintError("failed to write %s: %v", filename, err)
		return fmt.Errorf("export failed")
	}

	ui.PrintSuccess("Exported transcript to %s", filename)
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	sessionID := args[0]

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	apiClient, cfg, err := authenticatedClient()
	if err != nil {
		return err
	}

	// Confirm deletion unless --force
	if !deleteForce {
		confirm := false
		prompt := &survey.Confirm{
			Message: fmt.Sprintf("Delete session '%s' and its history?", sessionID),
		}
		if err := survey.AskOne(prompt, &confirm); err != nil {
			return fmt.Errorf("confirmation prompt failed: %w", err)
		}

		if !confirm {
			ui.PrintInfo("Deletion cancelled")
			return nil
		}
	}

	if err := apiClient.DeleteSession(ctx, sessionID); err != nil {
		ui.PrintError("failed to delete: %v", err)
		return fmt.Errorf("deletion failed")
	}

	// Drop the resume cache when it points at the deleted session.
	if cfg.LastSessionID == sessionID {
		cfg.RememberSession("")
	}

	ui.PrintSuccess("Successfully deleted session '%s'", sessionID)
	return nil
}
