package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/optimiscs/ZhimoWanxiang/internal/cli/config"
	"github.com/optimiscs/ZhimoWanxiang/internal/cli/stream"
	"github.com/optimiscs/ZhimoWanxiang/internal/cli/tui"
	"github.com/optimiscs/ZhimoWanxiang/internal/cli/types"
	"github.com/optimiscs/ZhimoWanxiang/internal/cli/ui"
)

var (
	chatSessionID string
	chatFresh     bool
)

// chatCmd is the chat command
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "start interactive chat with the analysis assistant",
	Long: `Start an interactive streaming chat session with the 智墨万象 assistant.

Features:
  • 实时流式输出
  • 多轮对话上下文管理
  • 自动恢复上一次会话`,
	Example: `  # Resume the last session (or create one)
  $ wanxctl chat

  # Chat in a specific session
  $ wanxctl chat --session 6f1c9a52-...

  # Force a fresh session
  $ wanxctl chat --new

  # Keyboard controls:
  • 输入消息按 Enter 发送
  • Esc 取消当前回复 / 退出会话`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatSessionID, "session", "", "Session ID to chat in")
	chatCmd.Flags().BoolVar(&chatFresh, "new", false, "Start a fresh session instead of resuming")

	chatCmd.SilenceUsage = true
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	apiClient, cfg, err := authenticatedClient()
	if err != nil {
		return err
	}

	sessionID, err := resolveSession(ctx, apiClient, cfg)
	if err != nil {
		ui.PrintError("failed to open session: %v", err)
		return fmt.Errorf("session setup failed")
	}
	cfg.RememberSession(sessionID)

	// History is a convenience; an empty conversation is fine when the
	// fetch fails.
	history, err := apiClient.ListMessages(ctx, sessionID)
	if err != nil {
		ui.PrintWarning("could not load history: %v", err)
	}

	transport, err := stream.NewTransport(cfg.Server, cfg.AccessToken, chatLogger())
	if err != nil {
		ui.PrintError("failed to create stream client: %v", err)
		return fmt.Errorf("client creation failed")
	}

	ui.PrintChatWelcomeBanner()

	program := tui.NewChatProgram(transport, sessionID, history)
	if err := program.Run(); err != nil {
		return fmt.Errorf("failed to run chat TUI: %w", err)
	}

	return nil
}

// resolveSession picks the session to chat in: the --session flag wins,
// then the remembered session if the server still knows it, otherwise a
// freshly created one.
func resolveSession(ctx context.Context, apiClient sessionOpener, cfg *config.Config) (string, error) {
	if chatSessionID != "" {
		session, err := apiClient.GetSession(ctx, chatSessionID)
		if err != nil {
			return "", err
		}
		return session.ID, nil
	}

	if !chatFresh && cfg.LastSessionID != "" {
		if session, err := apiClient.GetSession(ctx, cfg.LastSessionID); err == nil {
			return session.ID, nil
		}
		// Stale cache, fall through to a new session.
	}

	session, err := apiClient.CreateSession(ctx, true)
	if err != nil {
		return "", err
	}
	return session.ID, nil
}

// sessionOpener is the slice of the API client resolveSession needs.
type sessionOpener interface {
	GetSession(ctx context.Context, sessionID string) (*types.ChatSession, error)
	CreateSession(ctx context.Context, initialize bool) (*types.ChatSession, error)
}

// chatLogger writes transport logs to ~/.wanxctl/chat.log so they do
// not tear the TUI. Falls back to a discard logger.
func chatLogger() *slog.Logger {
	configPath, err := config.GetConfigPath()
	if err != nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	logPath := filepath.Join(filepath.Dir(configPath), "chat.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return slog.New(slog.NewTextHandler(f, nil))
}
