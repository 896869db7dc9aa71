package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hitoshi/timelog/internal/config"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。サブコマンド省略時の既定。
	CommandServe Command = "serve"
	// CommandWorker はワーカーモードで起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。SIGINTまたはSIGTERMを受信するとグレースフルシャットダウンを行う。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// NewRootCommand はtimelogのルートコマンドを生成する。
// サブコマンドを省略した場合はserveとして動作する。
func NewRootCommand(w io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "timelog",
		Short:         "作業時間を記録するタイムログAPIサーバー",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithConfig(cmd.Context(), w, CommandServe)
		},
	}
	root.SetOut(w)
	root.SetErr(w)

	root.AddCommand(
		&cobra.Command{
			Use:   string(CommandServe),
			Short: "APIサーバーを起動する",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runWithConfig(cmd.Context(), w, CommandServe)
			},
		},
		&cobra.Command{
			Use:   string(CommandWorker),
			Short: "レガシータグのクリーンアップを定期実行する",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runWithConfig(cmd.Context(), w, CommandWorker)
			},
		},
		&cobra.Command{
			Use:   string(CommandMigrate),
			Short: "データベースマイグレーションを適用する",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runWithConfig(cmd.Context(), w, CommandMigrate)
			},
		},
		newHealthcheckCommand(),
	)
	return root
}

// newHealthcheckCommand はヘルスチェックのサブコマンドを生成する。
// 軽量サブコマンドのため、設定の読み込みとDB接続を行わない。
func newHealthcheckCommand() *cobra.Command {
	var baseURL string
	cmd := &cobra.Command{
		Use:   string(CommandHealthcheck),
		Short: "起動中のAPIサーバーの /health を確認する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if baseURL == "" {
				port := os.Getenv("SERVER_PORT")
				if port == "" {
					port = "8080"
				}
				baseURL = "http://localhost:" + port
			}
			return runHealthcheck(cmd.Context(), baseURL)
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "", "確認先のベースURL（既定: http://localhost:$SERVER_PORT）")
	return cmd
}

// runWithConfig は設定を読み込み、指定のモードで起動する。
func runWithConfig(ctx context.Context, w io.Writer, command Command) error {
	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("アプリケーションを起動します",
		slog.String("command", string(command)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	return dispatch(ctx, cfg, command)
}

func dispatch(ctx context.Context, cfg *config.Config, command Command) error {
	switch command {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}
