package app

import (
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker はワーカーモード（公開ポーラー）で起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// NewRootCommand は schedpost のルートコマンドを生成する。
// サブコマンドを省略した場合は serve として動作する。
// ログはwに出力する。
func NewRootCommand(w io.Writer) *cobra.Command {
	serve := newServeCommand(w)

	cmd := &cobra.Command{
		Use:           "schedpost",
		Short:         "予約投稿の公開エンジン",
		Long:          "予約投稿を管理するAPIサーバーと、予約日時に到達した投稿を公開するワーカー。",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          serve.RunE,
	}

	cmd.AddCommand(serve)
	cmd.AddCommand(newWorkerCommand(w))
	cmd.AddCommand(newMigrateCommand(w))
	cmd.AddCommand(newHealthcheckCommand())

	return cmd
}

func newServeCommand(w io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandServe),
		Short: "APIサーバーを起動する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, l, err := Init(w)
			if err != nil {
				return err
			}
			logStartup(l, CommandServe, cfg.ServerPort)
			return runServe(cmd.Context(), cfg, l)
		},
	}
}

func newWorkerCommand(w io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandWorker),
		Short: "予約投稿の公開ワーカーを起動する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, l, err := Init(w)
			if err != nil {
				return err
			}
			logStartup(l, CommandWorker, cfg.MetricsPort)
			return runWorker(cmd.Context(), cfg, l)
		},
	}
}

func newMigrateCommand(w io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandMigrate),
		Short: "データベースマイグレーションを適用する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, l, err := Init(w)
			if err != nil {
				return err
			}
			return runMigrate(cfg, l)
		},
	}
}

// newHealthcheckCommand は軽量サブコマンドのため、フル初期化（設定の読み込み）をスキップする。
func newHealthcheckCommand() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   string(CommandHealthcheck),
		Short: "ローカルの /health を確認する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealthcheck(port)
		},
	}

	defaultPort := os.Getenv("SERVER_PORT")
	if defaultPort == "" {
		defaultPort = "8080"
	}
	cmd.Flags().StringVar(&port, "port", defaultPort, "ヘルスチェック対象のポート（workerはMETRICS_PORT）")

	return cmd
}
