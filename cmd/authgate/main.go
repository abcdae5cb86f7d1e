// 認証ゲートウェイのエントリポイント。
// ユーザー登録・ログイン・トークン発行と、リソースAPIへのアクセス制御を担当する。
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線となる。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nao1215/authgate/internal/config"
	"github.com/nao1215/authgate/internal/gateway"
	"github.com/nao1215/authgate/pkg/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "authgate: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	logger, err := logging.New(os.Stdout, cfg.LogLevel, logging.Format(cfg.LogFormat))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := gateway.NewServer(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("ゲートウェイの初期化に失敗: %w", err)
	}
	defer server.Close()

	logger.Info().
		Str("port", cfg.Port).
		Str("store", string(cfg.StoreDriver)).
		Str("api_prefix", cfg.APIPrefix).
		Str("upstream", cfg.ResourceAPIURL).
		Bool("auth_read", cfg.AuthRead.Bool()).
		Bool("auth_write", cfg.AuthWrite.Bool()).
		Msg("認証ゲートウェイを起動します")

	if err := server.Run(ctx); err != nil {
		return err
	}
	logger.Info().Msg("認証ゲートウェイを停止しました")
	return nil
}
