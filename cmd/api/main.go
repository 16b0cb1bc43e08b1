package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/progate-hackathon-strawberry-flavor/tetris-engine/internal/api/handlers"
	"github.com/progate-hackathon-strawberry-flavor/tetris-engine/internal/api/middleware"
	"github.com/progate-hackathon-strawberry-flavor/tetris-engine/internal/config"
	"github.com/progate-hackathon-strawberry-flavor/tetris-engine/internal/database"
	"github.com/progate-hackathon-strawberry-flavor/tetris-engine/internal/services/tetris"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// DATABASE_URL が無ければメモリ上のリポジトリで動かす
	var (
		scoreRepo  database.ScoreRepository
		resultRepo database.ResultRepository
		pinger     handlers.Pinger
	)
	if cfg.DatabaseURL != "" {
		db, err := database.NewDatabaseService(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("データベース接続エラー: %v", err)
		}
		defer db.Close()
		if err := db.EnsureSchema(ctx); err != nil {
			log.Fatalf("スキーマ作成エラー: %v", err)
		}
		scoreRepo = database.NewScoreRepository(db.DB)
		resultRepo = database.NewResultRepository(db.DB)
		pinger = db
	} else {
		log.Println("warning: DATABASE_URL is not set, scores will be kept in memory only")
		scoreRepo = database.NewMemoryScoreRepository()
		resultRepo = database.NewMemoryResultRepository()
	}
	if cfg.BypassAuth {
		log.Println("warning: BYPASS_AUTH is enabled, JWT verification is skipped")
	}

	sessionManager := tetris.NewSessionManager(scoreRepo, resultRepo, cfg.GridRows, cfg.GridCols)
	auth := middleware.NewAuthenticator(cfg.JWTSecret, cfg.BypassAuth)

	router := handlers.NewRouter(handlers.RouterConfig{
		Games:          handlers.NewGameHandler(sessionManager, auth, cfg.AllowedOrigins),
		Results:        handlers.NewResultHandler(resultRepo, scoreRepo),
		Public:         handlers.NewPublicHandler(pinger, sessionManager),
		Auth:           auth,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("Server starting on :%s (grid %dx%d)", cfg.Port, cfg.GridRows, cfg.GridCols)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// 新しいリクエストを止めてから、ゲームループと結果の保存を待つ
		serverErr := server.Shutdown(shutdownCtx)
		sessionErr := sessionManager.Shutdown(shutdownCtx)
		return errors.Join(serverErr, sessionErr)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server stopped")
}
