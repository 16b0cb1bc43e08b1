package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/progate-hackathon-strawberry-flavor/tetris-engine/internal/config"
	"github.com/progate-hackathon-strawberry-flavor/tetris-engine/internal/database"
)

func main() {
	migrate := flag.Bool("migrate", false, "テーブルが無ければ作成する")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("エラー: 設定の読み込みに失敗しました: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("エラー: DATABASE_URL 環境変数が設定されていません。")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fmt.Println("テスト開始: データベース接続を試行中...")
	db, err := database.NewDatabaseService(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("エラー: %v", err)
	}
	defer db.Close()
	fmt.Println("成功: データベースに正常に接続し、Pingが成功しました！")

	var version string
	if err := db.DB.QueryRowContext(ctx, "SELECT version()").Scan(&version); err != nil {
		log.Printf("警告: SELECT version() クエリの実行に失敗しました: %v", err)
	} else {
		fmt.Printf("データベースバージョン: %s\n", version)
	}

	if *migrate {
		if err := db.EnsureSchema(ctx); err != nil {
			log.Fatalf("エラー: %v", err)
		}
		fmt.Println("成功: player_scores / results テーブルを確認しました。")
	}
}
