package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"trendlab/internal/app"
	"trendlab/internal/config"
	"trendlab/internal/database"
)

func main() {
	var (
		configPath = flag.String("config", "", "配置文件路径")
		up         = flag.Bool("up", false, "运行数据库迁移")
		down       = flag.Bool("down", false, "回滚数据库迁移")
		version    = flag.Bool("version", false, "显示当前迁移版本")
		force      = flag.Int("force", -1, "强制设置迁移版本（用于修复脏状态）")
		help       = flag.Bool("help", false, "显示帮助信息")
	)
	flag.Parse()

	if *help {
		showHelp()
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("加载配置文件失败: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := database.Connect(ctx, app.DatabaseConfig(cfg.Database))
	if err != nil {
		log.Fatalf("连接数据库失败: %v", err)
	}

	// Close 会同时关闭 db
	migrator, err := database.NewMigrator(db)
	if err != nil {
		db.Close()
		log.Fatalf("创建迁移器失败: %v", err)
	}
	defer migrator.Close()

	switch {
	case *up:
		runUp(migrator)
	case *down:
		if err := migrator.Down(); err != nil {
			log.Fatalf("回滚迁移失败: %v", err)
		}
		fmt.Println("✅ 数据库迁移已回滚")
	case *version:
		v, err := migrator.Version()
		if err != nil {
			log.Fatalf("获取版本失败: %v", err)
		}
		fmt.Printf("当前迁移版本: %d\n", v)
	case *force >= 0:
		if err := migrator.Force(*force); err != nil {
			log.Fatalf("强制设置版本失败: %v", err)
		}
		fmt.Printf("✅ 迁移版本已设置为 %d\n", *force)
	default:
		runUp(migrator)
	}
}

func runUp(migrator *database.Migrator) {
	if err := migrator.Up(); err != nil {
		log.Fatalf("运行迁移失败: %v", err)
	}
	v, _ := migrator.Version()
	fmt.Printf("✅ 数据库迁移完成, 版本 %d\n", v)
}

func showHelp() {
	fmt.Println(`数据库迁移工具

用法:
  migrate [选项]

选项:
  -config string  配置文件路径 (可选, 环境变量 TRENDLAB_DATABASE_* 同样生效)
  -up             运行所有待执行的迁移 (默认)
  -down           回滚所有迁移
  -version        显示当前迁移版本
  -force int      强制设置迁移版本, 用于修复脏状态
  -help           显示帮助信息`)
}
