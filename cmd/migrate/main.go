package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"

	_ "github.com/lib/pq"

	"github.com/aihub/knowledge-go/internal/config"
	"github.com/aihub/knowledge-go/internal/database"
	"github.com/aihub/knowledge-go/internal/logger"
)

func main() {
	action := flag.String("action", "up", "Migration action: up, down, version, force")
	version := flag.Int("version", 0, "Target version for up/force")
	path := flag.String("path", "./migrations", "Migrations directory")
	flag.Parse()

	if err := config.LoadConfig(); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := logger.InitLogger(); err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	db, err := sql.Open("postgres", config.AppConfig.Database.URL)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("failed to ping database: %v", err)
	}

	factory := database.NewMigrationManagerFactory(*path, logger.GetLogger())
	manager, err := factory.CreateManager(db)
	if err != nil {
		log.Fatalf("failed to create migration manager: %v", err)
	}
	defer manager.Close()

	switch *action {
	case "up":
		if *version > 0 {
			err = manager.UpTo(uint(*version))
		} else {
			err = manager.Up()
		}
		if err != nil {
			log.Fatalf("migration up failed: %v", err)
		}
		fmt.Println("migrations applied")
	case "down":
		if err := manager.Down(); err != nil {
			log.Fatalf("migration down failed: %v", err)
		}
		fmt.Println("migration rolled back")
	case "version":
		v, dirty, err := manager.Version()
		if err != nil {
			log.Fatalf("failed to read version: %v", err)
		}
		fmt.Printf("version: %d dirty: %v\n", v, dirty)
	case "force":
		if err := manager.ForceVersion(uint(*version)); err != nil {
			log.Fatalf("force version failed: %v", err)
		}
		fmt.Printf("forced version to %d\n", *version)
	default:
		log.Fatalf("unknown action: %s", *action)
	}
}
