// Package main runs the liftlog stats MCP server over stdio for one user,
// reading workouts straight from the remote store.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"

	"github.com/2beens/liftlog/internal/config"
	"github.com/2beens/liftlog/internal/db"
	"github.com/2beens/liftlog/internal/workouts/remote"
	workoutsmcp "github.com/2beens/liftlog/internal/workouts/mcp"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	log "github.com/sirupsen/logrus"
)

func main() {
	env := flag.String("env", "development", "environment [prod | production | dev | development]")
	configPath := flag.String("config", "./config.toml", "path to TOML config file")
	userID := flag.String("user", "", "id of the user whose workouts are exposed")
	flag.Parse()

	// stdout carries the MCP protocol
	log.SetOutput(os.Stderr)

	if *userID == "" {
		log.Fatalln("user id not specified, use -user")
	}

	cfg, err := config.Load(*env, *configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx := context.Background()
	var store remote.Store
	switch cfg.RemoteBackend {
	case "postgres":
		dbPool, err := db.NewDBPool(ctx, db.NewDBPoolParams{
			DBHost:         cfg.PostgresHost,
			DBPort:         cfg.PostgresPort,
			DBName:         cfg.PostgresDBName,
			DBPassword:     os.Getenv("LIFTLOG_POSTGRES_PASS"),
			TracingEnabled: false,
		})
		if err != nil {
			log.Fatalf("db pool: %v", err)
		}
		defer dbPool.Close()
		store = remote.NewPgStore(dbPool)
	case "rest":
		store = remote.NewRestStore(
			cfg.DataApiURL,
			os.Getenv("LIFTLOG_DATA_API_KEY"),
			&http.Client{Timeout: cfg.RemoteTimeout.Duration},
		)
	default:
		log.Fatalf("unknown remote backend: %s", cfg.RemoteBackend)
	}

	server := workoutsmcp.NewServer(store, *userID)
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		log.Fatal(err)
	}
}
