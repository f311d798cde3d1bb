package main

import (
	"context"
	"flag"
	"net/http"
	"os"

	"github.com/2beens/liftlog/internal/backup"
	"github.com/2beens/liftlog/internal/config"
	"github.com/2beens/liftlog/internal/db"
	"github.com/2beens/liftlog/internal/logging"
	"github.com/2beens/liftlog/internal/telemetry/metrics"
	"github.com/2beens/liftlog/internal/workouts/remote"

	"github.com/prometheus/client_golang/prometheus/push"
	log "github.com/sirupsen/logrus"
)

func main() {
	env := flag.String("env", "development", "environment [prod | production | dev | development]")
	configPath := flag.String("config", "./config.toml", "path for the TOML config file")
	userID := flag.String("user", "", "id of the user to back up")
	outDir := flag.String("out", "./backups", "directory the backup file is written to")
	credentialsFile := flag.String("gd-creds", "", "google drive service account credentials json (empty to skip the upload)")
	folderName := flag.String("gd-folder", "liftlog-backups", "google drive folder for backups")
	pushgatewayURL := flag.String("pushgateway", "", "prometheus pushgateway url for backup metrics (empty to skip)")
	logsPath := flag.String("logs-path", "", "backup logs file path (empty for stdout)")
	flag.Parse()

	logging.Setup(logging.LoggerSetupParams{
		LogFileName: *logsPath,
		LogToStdout: true,
		LogLevel:    "debug",
	})

	log.Println("starting workouts backup ...")

	if *userID == "" {
		log.Fatalln("user id not specified, use -user")
	}

	cfg, err := config.Load(*env, *configPath)
	if err != nil {
		log.Fatalf("load config: %s", err)
	}

	ctx := context.Background()
	var store remote.Store
	switch cfg.RemoteBackend {
	case "postgres":
		dbPool, err := db.NewDBPool(ctx, db.NewDBPoolParams{
			DBHost:     cfg.PostgresHost,
			DBPort:     cfg.PostgresPort,
			DBName:     cfg.PostgresDBName,
			DBPassword: os.Getenv("LIFTLOG_POSTGRES_PASS"),
		})
		if err != nil {
			log.Fatalf("db pool: %s", err)
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

	promRegistry := metrics.NewRegistry(metrics.RegistryParams{Process: "backup"})
	params := backup.RunParams{
		Source:         store,
		UserID:         *userID,
		OutDir:         *outDir,
		MetricsManager: metrics.NewManager("backend", "backup", promRegistry),
	}

	if *credentialsFile != "" {
		credentialsFileBytes, err := os.ReadFile(*credentialsFile)
		if err != nil {
			log.Fatalf("unable to read google drive credentials file: %s", err)
		}
		uploader, err := backup.NewDriveUploader(ctx, credentialsFileBytes, *folderName)
		if err != nil {
			log.Fatalf("failed to create google drive uploader: %s", err)
		}
		log.Debugf("uploading to google drive folder %s [%s]", *folderName, uploader.FolderID())
		params.Uploader = uploader
	}

	result, err := backup.Run(ctx, params)

	if *pushgatewayURL != "" {
		pushErr := push.New(*pushgatewayURL, "liftlog_backup").
			Grouping("user", *userID).
			Gatherer(promRegistry).
			Push()
		if pushErr != nil {
			log.Errorf("push backup metrics: %s", pushErr)
		}
	}

	if err != nil {
		log.Fatalf("backup failed: %s", err)
	}
	log.Printf("backup done: %d workouts, file: %s, drive file id: [%s]", result.Count, result.Path, result.FileID)
}
