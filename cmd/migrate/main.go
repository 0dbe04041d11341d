package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"go.uber.org/zap"

	"github.com/ArpitGupta4957/yt-title-doctor/internal/config"
	"github.com/ArpitGupta4957/yt-title-doctor/internal/migrate"
	"github.com/ArpitGupta4957/yt-title-doctor/internal/version"
	"github.com/ArpitGupta4957/yt-title-doctor/pkg/logger"
)

func main() {
	timeout := flag.Duration("timeout", 2*time.Minute, "Overall timeout")
	to := flag.String("to", "", "Target version for 'up' (default: latest)")
	flag.Usage = func() {
		fmt.Println("Usage: migrate [-timeout=2m] [-to=<version>] <up|down|status|version>")
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	log, err := logger.NewZapLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	var dbCfg config.DatabaseConfig
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dbCfg = config.DatabaseConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "titledoctor"),
			Password: getEnv("POSTGRES_PASSWORD", ""),
			Database: getEnv("POSTGRES_DB", "titledoctor"),
			SSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),
		}
		dsn = dbCfg.DSN()
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	m, err := migrate.NewMigrator(db, log)
	if err != nil {
		log.Fatal("create migrator", zap.Error(err))
	}

	log.Info("migrate", zap.String("command", flag.Arg(0)), zap.String("build", version.Info().String()))

	switch flag.Arg(0) {
	case "up":
		if *to != "" {
			v, perr := strconv.ParseInt(*to, 10, 64)
			if perr != nil {
				log.Fatal("invalid -to version", zap.String("to", *to), zap.Error(perr))
			}
			err = m.UpTo(ctx, v)
		} else {
			err = m.Up(ctx)
		}
	case "down":
		err = m.Down(ctx)
	case "status":
		err = m.Status(ctx, os.Stdout)
	case "version":
		var v int64
		v, err = m.Version(ctx)
		if err == nil {
			fmt.Println(v)
		}
	default:
		flag.Usage()
		os.Exit(1)
	}

	if err != nil {
		log.Error("migration command failed", zap.Error(err))
		os.Exit(1)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
