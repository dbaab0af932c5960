package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"

	"ms-booking/internal/config"
	"ms-booking/internal/database/migrations"
	"ms-booking/internal/logger"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

func main() {
	down := flag.Bool("down", false, "roll back every migration instead of applying them")
	dir := flag.String("dir", "", "migrations directory (defaults to MIGRATIONS_DIR)")
	flag.Parse()

	log := logger.NewLoggerWithWriter(os.Stdout)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("CONFIG", err.Error())
	}
	if *dir != "" {
		cfg.Database.MigrationsDir = *dir
	}

	sqldb, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	opts := migrations.DefaultOptions()
	if cfg.Database.MigrationsDir != "" {
		opts.MigrationsDir = cfg.Database.MigrationsDir
	}
	runner := migrations.NewRunner(bun.NewDB(sqldb, pgdialect.New()), opts, log)
	defer runner.Close()

	if *down {
		err = runner.MigrateDown()
	} else {
		err = runner.RunMigrations()
	}
	if err != nil {
		log.Fatal("MIGRATE", err.Error())
	}
	log.Info("MIGRATE", fmt.Sprintf("done (down=%v)", *down))
}
