package cmd

import (
	"example.com/backstage/services/telemetry/config"
	"example.com/backstage/services/telemetry/internal/database"

	"github.com/spf13/cobra"
)

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long: `Runs database migrations to ensure the device table, and the event table
when the postgres sink is configured, are up-to-date.`,
	Run: func(cmd *cobra.Command, args []string) {
		runMigration()
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

// runMigration executes the database migrations
func runMigration() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := connectDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer closeDatabase(db)

	log.Info("Running database migrations...")
	if err := database.AutoMigrate(db, cfg.Sink.Backend == config.SinkPostgres); err != nil {
		log.Errorf("Failed to run database migrations: %v", err)
		return
	}

	log.Info("Database migrations completed successfully")
}
