package main

import (
	"fmt"
	"os"
	"time"

	"github.com/ashureev/citycast/internal/warehouse"
	"github.com/spf13/cobra"
)

var (
	seedDriver string
	seedDSN    string
)

var seedCmd = &cobra.Command{
	Use:   "seed <file.csv>",
	Short: "Load anomaly rows from CSV into the SQL warehouse",
	Long: `Loads anomaly rows into a SQLite or Postgres warehouse, creating the table if needed.

The CSV needs a header row. Recognised columns are event_type, sub_event_type,
area_name, street_name (required), city, description, severity_score and
observed_at (RFC 3339 or Unix seconds, defaulting to now).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		records, err := warehouse.ReadCSV(f, time.Now())
		if err != nil {
			return err
		}

		driver, dsn := seedTarget()
		store, err := warehouse.OpenSQL(driver, dsn)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Insert(ctx, records); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Loaded %d anomaly rows into %s\n", len(records), driver)
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedDriver, "driver", "", "sqlite or postgres (default WAREHOUSE_DRIVER, else sqlite)")
	seedCmd.Flags().StringVar(&seedDSN, "dsn", "", "database file or connection string (default WAREHOUSE_DSN)")
}

// seedTarget resolves flags against the environment, loaded after init.
func seedTarget() (driver, dsn string) {
	driver, dsn = seedDriver, seedDSN
	if driver == "" {
		driver = os.Getenv("WAREHOUSE_DRIVER")
		if driver != warehouse.DriverPostgres {
			driver = warehouse.DriverSQLite
		}
	}
	if dsn == "" {
		dsn = os.Getenv("WAREHOUSE_DSN")
	}
	if dsn == "" {
		dsn = "./data/anomalies.db"
	}
	return driver, dsn
}
