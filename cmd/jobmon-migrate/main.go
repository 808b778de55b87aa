/*
Command jobmon-migrate applies or rolls back the schema migrations
embedded under migrations/ using github.com/pressly/goose/v3, which
understands "apply forward," "roll back one," and "report current
version" against a relational schema out of the box.
*/
package main

import (
	"database/sql"
	"fmt"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	"github.com/ihmeuw-scicomp/jobmon/migrations"
)

var dsn string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "jobmon-migrate",
	Short: "Apply Jobmon schema migrations",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", os.Getenv("JOBMON_DB_DSN"), "Postgres connection string")
	rootCmd.AddCommand(upCmd, downCmd, statusCmd)
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := open()
		if err != nil {
			return err
		}
		defer db.Close()
		return goose.Up(db, ".")
	},
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "roll back the most recently applied migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := open()
		if err != nil {
			return err
		}
		defer db.Close()
		return goose.Down(db, ".")
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "print the current migration version",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := open()
		if err != nil {
			return err
		}
		defer db.Close()
		return goose.Status(db, ".")
	},
}

func open() (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("--dsn or JOBMON_DB_DSN must be set")
	}
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, err
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}
