package db

import (
	"fmt"
	"io"
	"io/fs"
	"strconv"
)

// RunMigrateCommand handles the 'migrate' subcommand: up, down, status or
// force <version>. Output goes to out.
func RunMigrateCommand(args []string, dbPath string, out io.Writer) error {
	if len(args) < 1 {
		PrintMigrateHelp(out)
		return fmt.Errorf("missing migrate action")
	}

	// Open without migrating: the command decides what to apply.
	database, err := OpenDB(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	migrationsFS := MigrationsFS()

	switch action := args[0]; action {
	case "up":
		if err := database.MigrateUp(migrationsFS); err != nil {
			return err
		}
		fmt.Fprintln(out, "All migrations applied")
	case "down":
		if err := database.MigrateDown(migrationsFS); err != nil {
			return err
		}
		fmt.Fprintln(out, "Rolled back one migration")
	case "status":
	case "force":
		if len(args) < 2 {
			return fmt.Errorf("usage: uwbfollow migrate force <version>")
		}
		version, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[1], err)
		}
		if err := database.MigrateForce(migrationsFS, version); err != nil {
			return err
		}
	case "help":
		PrintMigrateHelp(out)
		return nil
	default:
		PrintMigrateHelp(out)
		return fmt.Errorf("unknown migrate action: %s", action)
	}

	return printMigrateStatus(database, migrationsFS, out)
}

func printMigrateStatus(database *DB, migrationsFS fs.FS, out io.Writer) error {
	version, dirty, err := database.MigrateVersion(migrationsFS)
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	latest, err := LatestMigrationVersion(migrationsFS)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Current version: %d (latest %d, dirty: %v)\n", version, latest, dirty)
	if dirty {
		fmt.Fprintln(out, "A migration failed mid-execution; inspect the database and run 'migrate force <version>'.")
	}
	return nil
}

// PrintMigrateHelp prints usage for the migrate subcommand.
func PrintMigrateHelp(out io.Writer) {
	fmt.Fprint(out, `Usage: uwbfollow migrate <action> [args]

Actions:
  up                 Apply all pending migrations
  down               Roll back the most recent migration
  status             Show the current schema version
  force <version>    Record <version> as applied without running it
  help               Show this help
`)
}
