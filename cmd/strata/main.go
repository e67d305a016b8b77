// cmd/strata/main.go
//
// Strata CLI - smoke-test harness over the KV primitive and the engine's
// lifecycle/integrity operations.
//
// Usage:
//
//	strata open [--db PATH]
//	strata put KEY VALUE [--db PATH] [--run ID]
//	strata get KEY [--db PATH] [--run ID]
//	strata history KEY [--db PATH] [--run ID] [--limit N]
//	strata status [--db PATH]
//
// spec.md §1 leaves the CLI surface unspecified; this is a thin cobra
// front end over pkg/engine and pkg/kv, not a specified deliverable.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"strata/pkg/engine"
	"strata/pkg/kv"
	"strata/pkg/strlog"
	"strata/pkg/types"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "strata",
	Short: "Strata - an embedded, MVCC-backed multi-primitive store",
	Long: `Strata is an embedded store combining a snapshot-isolated MVCC
substrate with a handful of primitive data models (KV, JSON, Event,
State, Vector) layered over it, all partitioned by run.`,
}

func init() {
	rootCmd.PersistentFlags().String("db", "./strata-data", "database directory")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(openCmd, putCmd, getCmd, historyCmd, statusCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	strlog.Init(strlog.Config{Level: strlog.Level(level)})
}

func openDatabase(cmd *cobra.Command) (*engine.Database, error) {
	dir, _ := cmd.Flags().GetString("db")
	return engine.Open(dir, engine.DefaultConfig())
}

func parseRunID(cmd *cobra.Command) (uuid.UUID, error) {
	raw, _ := cmd.Flags().GetString("run")
	if raw == "" {
		return types.DefaultRunID, nil
	}
	return uuid.Parse(raw)
}

var openCmd = &cobra.Command{
	Use:   "open",
	Short: "Open the database, running recovery, then close it",
	Long: `Open runs the same open path every other subcommand takes -
directory lock, MANIFEST read-or-create, WAL recovery - and reports the
database uuid and recovered watermark, without leaving anything running.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase(cmd)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		fmt.Printf("database: %s\n", db.Path())
		fmt.Printf("uuid:     %s\n", db.DatabaseUUID())
		fmt.Printf("watermark: %d\n", db.Store().CurrentVersion())
		return nil
	},
}

var putCmd = &cobra.Command{
	Use:   "put KEY VALUE",
	Short: "Write a string value under KEY",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, err := parseRunID(cmd)
		if err != nil {
			return fmt.Errorf("invalid --run: %w", err)
		}
		db, err := openDatabase(cmd)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		store := kv.New(db.Store(), db.Txns())
		if err := kv.Put(context.Background(), store, nil, runID, []byte(args[0]), types.String(args[1]), 0); err != nil {
			return fmt.Errorf("put: %w", err)
		}
		fmt.Printf("ok\n")
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Read the latest value under KEY",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, err := parseRunID(cmd)
		if err != nil {
			return fmt.Errorf("invalid --run: %w", err)
		}
		db, err := openDatabase(cmd)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		store := kv.New(db.Store(), db.Txns())
		value, version, found, err := kv.Get(store, nil, runID, []byte(args[0]))
		if err != nil {
			return fmt.Errorf("get: %w", err)
		}
		if !found {
			fmt.Printf("(not found)\n")
			return nil
		}
		fmt.Printf("%s\n", formatValue(value))
		fmt.Printf("version: %s\n", formatVersion(version))
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history KEY",
	Short: "List versions of KEY, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, err := parseRunID(cmd)
		if err != nil {
			return fmt.Errorf("invalid --run: %w", err)
		}
		limit, _ := cmd.Flags().GetInt("limit")
		db, err := openDatabase(cmd)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		store := kv.New(db.Store(), db.Txns())
		entries := kv.History(store, runID, []byte(args[0]), limit, 0)
		if len(entries) == 0 {
			fmt.Printf("(no history)\n")
			return nil
		}
		for _, e := range entries {
			state := formatValue(e.Value)
			if e.Tombstone {
				state = "(deleted)"
			}
			fmt.Printf("%s  %d  %s\n", formatVersion(e.Version), e.Timestamp, state)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report watermark and run integrity checks",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase(cmd)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		fmt.Printf("database:  %s\n", db.Path())
		fmt.Printf("uuid:      %s\n", db.DatabaseUUID())
		fmt.Printf("watermark: %d\n", db.Store().CurrentVersion())

		violations := db.CheckIntegrity()
		if len(violations) == 0 {
			fmt.Printf("integrity: ok\n")
			return nil
		}
		fmt.Printf("integrity: %d violation(s)\n", len(violations))
		for _, v := range violations {
			fmt.Printf("  - %s\n", v)
		}
		return nil
	},
}

func init() {
	putCmd.Flags().String("run", "", "run id (uuid), defaults to the global namespace")
	getCmd.Flags().String("run", "", "run id (uuid), defaults to the global namespace")
	historyCmd.Flags().String("run", "", "run id (uuid), defaults to the global namespace")
	historyCmd.Flags().Int("limit", 0, "maximum number of versions to show (0 = unbounded)")
}

func formatValue(v types.Value) string {
	switch v.Kind() {
	case types.KindNull:
		return "null"
	case types.KindBool:
		if v.AsBool() {
			return "true"
		}
		return "false"
	case types.KindInt:
		return fmt.Sprintf("%d", v.AsInt())
	case types.KindFloat:
		return fmt.Sprintf("%g", v.AsFloat())
	case types.KindString:
		return v.AsString()
	case types.KindBytes:
		return fmt.Sprintf("%x", v.AsBytes())
	default:
		return fmt.Sprintf("%v", v)
	}
}

func formatVersion(v types.Version) string {
	return fmt.Sprintf("%s(%d)", v.Kind, v.N)
}
