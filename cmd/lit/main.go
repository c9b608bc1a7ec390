// Package main provides the lit CLI entry point.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/matsen/litreview/internal/config"
	"github.com/matsen/litreview/internal/importer"
	"github.com/matsen/litreview/internal/service"
	"github.com/matsen/litreview/internal/storage"
)

// Version is set at build time via ldflags
var Version = "dev"

var (
	humanOutput bool
	verbose     bool
	configPath  string
	dbPath      string
	userName    string
	projectID   int64
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Print the error since we have SilenceErrors: true
		// This ensures Cobra errors (like missing required flags) are visible
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(ExitError)
	}
}

var rootCmd = &cobra.Command{
	Use:   "lit",
	Short: "Literature import, deduplication and review tagging",
	Long: `lit manages the literature of systematic review projects.

Core features:
  - Import from PubMed and HERO searches, id lists, RIS exports and PDFs
  - Deduplicate records across sources by PMID, HERO id, DOI and more
  - Tag references in a per-project hierarchical taxonomy
  - Reconcile independent reviewer passes and flag conflicts
  - Filter references by tags, reviewer activity and workflows

All commands output JSON by default; use --human for readable output.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = godotenv.Load()
		log.SetOutput(os.Stderr)
		if verbose {
			log.SetLevel(log.DebugLevel)
		}
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.BoolVar(&humanOutput, "human", false, "Use human-readable output instead of JSON")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Log debug output to stderr")
	flags.StringVar(&configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/lit/config.yml)")
	flags.StringVar(&dbPath, "db", "", "Database file (overrides config and "+config.EnvDB+")")
	flags.StringVarP(&userName, "user", "u", defaultUser(), "Acting user, for access checks and reviewer passes")
	rootCmd.Version = Version
}

// addProjectFlag adds the required --project flag to cmd.
func addProjectFlag(cmd *cobra.Command) {
	cmd.Flags().Int64VarP(&projectID, "project", "p", 0, "Project ID")
	_ = cmd.MarkFlagRequired("project")
}

func defaultUser() string {
	if u := os.Getenv("LIT_USER"); u != "" {
		return u
	}
	return os.Getenv("USER")
}

// mustLoadConfig loads configuration, exits on error.
func mustLoadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		exitWithError(ExitConfigError, "loading config: %v", err)
	}
	if dbPath != "" {
		cfg.DBPath = config.ExpandPath(dbPath)
	}
	return cfg
}

// mustOpenDatabase opens the SQLite database, exits on error.
// The caller is responsible for calling Close() on the returned DB.
func mustOpenDatabase(cfg *config.Config) *storage.DB {
	db, err := storage.OpenDB(cfg.DBPath)
	if err != nil {
		exitWithError(ExitError, "opening database: %v", err)
	}
	return db
}

// mustOpenService wires the service from configuration. The caller closes
// the returned DB.
func mustOpenService() (*service.Service, *storage.DB) {
	cfg := mustLoadConfig()
	db := mustOpenDatabase(cfg)

	opts := []importer.Option{
		importer.WithMaxResults(cfg.MaxResults),
		importer.WithFetchLimits(cfg.FetchChunkSize, cfg.FetchConcurrency),
	}
	for _, src := range cfg.Sources() {
		opts = append(opts, importer.WithSource(src))
	}
	imp := importer.NewEngine(db, opts...)

	log.WithFields(log.Fields{"db": cfg.DBPath, "user": userName}).Debug("opened database")
	return service.New(db, cfg.Checker(), imp, service.WithRequiredReviewers(cfg.RequiredReviewers)), db
}
