package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"chatterfix/internal/auth"
	"chatterfix/internal/config"
	"chatterfix/internal/events"
	"chatterfix/internal/logs"
	"chatterfix/internal/monitor"
	"chatterfix/internal/store"
	"chatterfix/types"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version is set at compile time
var Version = "dev"

var (
	envFile      string
	settingsFile string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "chatterfix",
	Short: "ChatterFix maintenance management server",
	Long: `ChatterFix is a computerized maintenance management system: work orders,
assets, parts inventory, preventive maintenance, health monitoring with
automatic recovery, and AI-assisted troubleshooting.

Running chatterfix without a subcommand starts the server.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadEnv()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), serveOptions{})
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("chatterfix", Version)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		st, err := openStore(ctx, settings.GetSettings())
		if err != nil {
			return err
		}
		defer st.Close()

		version, err := st.SchemaVersion(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("✅ %s schema at version %d\n", st.Driver(), version)
		return nil
	},
}

var checkJSON bool

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Probe every monitored service once and print the result",
	Long:  `Runs one health check cycle without recovery side effects on the server and exits non-zero if any target is down.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		cfg := settings.GetSettings()

		mon := monitor.NewMonitor(cfg.Monitor, events.NewBus(10), logs.NewLogger(100, logs.INFO))
		states := mon.RunOnce(cmd.Context())

		if checkJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(mon.Report()); err != nil {
				return err
			}
		} else {
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TARGET\tSTATUS\tCODE\tLATENCY\tERROR")
			for _, st := range states {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%dms\t%s\n", st.Target.Name, st.Status, st.LastStatusCode, st.LastLatencyMS, st.LastError)
			}
			tw.Flush()
		}

		for _, st := range states {
			if st.Status == monitor.StatusDown {
				return fmt.Errorf("target %s is down", st.Target.Name)
			}
		}
		return nil
	},
}

var (
	newUsername string
	newPassword string
	newEmail    string
	newRole     string
)

var createUserCmd = &cobra.Command{
	Use:   "create-user",
	Short: "Create a user account",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		role := types.Role(newRole)
		if !role.Valid() {
			return fmt.Errorf("unknown role %q", newRole)
		}
		hash, err := auth.HashPassword(newPassword)
		if err != nil {
			return err
		}

		settings, err := loadSettings()
		if err != nil {
			return err
		}
		st, err := openStore(ctx, settings.GetSettings())
		if err != nil {
			return err
		}
		defer st.Close()

		user := &types.User{Username: newUsername, Email: newEmail, Role: role, Active: true, PasswordHash: hash}
		if err := st.CreateUser(ctx, user); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return fmt.Errorf("user %s already exists", newUsername)
			}
			return err
		}
		fmt.Printf("✅ Created %s user %s (id %d)\n", user.Role, user.Username, user.ID)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	rootCmd.PersistentFlags().StringVar(&settingsFile, "settings", os.Getenv("CHATTERFIX_SETTINGS_FILE"), "JSON settings file; API changes are saved back to it")

	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "print the full health report as JSON")

	createUserCmd.Flags().StringVar(&newUsername, "username", "", "login name")
	createUserCmd.Flags().StringVar(&newPassword, "password", "", "password (at least 8 characters)")
	createUserCmd.Flags().StringVar(&newEmail, "email", "", "email address")
	createUserCmd.Flags().StringVar(&newRole, "role", string(types.RoleTechnician), "viewer, technician, manager or admin")
	_ = createUserCmd.MarkFlagRequired("username")
	_ = createUserCmd.MarkFlagRequired("password")

	rootCmd.AddCommand(serveCmd, migrateCmd, checkCmd, createUserCmd, versionCmd)
}

func loadEnv() {
	if err := godotenv.Load(envFile); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Printf("⚠️  Failed to load %s: %v", envFile, err)
		}
		return
	}
	log.Printf("✅ %s loaded", envFile)
}

// loadSettings reads the environment, the targets file and, if present, the settings file
func loadSettings() (*config.SettingsManager, error) {
	cfg := config.Load()
	if err := cfg.ApplyTargetsFile(); err != nil {
		return nil, err
	}

	settings := config.NewSettingsManager(cfg)
	if settingsFile != "" {
		if _, err := os.Stat(settingsFile); err == nil {
			if err := settings.LoadFromFile(settingsFile); err != nil {
				return nil, err
			}
			log.Printf("✅ Settings loaded from %s", settingsFile)
		}
	}
	return settings, nil
}

func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	if cfg.Database.Driver == "sqlite" {
		if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return store.Open(ctx, store.Options{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
}
