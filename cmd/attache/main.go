package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"attache/internal/app"
	"attache/internal/attache"
	"attache/internal/config"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// readConfig reads the config file named by the defaults.
func readConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config and creates an App. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Attach", "RefreshFormats").
func newApp(ctx context.Context, operation string, params ...string) (*app.App, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewApp(ctx, cfg, operation, params...)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// readPassphrase prompts on the terminal without echo.
func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

var rootCmd = &cobra.Command{
	Use:          "attache",
	Short:        "Attach files to records and derive styled variants",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration and database",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults.BaseDir)
		cfg.WorkDir = defaults.WorkDir

		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		if err := app.MigrateDatabase(cfg); err != nil {
			return err
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Base Dir: %s\n", defaults.BaseDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		cfg, err := config.ReadFromFile(defaults.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults.ConfigPath)
		fmt.Printf("Model:     %s\n", cfg.Model)
		fmt.Printf("Directory: %s\n", cfg.Directory)
		fmt.Printf("Storage:   %s (encrypt=%v)\n", cfg.Storage.Provider, cfg.Storage.Encrypt)
		fmt.Printf("Database:  %s\n", cfg.Database.Type)
		fmt.Printf("Base Dir:  %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:   %s\n", cfg.LogDir)

		props := make([]string, 0, len(cfg.Properties))
		for name := range cfg.Properties {
			props = append(props, name)
		}
		sort.Strings(props)
		for _, name := range props {
			styles := make([]string, 0, len(cfg.Properties[name].Styles))
			for style := range cfg.Properties[name].Styles {
				styles = append(styles, style)
			}
			sort.Strings(styles)
			fmt.Printf("Property:  %s [%s]\n", name, strings.Join(styles, ", "))
		}
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the age key pair used for encrypted storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}

		pass, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := readPassphrase("Confirm passphrase: ")
		if err != nil {
			return err
		}
		if pass != confirm {
			return fmt.Errorf("passphrases do not match")
		}

		if err := app.SetupKeys(cfg, pass); err != nil {
			return fmt.Errorf("setting up keys: %w", err)
		}
		fmt.Printf("Keys written to %s and %s\n", cfg.Encryption.PublicKeyPath, cfg.Encryption.PrivateKeyPath)
		return nil
	},
}

var decryptCmd = &cobra.Command{
	Use:   "decrypt IN OUT",
	Short: "Decrypt a stored file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		pass, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}
		if err := app.Decrypt(cfg, pass, args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("Decrypted %s to %s\n", args[0], args[1])
		return nil
	},
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the record database",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		if err := app.MigrateDatabase(cfg); err != nil {
			return err
		}
		fmt.Println("Database is up to date.")
		return nil
	},
}

var dbBackupCmd = &cobra.Command{
	Use:   "backup DEST",
	Short: "Copy the record database to DEST",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "BackupDatabase", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.BackupDatabase(args[0]); err != nil {
			return err
		}
		fmt.Printf("Database copied to %s\n", args[0])
		return nil
	},
}

// formats command
var formatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "Manage processable source formats",
}

var formatsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List processable formats",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "ListFormats")
		if err != nil {
			return err
		}
		defer a.Close()

		for _, f := range a.Formats() {
			fmt.Println(f)
		}
		return nil
	},
}

var formatsAddCmd = &cobra.Command{
	Use:   "add NAME...",
	Short: "Mark formats as processable",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "RegisterFormat", args...)
		if err != nil {
			return err
		}
		defer a.Close()

		for _, name := range args {
			if err := a.RegisterFormat(name); err != nil {
				return err
			}
		}
		fmt.Printf("Registered %d format(s)\n", len(args))
		return nil
	},
}

var formatsRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Replace the processable formats with those the engine supports",
	RunE: func(cmd *cobra.Command, args []string) error {
		var flags attache.CapabilityFlags
		flags.Read, _ = cmd.Flags().GetBool("read")
		flags.Write, _ = cmd.Flags().GetBool("write")
		flags.Multi, _ = cmd.Flags().GetBool("multi")
		flags.Blob, _ = cmd.Flags().GetBool("blob")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		a, err := newApp(cmd.Context(), "RefreshFormats")
		if err != nil {
			return err
		}
		defer a.Close()

		formats, err := a.RefreshFormats(cmd.Context(), flags, dryRun)
		if err != nil {
			return err
		}
		for _, f := range formats {
			fmt.Println(f)
		}
		if dryRun {
			fmt.Printf("%d format(s) match (not installed)\n", len(formats))
		} else {
			fmt.Printf("Installed %d format(s)\n", len(formats))
		}
		return nil
	},
}

// record command
var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Manage records",
}

var recordCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a record",
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetStringArray("field")
		fields := make(map[string]string, len(raw))
		for _, kv := range raw {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				return fmt.Errorf("invalid field %q, want key=value", kv)
			}
			fields[k] = v
		}

		a, err := newApp(cmd.Context(), "CreateRecord")
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.CreateRecord(fields)
		if err != nil {
			return err
		}
		fmt.Println(rec.ID)
		return nil
	},
}

var recordShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show a record and its attachments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "GetRecord", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.GetRecord(args[0])
		if err != nil {
			return err
		}
		return printRecord(rec)
	},
}

// attach command
var attachCmd = &cobra.Command{
	Use:   "attach RECORD_ID PROPERTY PATH",
	Short: "Attach a file to a record property",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")

		a, err := newApp(cmd.Context(), "Attach", args...)
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.Attach(cmd.Context(), args[0], args[1], args[2], name)
		if err != nil {
			return fmt.Errorf("attach failed: %w", err)
		}
		return printRecord(rec)
	},
}

func printRecord(rec *attache.Record) error {
	out := struct {
		ID          string                                     `json:"id"`
		Model       string                                     `json:"model"`
		Fields      map[string]string                          `json:"fields"`
		Attachments map[string]map[string]*attache.StyleResult `json:"attachments"`
		CreatedAt   string                                     `json:"createdAt"`
		UpdatedAt   string                                     `json:"updatedAt"`
	}{
		ID:          rec.ID,
		Model:       rec.Model,
		Fields:      rec.Fields,
		Attachments: rec.Attachments,
		CreatedAt:   rec.CreatedAt.Format("2006-01-02 15:04:05"),
		UpdatedAt:   rec.UpdatedAt.Format("2006-01-02 15:04:05"),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// keys subcommands
	keysCmd.AddCommand(keysInitCmd)

	// db subcommands
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbBackupCmd)

	// formats subcommands
	formatsCmd.AddCommand(formatsListCmd)
	formatsCmd.AddCommand(formatsAddCmd)
	formatsCmd.AddCommand(formatsRefreshCmd)
	formatsRefreshCmd.Flags().Bool("read", false, "Require read support")
	formatsRefreshCmd.Flags().Bool("write", false, "Require write support")
	formatsRefreshCmd.Flags().Bool("multi", false, "Require multi-image support")
	formatsRefreshCmd.Flags().Bool("blob", false, "Require blob support")
	formatsRefreshCmd.Flags().Bool("dry-run", false, "Print matching formats without installing them")

	// record subcommands
	recordCmd.AddCommand(recordCreateCmd)
	recordCmd.AddCommand(recordShowCmd)
	recordCreateCmd.Flags().StringArrayP("field", "f", nil, "Record field as key=value (repeatable)")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(decryptCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(formatsCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(attachCmd)
	attachCmd.Flags().StringP("name", "n", "", "Original file name to record (default: base name of PATH)")
}
