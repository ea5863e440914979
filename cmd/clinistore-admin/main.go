// Command clinistore-admin is a peripheral operator CLI for the Store:
// it initializes configuration, creates and authenticates accounts,
// and inspects the advisory lock directory. It has no notion of
// patients, notes, or any other clinical object — those collections
// are defined and driven entirely by the application embedding the
// Store, not by this tool.
package main

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"clinistore/internal/app"
	"clinistore/internal/config"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(b), nil
}

var rootCmd = &cobra.Command{
	Use:   "clinistore-admin",
	Short: "Operator tool for the clinistore object store",
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("getting defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["data_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("initializing config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Data dir: %s\n", cfg.DataDir)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("getting defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("reading config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Data dir:      %s\n", cfg.DataDir)
		fmt.Printf("Log dir:       %s\n", cfg.LogDir)
		fmt.Printf("Lock lease:    %s\n", cfg.Lock.LeaseDuration())
		fmt.Printf("Index cache:   enabled=%t path=%s\n", cfg.IndexCache.Enabled, cfg.IndexCache.Path)
		return nil
	},
}

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage accounts",
}

var accountSetupCmd = &cobra.Command{
	Use:   "setup USERNAME",
	Short: "Create a new account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		password, err := readPassword("New passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := readPassword("Confirm passphrase: ")
		if err != nil {
			return err
		}
		if password != confirm {
			return fmt.Errorf("passphrases do not match")
		}

		if err := a.SetupAccount(args[0], password); err != nil {
			return fmt.Errorf("creating account: %w", err)
		}

		fmt.Printf("Account %q created\n", args[0])
		return nil
	},
}

var accountLoginCmd = &cobra.Command{
	Use:   "login USERNAME",
	Short: "Verify a passphrase unlocks an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		password, err := readPassword("Passphrase: ")
		if err != nil {
			return err
		}

		if err := a.Login(args[0], password); err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		fmt.Printf("Login succeeded for %q\n", args[0])
		return nil
	},
}

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Inspect advisory locks",
}

var lockListCmd = &cobra.Command{
	Use:   "list",
	Short: "List lock IDs on disk, live or stale",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ids, err := a.ListLocks()
		if err != nil {
			return fmt.Errorf("listing locks: %w", err)
		}

		if len(ids) == 0 {
			fmt.Println("No locks held.")
			return nil
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

var lockReleaseCmd = &cobra.Command{
	Use:   "release LOCK_ID",
	Short: "Reclaim and release a stale lock (fails if the holder is still live)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		password, err := readPassword("Passphrase: ")
		if err != nil {
			return err
		}
		userName, _ := cmd.Flags().GetString("user")
		if userName == "" {
			return fmt.Errorf("--user is required")
		}
		if err := a.Login(userName, password); err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		lock, err := a.AcquireLock(context.Background(), args[0], true)
		if err != nil {
			return fmt.Errorf("lock is still held by its owner; only a stale lock can be reclaimed this way: %w", err)
		}
		return a.ReleaseLock(lock)
	},
}

func init() {
	configCmd.AddCommand(configInitCmd, configShowCmd)
	accountCmd.AddCommand(accountSetupCmd, accountLoginCmd)
	lockCmd.AddCommand(lockListCmd, lockReleaseCmd)
	lockReleaseCmd.Flags().String("user", "", "account used to attempt the reclaim")

	rootCmd.AddCommand(configCmd, accountCmd, lockCmd)
}
