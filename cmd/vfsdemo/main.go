// Command vfsdemo drives the reference Storage/Cryptor pair (memstore +
// boxcryptor) through a scripted end-to-end walk of the encrypted VFS,
// exercising the library the way a real application's config/bootstrap code
// would, without a network backend.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "vfsdemo:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vfsdemo",
	Short: "Reference-implementation driver for the encrypted VFS library",
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the vfsdemo configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with default cipher/KDF settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		if err := writeConfig(path, defaultConfig()); err != nil {
			return err
		}
		fmt.Printf("Wrote config to %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		cfg, err := readConfig(path)
		if err != nil {
			return err
		}
		fmt.Printf("cipher_suite = %s\n", cfg.CipherSuite)
		fmt.Printf("workers      = %d\n", cfg.Workers)
		fmt.Printf("argon2.time         = %d\n", cfg.Argon2.Time)
		fmt.Printf("argon2.memory_kib   = %d\n", cfg.Argon2.MemoryKiB)
		fmt.Printf("argon2.parallelism  = %d\n", cfg.Argon2.Parallelism)
		return nil
	},
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a scripted end-to-end walk of the VFS against an in-memory store",
	RunE: func(cmd *cobra.Command, args []string) error {
		passphrase, _ := cmd.Flags().GetString("passphrase")
		if passphrase == "" {
			passphrase = os.Getenv("VFSDEMO_PASSPHRASE")
		}
		if passphrase == "" {
			passphrase = "correct horse battery staple"
		}

		path, err := configPath()
		if err != nil {
			return err
		}
		cfg, err := readConfig(path)
		if err != nil {
			return err
		}

		return runDemo(context.Background(), cfg, passphrase)
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)

	demoCmd.Flags().String("passphrase", "", "Root key passphrase (default: $VFSDEMO_PASSPHRASE or a built-in demo passphrase)")
	rootCmd.AddCommand(demoCmd)
}
