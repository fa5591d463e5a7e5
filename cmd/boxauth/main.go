package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "boxauth",
	Short: "Boxauth — fitness platform identity service",
	Long:  "Boxauth is the identity, token-lifecycle, and authorization service for a multi-tenant fitness platform: it authenticates users, manages gym memberships and their permissions, and issues the trust headers internal services rely on.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: configs/boxauth.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
