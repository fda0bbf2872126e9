// Package main はToDo Dashboard APIのサーバーと管理コマンドです。
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/kawafuchieirin/app-prototype/internal/config"
)

// ビルド時に -ldflags "-X main.version=..." で上書きされます。
var version = ""

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:          "api",
		Short:        "ToDo Dashboard API",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to a TOML config file")

	load := func() (*config.Settings, error) {
		return config.Load(configFile)
	}

	root.AddCommand(
		newServeCmd(load),
		newInitTableCmd(load),
		newVersionCmd(load),
	)
	return root
}
