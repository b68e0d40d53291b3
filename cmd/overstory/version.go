package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/overstoryai/overstory/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		if jsonOut {
			_ = emitJSON(map[string]string{"version": version.Get()})
			return
		}
		fmt.Printf("overstory version %s\n", version.Get())
	},
}
