package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Block until every outstanding write against the demo osd is safe",
	Run: func(cmd *cobra.Command, args []string) {
		c, shutdown := newDemoClient()
		defer shutdown()

		c.Sync(context.Background())
		fmt.Println("sync complete")
	},
}
