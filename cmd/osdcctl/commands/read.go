package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/osdc/pkg/placement"
)

var (
	readIno  uint64
	readOff  uint64
	readLen  uint64
	readPool uint64
)

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Issue a READ request against the demo osd and print the result",
	Run: func(cmd *cobra.Command, args []string) {
		c, shutdown := newDemoClient()
		defer shutdown()

		layout := placement.FileLayout{ObjectSize: 4 << 20, PoolID: readPool}
		pages := make([][]byte, 1)
		pages[0] = make([]byte, readLen)

		result, err := c.ReadPages(context.Background(), placement.Vino{Ino: readIno, Snap: placement.NoSnap}, layout, readOff, readLen, 0, 0, pages)
		if err != nil {
			Exit("read failed: %v", err)
		}
		fmt.Printf("read %d bytes\n", result)
	},
}

func init() {
	readCmd.Flags().Uint64Var(&readIno, "ino", 1, "inode number")
	readCmd.Flags().Uint64Var(&readOff, "off", 0, "file offset")
	readCmd.Flags().Uint64Var(&readLen, "len", 4096, "read length")
	readCmd.Flags().Uint64Var(&readPool, "pool", 1, "pool id")
}
