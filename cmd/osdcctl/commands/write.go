package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/osdc/pkg/placement"
	"github.com/marmos91/osdc/pkg/wire"
)

var (
	writeIno  uint64
	writeOff  uint64
	writeLen  uint64
	writePool uint64
	writeData string
)

var writeCmd = &cobra.Command{
	Use:   "write",
	Short: "Issue a WRITE request against the demo osd and print the result",
	Run: func(cmd *cobra.Command, args []string) {
		c, shutdown := newDemoClient()
		defer shutdown()

		layout := placement.FileLayout{ObjectSize: 4 << 20, PoolID: writePool}
		buf := make([]byte, writeLen)
		copy(buf, writeData)

		result, err := c.WritePages(
			context.Background(),
			placement.Vino{Ino: writeIno, Snap: placement.NoSnap},
			layout,
			nil,
			writeOff, writeLen,
			0, 0,
			wire.Timespec{},
			[][]byte{buf},
			0, false, false,
		)
		if err != nil {
			Exit("write failed: %v", err)
		}
		fmt.Printf("wrote %d bytes\n", result)
	},
}

func init() {
	writeCmd.Flags().Uint64Var(&writeIno, "ino", 1, "inode number")
	writeCmd.Flags().Uint64Var(&writeOff, "off", 0, "file offset")
	writeCmd.Flags().Uint64Var(&writeLen, "len", 4096, "write length")
	writeCmd.Flags().Uint64Var(&writePool, "pool", 1, "pool id")
	writeCmd.Flags().StringVar(&writeData, "data", "", "data to write (padded/truncated to len)")
}
