package main

import (
	"context"
	"fmt"
	"os"

	bytefmt "code.cloudfoundry.org/bytefmt"
	"github.com/sisatech/tablewriter"
	"github.com/spf13/cobra"

	sflag "github.com/openzfs-go/storageengine/pkg/flag"
	"github.com/openzfs-go/storageengine/pkg/trim"
)

var trimFlags = struct {
	rate    sflag.Uint64Flag
	partial sflag.BoolFlag
	secure  sflag.BoolFlag
}{
	rate:    sflag.NewUint64Flag("rate", "bytes/sec to pace the manual TRIM at (0 = unlimited)", false, nil),
	partial: sflag.NewBoolFlag("partial", "skip metaslabs that were never written", false, nil),
	secure:  sflag.NewBoolFlag("secure", "lower the minimum TRIM extent to the device block size; ranges are still issued as plain TRIMs, with no overwrite or erase", false, nil),
}

var trimCmd = &cobra.Command{
	Use:   "trim",
	Short: "Drive manual TRIM against the demo pool's single leaf",
}

var trimStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start (or resume) a manual TRIM pass",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		leaf := d.substrate.Leaf(1)
		err := d.trim.Start(context.Background(), leaf, trimFlags.rate.Value, trimFlags.partial.Value, trimFlags.secure.Value)
		if err != nil {
			return err
		}
		log.Infof("trim started on leaf %d", leaf.GUID())
		return nil
	},
}

var trimStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Cancel the in-progress manual TRIM and wait for it to drain",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		leaf := d.substrate.Leaf(1)
		var waiters []<-chan struct{}
		if err := d.trim.Stop(leaf, trim.StateCanceled, &waiters); err != nil {
			return err
		}
		d.trim.StopWait(waiters)
		log.Infof("trim stopped on leaf %d", leaf.GUID())
		return nil
	},
}

var trimStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the demo leaf's TRIM state and I/O stats",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		leaf := d.substrate.Leaf(1)
		state := d.trim.State(leaf)
		stats := d.trim.Iostats(leaf)

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"leaf", "state", "issued", "skipped", "failed"})
		table.Append([]string{
			fmt.Sprintf("%d", leaf.GUID()),
			state.String(),
			bytefmt.ByteSize(uint64(stats.Manual.BytesIssued)),
			bytefmt.ByteSize(uint64(stats.Manual.BytesSkipped)),
			fmt.Sprintf("%d", stats.Manual.Failed),
		})
		table.Render()

		for _, line := range d.trim.History(leaf) {
			log.Printf("%s", line)
		}
		return nil
	},
}
