package main

import (
	"fmt"
	"os"

	"github.com/sisatech/tablewriter"
	"github.com/spf13/cobra"

	sflag "github.com/openzfs-go/storageengine/pkg/flag"
	"github.com/openzfs-go/storageengine/pkg/zvol"
)

var zvolFlags = struct {
	pattern sflag.StringFlag
	inhibit sflag.BoolFlag
}{
	pattern: sflag.NewStringFlag("name", "dataset name or glob pattern", false, func(f sflag.StringFlag) error {
		if f.Value == "" {
			return fmt.Errorf("--name is required")
		}
		return nil
	}),
	inhibit: sflag.NewBoolFlag("inhibit", "suppress minor creation (zvol_inhibit_dev)", false, nil),
}

var zvolRemoveFlags = struct {
	pattern sflag.StringFlag
}{
	pattern: sflag.NewStringFlag("name", "dataset name or glob pattern (empty removes every minor)", false, nil),
}

var zvolSetFlags = struct {
	dataset  sflag.StringFlag
	property sflag.StringFlag
	value    sflag.UintFlag
}{
	dataset:  sflag.NewStringFlag("dataset", "dataset (and its descendants) to update", false, nil),
	property: sflag.NewStringFlag("property", "property to set: snapdev or volmode", false, nil),
	value:    sflag.NewUintFlag("value", "new property value", false, nil),
}

var zvolCmd = &cobra.Command{
	Use:   "zvol",
	Short: "Drive the ZVOL minor-lifecycle dispatcher and name table",
}

var zvolCreateMinorsCmd = &cobra.Command{
	Use:   "create-minors",
	Short: "Queue zvol_create_minors for every dataset matching --name",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := zvolFlags.pattern.FlagValidate(); err != nil {
			return err
		}
		if err := d.dispatch.SubmitCreateMinors(zvolFlags.pattern.Value, zvolFlags.inhibit.Value); err != nil {
			return err
		}
		log.Infof("queued create-minors for %q", zvolFlags.pattern.Value)
		return nil
	},
}

var zvolRemoveMinorsCmd = &cobra.Command{
	Use:   "remove-minors",
	Short: "Queue zvol_remove_minors for every dataset matching --name",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := d.dispatch.SubmitRemoveMinors(zvolRemoveFlags.pattern.Value); err != nil {
			return err
		}
		log.Infof("queued remove-minors for %q", zvolRemoveFlags.pattern.Value)
		return nil
	},
}

var zvolSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Set snapdev or volmode on a dataset and its descendants",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		updated, err := zvol.SetCommon(d.table, zvolSetFlags.dataset.Value, zvolSetFlags.property.Value, int(zvolSetFlags.value.Value), nil)
		if err != nil {
			return err
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"dataset", "property", "value"})
		for _, s := range d.table.All() {
			table.Append([]string{s.Name, zvolSetFlags.property.Value, fmt.Sprintf("%d", zvolSetFlags.value.Value)})
		}
		table.Render()

		log.Infof("updated %d dataset(s)", updated)
		return nil
	},
}
