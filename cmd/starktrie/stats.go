package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/NethermindEth/starktrie/core/state"
	"github.com/NethermindEth/starktrie/db"
	"github.com/NethermindEth/starktrie/utils"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newPruneCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Release heights outside the retention window and delete unreferenced nodes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := openNode(cmd, *cfgFile)
			if err != nil {
				return err
			}
			defer n.Close()

			pruned, err := n.Chain().Prune()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "pruned %d nodes, retained from block %d\n", pruned, n.Chain().Floor())
			return err
		},
	}
}

func newStatsCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print the chain head, the retained range and node counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := openNode(cmd, *cfgFile)
			if err != nil {
				return err
			}
			defer n.Close()

			stats, err := n.Chain().Stats()
			if err != nil {
				return err
			}

			head := "none"
			if stats.Head != nil {
				head = strconv.FormatUint(*stats.Head, 10)
			}
			retention := "all"
			if r := n.Config().Retention; r > 0 {
				retention = strconv.FormatUint(r, 10)
			}
			commitment := "-"
			if stats.Head != nil {
				roots, err := n.Chain().BlockRoots(*stats.Head)
				if err != nil && !errors.Is(err, state.ErrBlockNotFound) {
					return err
				} else if err == nil {
					commitment = roots.StateCommitment.String()
				}
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"Stat", "Value"})
			table.AppendBulk([][]string{
				{"Head", head},
				{"State commitment", commitment},
				{"Retained from", strconv.FormatUint(stats.Floor, 10)},
				{"Retention", retention},
				{"Nodes", strconv.Itoa(stats.Nodes)},
				{"Orphans", strconv.Itoa(stats.Orphans)},
				{"Proof workers", strconv.Itoa(n.Chain().ProofWorkers())},
			})
			table.Render()

			return renderBucketSizes(cmd, n.DB())
		},
	}
}

func renderBucketSizes(cmd *cobra.Command, r db.Iterable) error {
	var (
		sizes []db.BucketSize
		total db.BucketSize
	)
	for _, b := range db.Buckets() {
		size, err := b.Size(cmd.Context(), r)
		if err != nil {
			return fmt.Errorf("size of bucket %s: %w", b, err)
		}
		sizes = append(sizes, size)
		total.Size += size.Size
		total.Count += size.Count
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"Bucket", "Size", "Count"})
	table.AppendBulk(utils.Map(sizes, func(s db.BucketSize) []string {
		return []string{s.Bucket.String(), s.Size.String(), strconv.FormatUint(uint64(s.Count), 10)}
	}))
	table.SetFooter([]string{"Total", total.Size.String(), strconv.FormatUint(uint64(total.Count), 10)})
	table.Render()
	return nil
}
