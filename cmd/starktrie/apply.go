package main

import (
	"context"
	"fmt"

	"github.com/NethermindEth/starktrie/core/state"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"
)

func newApplyCmd(cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply --feed FILE",
		Short: "Apply block updates and exit",
		Long: `This subcommand applies every block update in the feed, in order, on top of the stored chain.
Each update is committed atomically; on the first failure the remaining updates are not applied.`,
		Args: cobra.NoArgs,
	}
	cmd.Flags().String(feedF, "", feedUsage)
	if err := cmd.MarkFlagRequired(feedF); err != nil {
		panic(err)
	}

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		feedPath, err := cmd.Flags().GetString(feedF)
		if err != nil {
			return err
		}

		n, err := openNode(cmd, *cfgFile)
		if err != nil {
			return err
		}
		defer n.Close()

		r, err := openFeed(cmd, feedPath)
		if err != nil {
			return err
		}
		defer r.Close()

		chain := n.Chain()
		updates := make(chan *state.BlockUpdate)
		p := pool.New().WithContext(cmd.Context()).WithCancelOnError().WithFirstError()
		p.Go(func(ctx context.Context) error {
			return readFeed(ctx, r, updates)
		})
		p.Go(func(ctx context.Context) error {
			return chain.Follow(ctx, updates)
		})
		if err = p.Wait(); err != nil {
			return err
		}

		head, err := chain.Head()
		if err != nil {
			return err
		}
		roots, err := chain.BlockRoots(head)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "head %d state commitment %s\n", head, roots.StateCommitment.String())
		return err
	}
	return cmd
}
