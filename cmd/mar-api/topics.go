package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/carehaven/go-mar/internal/infrastructure/redpanda"
)

func topicsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topics",
		Short: "Manage the MAR event stream topics",
	}

	withAdmin := func(fn func(cmd *cobra.Command, admin *redpanda.Admin) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			brokers := cfg.KafkaBrokers
			if len(brokers) == 0 {
				brokers = redpanda.DefaultProducerConfig().Brokers
			}
			admin, err := redpanda.NewAdmin(brokers, logger)
			if err != nil {
				return err
			}
			defer admin.Close()
			return fn(cmd, admin)
		}
	}

	var replication int16
	ensure := &cobra.Command{
		Use:   "ensure",
		Short: "Create missing topics",
		RunE: withAdmin(func(cmd *cobra.Command, admin *redpanda.Admin) error {
			return admin.EnsureTopics(cmd.Context(), replication)
		}),
	}
	ensure.Flags().Int16Var(&replication, "replication", 1, "replication factor")

	list := &cobra.Command{
		Use:   "list",
		Short: "List topics",
		RunE: withAdmin(func(cmd *cobra.Command, admin *redpanda.Admin) error {
			topics, err := admin.ListTopics(cmd.Context())
			if err != nil {
				return err
			}
			for _, t := range topics {
				fmt.Fprintln(cmd.OutOrStdout(), t)
			}
			return nil
		}),
	}

	var group string
	lag := &cobra.Command{
		Use:   "lag",
		Short: "Show consumer group lag per partition",
		RunE: withAdmin(func(cmd *cobra.Command, admin *redpanda.Admin) error {
			lags, err := admin.GroupLag(cmd.Context(), group)
			if err != nil {
				return err
			}
			topics := make([]string, 0, len(lags))
			for t := range lags {
				topics = append(topics, t)
			}
			sort.Strings(topics)
			for _, t := range topics {
				partitions := make([]int32, 0, len(lags[t]))
				for p := range lags[t] {
					partitions = append(partitions, p)
				}
				sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })
				for _, p := range partitions {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\t%d\n", t, p, lags[t][p])
				}
			}
			return nil
		}),
	}
	lag.Flags().StringVar(&group, "group", redpanda.DefaultConsumerConfig().GroupID, "consumer group")

	cmd.AddCommand(ensure, list, lag)
	return cmd
}
