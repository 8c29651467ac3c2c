package teq

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	txeventqpeer "github.com/edgeflare/txeventq/pkg/pipeline/peer/txeventq"
	"github.com/edgeflare/txeventq/pkg/txeventq/offset"
	"github.com/edgeflare/txeventq/pkg/txeventq/oracle"
	"github.com/spf13/cobra"
)

var (
	offsetsPeer       string
	offsetsPartitions []int32
	offsetsPosition   int64
)

var offsetsCmd = &cobra.Command{
	Use:   "offsets",
	Short: "Inspect or seed the offsets tracked for a queue",
}

var offsetsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the last processed offset and the resume offset of each partition",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sc, tracker, cleanup, err := openTracker(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TOPIC\tPARTITION\tOFFSET\tRESUME")
		for _, p := range offsetsPartitions {
			pos, ok, err := tracker.Load(ctx, sc.Topic, sc.QueueName, sc.QueueSchema, p)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintf(w, "%s\t%d\t-\tbeginning\n", sc.Topic, p)
				continue
			}
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", sc.Topic, p, pos, pos+1)
		}
		return w.Flush()
	},
}

var offsetsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Record an offset as processed; offsets behind the stored one are ignored",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sc, tracker, cleanup, err := openTracker(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		for _, p := range offsetsPartitions {
			if err := tracker.Commit(ctx, sc.Topic, sc.QueueName, sc.QueueSchema, p, offsetsPosition); err != nil {
				return err
			}
		}
		return nil
	},
}

// openTracker opens the offset store of the selected sink peer. The oracle
// store connects to the queue database first.
func openTracker(ctx context.Context) (txeventqpeer.Config, *offset.Tracker, func(), error) {
	sc, err := cfg.SinkPeerConfig(offsetsPeer)
	if err != nil {
		return sc, nil, nil, err
	}
	if sc.Topic == "" || sc.QueueName == "" || sc.QueueSchema == "" {
		return sc, nil, nil, fmt.Errorf("peer needs topic, queueName and queueSchema")
	}

	var db *oracle.Client
	if sc.Offsets.Type == "" || sc.Offsets.Type == txeventqpeer.OffsetsOracle {
		db = oracle.NewClient(sc.Database, logger)
		if err := db.Connect(ctx); err != nil {
			return sc, nil, nil, err
		}
	}
	store, err := sc.Offsets.OpenStore(ctx, db, logger)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return sc, nil, nil, err
	}

	tracker := offset.NewTracker(store, offset.WithLogger(logger))
	cleanup := func() {
		tracker.Close()
		if db != nil {
			db.Close()
		}
	}
	if !tracker.EnsureStore(ctx) {
		cleanup()
		return sc, nil, nil, fmt.Errorf("offset store unavailable")
	}
	return sc, tracker, cleanup, nil
}

func init() {
	offsetsCmd.PersistentFlags().StringVar(&offsetsPeer, "peer", "", "txeventq peer whose offsets to use (default is the built-in sink)")
	offsetsCmd.PersistentFlags().Int32SliceVarP(&offsetsPartitions, "partition", "p", []int32{0}, "Kafka partitions")
	offsetsSetCmd.Flags().Int64Var(&offsetsPosition, "offset", 0, "last processed Kafka offset")
	offsetsSetCmd.MarkFlagRequired("offset")

	offsetsCmd.AddCommand(offsetsGetCmd)
	offsetsCmd.AddCommand(offsetsSetCmd)
}
