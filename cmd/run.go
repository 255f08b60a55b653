package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"pbft/config"
	"pbft/logging"
	"pbft/replica"
	"pbft/transport"
)

var (
	runByzantine  bool
	runSeed       string
	runClusterCfg string
	runStoreDir   string
)

func init() {
	runCmd.Flags().BoolVar(&runByzantine, "byzantine", false, "run this replica in Byzantine test mode")
	runCmd.Flags().StringVar(&runSeed, "seed", "", "if this replica is primary, submit this operation on startup")
	runCmd.Flags().StringVar(&runClusterCfg, "cluster", "", "path to a cluster.json config; defaults to a 4-replica localhost cluster")
	runCmd.Flags().StringVar(&runStoreDir, "store", ".", "directory for this replica's durable state file")
	rootCmd.AddCommand(runCmd)
}

// runCmd starts one replica: `<program> run <node_id> [byzantine]`. The
// trailing bare "byzantine" token is honored alongside --byzantine for
// compatibility with the original invocation form.
var runCmd = &cobra.Command{
	Use:   "run <node_id> [byzantine]",
	Short: "Start one replica of the cluster",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("node_id must be an integer: %w", err)
		}
		byzantine := runByzantine
		if len(args) == 2 {
			if args[1] != "byzantine" {
				return fmt.Errorf("unrecognized trailing argument %q, expected \"byzantine\"", args[1])
			}
			byzantine = true
		}

		cluster := config.Default(4, 9000)
		if runClusterCfg != "" {
			cluster, err = config.Load(runClusterCfg)
			if err != nil {
				return err
			}
		}

		log, err := logging.New(id)
		if err != nil {
			return fmt.Errorf("logging: %w", err)
		}
		defer log.Sync()

		mesh := transport.NewMesh(id, cluster, log)
		if err := mesh.Listen(); err != nil {
			return err
		}
		mesh.DialAll()

		r, err := replica.New(id, cluster, mesh, log, runStoreDir, byzantine)
		if err != nil {
			return fmt.Errorf("replica: %w", err)
		}
		r.Start()

		if runSeed != "" && cluster.Primary(r.View()) == id {
			r.SeedOperation(runSeed)
		}

		select {}
	},
}
