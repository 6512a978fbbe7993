package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/banshee-data/overlap-mcl/internal/db"
	"github.com/banshee-data/overlap-mcl/internal/mcl"
	"github.com/banshee-data/overlap-mcl/internal/mcl/scorer"
)

func newMigrateCmd() *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "migrate up|down|status|force <version>",
		Short: "Manage the results database schema",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return db.RunMigrateCommand(cmd.OutOrStdout(), dbPath, args)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "overlap-mcl.db", "SQLite results database")
	return cmd
}

func newServeScorerCmd() *cobra.Command {
	var listen string
	var yawBins int
	cmd := &cobra.Command{
		Use:   "serve-scorer",
		Short: "Serve the cosine overlap scorer over gRPC",
		Long: `serve-scorer exposes the built-in cosine scorer on the same gRPC service a
learned model server implements. It cannot extract volumes, so every volume
must already be persisted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			lis, err := net.Listen("tcp", listen)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", listen, err)
			}
			srv := scorer.NewServer(scorer.CosineScorer{YawBins: yawBins}, nil)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				mcl.Opsf("shutting down scorer")
				srv.GracefulStop()
			}()

			mcl.Opsf("scorer listening on %s (yaw bins %d)", lis.Addr(), yawBins)
			return srv.Serve(lis)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:50051", "Address to listen on")
	cmd.Flags().IntVar(&yawBins, "yaw-bins", 0, "Yaw histogram bins; 0 disables yaw estimation")
	return cmd
}
