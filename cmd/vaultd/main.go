package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/cuemby/nebula/pkg/api"
	"github.com/cuemby/nebula/pkg/config"
	"github.com/cuemby/nebula/pkg/log"
	"github.com/cuemby/nebula/pkg/notary"
	"github.com/cuemby/nebula/pkg/repository"
	"github.com/cuemby/nebula/pkg/storage"
	"github.com/cuemby/nebula/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vaultd",
	Short: "Vaultd - content-addressed document repository daemon",
	Long: `Vaultd stores notarized, immutable documents plus their mutable
companions (named pointers, drafts, leased message bags) behind a layered
storage stack: interchangeable backends composed through caching and
cryptographic-validation wrappers, exposed over HTTP.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Vaultd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "", "Path to YAML configuration file")
	rootCmd.PersistentFlags().String("root", "", "Filesystem storage root (overrides config)")
	rootCmd.PersistentFlags().String("remote", "", "Remote base URI to use as the backend instead of the local filesystem")
	rootCmd.PersistentFlags().Int("debug", -1, "Debug verbosity 0-3 (overrides config)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sweepCmd)
}

// loadConfig resolves configuration with CLI flags layered over env over
// YAML over defaults.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if root, _ := cmd.Flags().GetString("root"); root != "" {
		cfg.Root = root
	}
	if remote, _ := cmd.Flags().GetString("remote"); remote != "" {
		cfg.RemoteURI = remote
	}
	if debug, _ := cmd.Flags().GetInt("debug"); debug >= 0 {
		cfg.Debug = debug
	}

	initLogging(cfg.Debug)
	return cfg, nil
}

func initLogging(debug int) {
	log.Init(log.Options{Verbosity: debug})
}

// buildStack assembles Cached ∘ Validated ∘ backend from configuration:
// remoteURI selects the Remote backend, an s3 region selects S3, anything
// else lands on LocalFS under cfg.Root.
func buildStack(cfg config.Config, n *notary.Notary) (storage.StorageMechanism, error) {
	var backend storage.StorageMechanism
	switch {
	case cfg.RemoteURI != "":
		backend = storage.NewRemote(cfg.RemoteURI, n, cfg.Peers)
	case cfg.S3.Region != "":
		s3, err := storage.NewS3(cfg.S3)
		if err != nil {
			return nil, err
		}
		backend = s3
	default:
		localfs, err := storage.NewLocalFS(cfg.Root)
		if err != nil {
			return nil, err
		}
		backend = localfs
	}
	return storage.NewCached(storage.NewValidated(backend), cfg.CacheCapacity), nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the repository over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		listen, _ := cmd.Flags().GetString("listen")
		grpcListen, _ := cmd.Flags().GetString("grpc-listen")
		noAuth, _ := cmd.Flags().GetBool("no-auth")
		sweepBags, _ := cmd.Flags().GetStringSlice("sweep-bag")
		sweepEvery, _ := cmd.Flags().GetDuration("sweep-interval")

		n, err := notary.New()
		if err != nil {
			return err
		}
		if _, err := n.GenerateCredentials(); err != nil {
			return err
		}
		stack, err := buildStack(cfg, n)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		if len(sweepBags) > 0 {
			bags, err := parseBagNames(sweepBags)
			if err != nil {
				return err
			}
			go repository.NewSweeper(stack, bags, sweepEvery).Run(ctx)
		}

		if grpcListen != "" {
			lis, err := net.Listen("tcp", grpcListen)
			if err != nil {
				return err
			}
			grpcServer := grpc.NewServer()
			storage.RegisterAnnounceServer(grpcServer, receiveAnnounce)
			go func() {
				if err := grpcServer.Serve(lis); err != nil {
					logger := log.WithComponent("vaultd")
					logger.Error().Err(err).Msg("grpc server stopped")
				}
			}()
			defer grpcServer.GracefulStop()
		}

		server := api.NewServer(stack, !noAuth)
		errCh := make(chan error, 1)
		go func() { errCh <- server.Start(listen) }()
		serveLogger := log.WithComponent("vaultd")
		serveLogger.Info().Str("listen", listen).Msg("repository serving")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case err := <-errCh:
			return err
		case <-sigCh:
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancelShutdown()
			return server.Shutdown(shutdownCtx)
		}
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Return lease-expired processing messages to their bags",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		bagArgs, _ := cmd.Flags().GetStringSlice("bag")
		once, _ := cmd.Flags().GetBool("once")
		interval, _ := cmd.Flags().GetDuration("interval")

		bags, err := parseBagNames(bagArgs)
		if err != nil {
			return err
		}
		if len(bags) == 0 {
			return fmt.Errorf("at least one --bag is required")
		}

		n, err := notary.New()
		if err != nil {
			return err
		}
		stack, err := buildStack(cfg, n)
		if err != nil {
			return err
		}

		sweeper := repository.NewSweeper(stack, bags, interval)
		if once {
			return sweeper.SweepOnce(cmd.Context())
		}
		sweeper.Run(cmd.Context())
		return nil
	},
}

func init() {
	serveCmd.Flags().String("listen", ":8420", "HTTP listen address")
	serveCmd.Flags().String("grpc-listen", "", "Optional gRPC listen address for peer announce hints")
	serveCmd.Flags().Bool("no-auth", false, "Disable nebula-credentials verification")
	serveCmd.Flags().StringSlice("sweep-bag", nil, "Bag names to sweep for expired leases (repeatable)")
	serveCmd.Flags().Duration("sweep-interval", 30*time.Second, "Lease sweep interval")

	sweepCmd.Flags().StringSlice("bag", nil, "Bag names to sweep (repeatable)")
	sweepCmd.Flags().Bool("once", false, "Sweep once and exit")
	sweepCmd.Flags().Duration("interval", 30*time.Second, "Sweep interval when not using --once")
}

func parseBagNames(paths []string) ([]types.Name, error) {
	names := make([]types.Name, 0, len(paths))
	for _, path := range paths {
		name, err := types.NewName(path)
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}

// receiveAnnounce accepts peer announce hints. The hint is advisory:
// logging it is the whole obligation, a warm-up of the local cache happens
// naturally on the next read of the announced name.
func receiveAnnounce(ctx context.Context, name string, citationBytes []byte) {
	logger := log.WithComponent("vaultd.peer")
	logger.Info().Str("name", name).Msg("peer announced name binding")
}
