package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShahriarAlomShakil/SmartMarketplace-sub004/internal/adapters/agent/httpagent"
	feedkafka "github.com/ShahriarAlomShakil/SmartMarketplace-sub004/internal/adapters/feed/kafka"
	"github.com/ShahriarAlomShakil/SmartMarketplace-sub004/internal/adapters/server"
	"github.com/ShahriarAlomShakil/SmartMarketplace-sub004/internal/adapters/server/common"
	"github.com/ShahriarAlomShakil/SmartMarketplace-sub004/internal/adapters/telemetry"
	"github.com/ShahriarAlomShakil/SmartMarketplace-sub004/internal/app"
	"github.com/ShahriarAlomShakil/SmartMarketplace-sub004/internal/sweep"
)

// serveRunner starts the HTTP listener; tests swap it out.
var serveRunner = func(ctx context.Context, cfg server.Config, deps server.Dependencies) error {
	return server.Run(ctx, cfg, deps)
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	var httpBind string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST API, MCP tools and metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			s, err := opts.open(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()
			return s.serve(ctx, httpBind)
		},
	}
	cmd.Flags().StringVar(&httpBind, "http", "", "listen address, overrides server.http_bind")
	return cmd
}

// feedDrainTimeout bounds how long shutdown waits for queued timeline entries.
const feedDrainTimeout = 10 * time.Second

// serve wires optional adapters around the service and blocks until ctx ends.
func (s *session) serve(ctx context.Context, bind string) error {
	metrics := telemetry.New()
	svcOpts := []app.Option{app.WithMetrics(metrics)}

	if s.cfg.Feed.Enabled {
		pub, err := feedkafka.NewPublisher(s.cfg.Feed.Brokers, s.cfg.Feed.Topic)
		if err != nil {
			return fmt.Errorf("timeline feed: %w", err)
		}
		defer func() {
			if err := pub.Close(); err != nil {
				s.logger.Warn("close timeline feed", "err", err)
			}
		}()
		svcOpts = append(svcOpts, app.WithPublisher(pub))
		s.logger.Info("timeline feed enabled", "topic", pub.Topic(), "brokers", strings.Join(s.cfg.Feed.Brokers, ","))
	}
	if s.cfg.Agent.Enabled {
		client, err := httpagent.New(s.cfg.Agent.Endpoint, &http.Client{})
		if err != nil {
			return fmt.Errorf("pricing agent: %w", err)
		}
		svcOpts = append(svcOpts, app.WithAgent(client))
		s.logger.Info("pricing agent enabled", "endpoint", s.cfg.Agent.Endpoint, "auto_reply", s.cfg.Agent.AutoReply)
	}
	svcOpts = append(svcOpts, app.WithLogger(s.logger.With("component", "service")))
	svc := s.newService(svcOpts...)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var sweepDone chan error
	if s.cfg.Sweep.Enabled {
		runner, err := sweep.New(svc, s.cfg.Sweep.Cron, s.logger.With("component", "sweep"))
		if err != nil {
			return err
		}
		sweepDone = make(chan error, 1)
		go func() {
			sweepDone <- runner.Run(ctx)
		}()
		s.logger.Info("expiry sweep scheduled", "cron", runner.Cron())
	}

	cfg := server.Config{
		HTTPBind:      s.cfg.Server.HTTPBind,
		APIEndpoint:   s.cfg.Server.APIEndpoint,
		MCPEndpoint:   s.cfg.Server.MCPEndpoint,
		ServerName:    "haggle",
		ServerVersion: version,
		Identity: common.IdentityConfig{
			JWTSecret:           s.cfg.Auth.JWTSecret,
			Issuer:              s.cfg.Auth.Issuer,
			Audience:            s.cfg.Auth.Audience,
			AllowHeaderIdentity: s.cfg.Auth.AllowHeaderIdentity,
		},
	}
	if strings.TrimSpace(bind) != "" {
		cfg.HTTPBind = bind
	}
	if cfg.Identity.JWTSecret == "" && !cfg.Identity.AllowHeaderIdentity {
		s.logger.Warn("no identity source configured; every request will be rejected")
	}
	s.logger.Info("serving", "bind", cfg.HTTPBind, "api", cfg.APIEndpoint, "mcp", cfg.MCPEndpoint)

	err := serveRunner(ctx, cfg, server.Dependencies{
		Negotiations: svc,
		Ready:        s.repo,
		Metrics:      metrics.Handler(),
		Instrument:   metrics,
	})
	cancel()
	if sweepDone != nil {
		if sweepErr := <-sweepDone; sweepErr != nil && err == nil {
			err = sweepErr
		}
	}
	drainCtx, drainCancel := context.WithTimeout(context.Background(), feedDrainTimeout)
	defer drainCancel()
	if closeErr := svc.Close(drainCtx); closeErr != nil {
		s.logger.Warn("timeline feed not drained", "err", closeErr)
	}
	return err
}

func newSweepCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire every negotiation past its deadline once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := opts.open(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()
			expired, err := s.newService().SweepExpired(cmd.Context())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "expired %d negotiation(s)\n", expired)
			return nil
		},
	}
}

func newShowCommand(opts *rootOptions) *cobra.Command {
	var (
		events int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "show <negotiation-id>",
		Short: "Print one negotiation with its latest ledger events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()
			n, err := s.newService().GetNegotiation(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(n)
			}
			renderNegotiation(cmd.OutOrStdout(), n, events, nowFunc())
			return nil
		},
	}
	cmd.Flags().IntVar(&events, "events", 10, "number of most recent ledger events to print")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full negotiation as JSON")
	return cmd
}

func newListingCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listing",
		Short: "Manage the local listing catalog used to validate negotiations",
	}

	var in app.ListingInfo
	set := &cobra.Command{
		Use:   "set",
		Short: "Create or update one listing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in.ID = strings.TrimSpace(in.ID)
			in.OwnerID = strings.TrimSpace(in.OwnerID)
			if in.ID == "" || in.OwnerID == "" {
				return errors.New("--id and --owner are required")
			}
			if in.BasePrice < 0 || in.MinPrice < 0 {
				return errors.New("prices must be >= 0")
			}
			s, err := opts.open(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()
			listing := in
			listing.Currency = strings.ToUpper(strings.TrimSpace(listing.Currency))
			if listing.Currency == "" {
				listing.Currency = strings.ToUpper(s.cfg.Negotiation.DefaultCurrency)
			}
			if err := s.repo.UpsertListing(cmd.Context(), listing, nowFunc()); err != nil {
				return err
			}
			s.logger.Info("listing saved", "listing_id", listing.ID, "owner_id", listing.OwnerID)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "listing %s saved\n", listing.ID)
			return nil
		},
	}
	set.Flags().StringVar(&in.ID, "id", "", "listing id")
	set.Flags().StringVar(&in.OwnerID, "owner", "", "seller actor id")
	set.Flags().StringVar(&in.Title, "title", "", "listing title")
	set.Flags().Float64Var(&in.BasePrice, "base-price", 0, "asking price")
	set.Flags().Float64Var(&in.MinPrice, "min-price", 0, "lowest acceptable price (0 disables the floor)")
	set.Flags().StringVar(&in.Currency, "currency", "", "ISO currency code (defaults to negotiation.default_currency)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List known listings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := opts.open(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()
			listings, err := s.repo.ListListings(cmd.Context())
			if err != nil {
				return err
			}
			renderListings(cmd.OutOrStdout(), listings)
			return nil
		},
	}

	cmd.AddCommand(set, list)
	return cmd
}

func newPathsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print resolved config, data and log locations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := opts.paths()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "app: %s\n", opts.appName)
			_, _ = fmt.Fprintf(out, "dev_mode: %t\n", opts.devMode)
			_, _ = fmt.Fprintf(out, "config: %s\n", paths.ConfigPath)
			_, _ = fmt.Fprintf(out, "data_dir: %s\n", paths.DataDir)
			_, _ = fmt.Fprintf(out, "db: %s\n", paths.DBPath)
			_, _ = fmt.Fprintf(out, "log_dir: %s\n", paths.LogDir)
			return nil
		},
	}
}
