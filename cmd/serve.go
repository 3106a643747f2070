package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"lawsim/config"
	"lawsim/routes"
)

const shutdownTimeout = 15 * time.Second

var (
	serveMigrate bool
	serveNoJobs  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, job runner and scheduler",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", true, "run database migration before serving")
	serveCmd.Flags().BoolVar(&serveNoJobs, "no-jobs", false, "serve HTTP only, without the job runner and scheduler")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if serveMigrate {
		if err := config.Migrate(a.db); err != nil {
			return err
		}
	}
	if err := a.wire(ctx); err != nil {
		return err
	}

	log := logrus.WithField("component", "server")
	app := routes.NewApp(a.deps)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.WithField("port", a.cfg.ServerPort).Info("server starting")
		return app.Listen(":" + a.cfg.ServerPort)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})
	g.Go(func() error {
		return a.hub.Run(gctx)
	})
	if !serveNoJobs {
		g.Go(func() error {
			return a.runner.Start(gctx)
		})
		g.Go(func() error {
			return a.scheduler().Run(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("server stopped")
	return nil
}
