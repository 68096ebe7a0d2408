package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/storyjobs/api"
	"github.com/jonwraymond/storyjobs/config"
	"github.com/jonwraymond/storyjobs/health"
	"github.com/jonwraymond/storyjobs/internal/version"
	"github.com/jonwraymond/storyjobs/observe"
	"github.com/jonwraymond/storyjobs/remote"
	"github.com/jonwraymond/storyjobs/storytasks"
	"github.com/jonwraymond/storyjobs/taskqueue"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the task queue and HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "HTTP listen address")
	serveCmd.Flags().Int("max-concurrent", 3, "maximum concurrently running tasks")
	serveCmd.Flags().Duration("remote-timeout", 30*time.Second, "per-attempt remote call timeout")

	bindFlag("http.addr", serveCmd.Flags(), "addr")
	bindFlag("queue.max_concurrent", serveCmd.Flags(), "max-concurrent")
	bindFlag("remote.timeout", serveCmd.Flags(), "remote-timeout")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		_ = a.obs.Shutdown(context.Background())
		return fmt.Errorf("http listen: %w", err)
	}
	return a.run(ctx, ln)
}

// app is the assembled service.
type app struct {
	cfg      config.Config
	obs      observe.Observer
	log      observe.Logger
	queue    *taskqueue.Queue
	executor *remote.Executor
	server   *http.Server
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	if cfg.Observe.Version == "" {
		cfg.Observe.Version = version.Version
	}
	obs, err := observe.NewObserver(ctx, cfg.Observe)
	if err != nil {
		return nil, fmt.Errorf("observer: %w", err)
	}
	mw, err := observe.MiddlewareFromObserver(obs)
	if err != nil {
		_ = obs.Shutdown(ctx)
		return nil, fmt.Errorf("middleware: %w", err)
	}

	executor := remote.NewExecutor(remote.NewHTTPTransport(cfg.Endpoints), cfg.Executor(mw))
	queue := taskqueue.New(cfg.TaskQueue(mw))
	if _, err := storytasks.Register(queue, executor); err != nil {
		_ = obs.Shutdown(ctx)
		return nil, err
	}

	agg := health.NewAggregator()
	agg.Register(queue.Checker())
	agg.Register(executor.Checker())

	handler := api.New(api.Config{
		Queue:    queue,
		Executor: executor,
		Health:   agg,
		Metrics:  obs.MetricsHandler(),
		Logger:   obs.Logger(),
	}).Handler()

	return &app{
		cfg:      cfg,
		obs:      obs,
		log:      obs.Logger(),
		queue:    queue,
		executor: executor,
		server:   api.NewHTTPServer(cfg.HTTP.Addr, handler),
	}, nil
}

// run serves on ln until ctx ends, then drains the HTTP server and the queue
// within the configured shutdown timeout.
func (a *app) run(ctx context.Context, ln net.Listener) error {
	// Handlers outlive the signal; Stop cancels them if the drain times out.
	if err := a.queue.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info(ctx, "http server starting",
			observe.String("addr", ln.Addr().String()),
			observe.String("version", version.Version),
		)
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info(context.Background(), "shutting down")

		shutCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := a.server.Shutdown(shutCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := a.queue.Stop(shutCtx); err != nil {
			errs = append(errs, fmt.Errorf("queue stop: %w", err))
		}
		a.log.Info(context.Background(), "stopped")
		if err := a.obs.Shutdown(shutCtx); err != nil {
			errs = append(errs, fmt.Errorf("observer shutdown: %w", err))
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}
