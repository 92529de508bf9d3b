package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/chat2course/internal/httpapi"
	"github.com/rcliao/chat2course/internal/maintenance"
	"github.com/rcliao/chat2course/internal/metrics"
	"github.com/rcliao/chat2course/internal/tools"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the course tools over MCP stdio and optionally HTTP",
		Long:  "Serve the course-building tools to an MCP client on stdin/stdout. With --http the same operations are also served as a JSON API, along with /metrics. Maintenance jobs run in the background.",
		Run:   runServe,
	}

	cmd.Flags().String("http", "", "HTTP listen address (default: $HTTP_ADDR or the config file)")
	cmd.Flags().Bool("no-stdio", false, "Do not serve MCP on stdin/stdout")

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	addr, _ := cmd.Flags().GetString("http")
	noStdio, _ := cmd.Flags().GetBool("no-stdio")

	a, err := newApp(false)
	if err != nil {
		exitErr("setup", err)
	}
	defer a.Close()
	if addr == "" {
		addr = a.cfg.HTTP.Addr
	}
	if noStdio && addr == "" {
		exitErr("serve", errors.New("--no-stdio needs an HTTP address"))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	runner := maintenance.NewRunner(a.store, maintenanceConfig(a.cfg), a.log, metrics.NewMetrics())
	g.Go(func() error { return runner.Run(gctx) })

	if addr != "" {
		srv := &http.Server{Addr: addr, Handler: httpapi.NewRouter(a.orch, a.log)}
		g.Go(func() error {
			a.log.Info("http api listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if !noStdio {
		g.Go(func() error {
			// The MCP session ends when the client closes stdin.
			defer cancel()
			return tools.ServeStdio(tools.NewServer(a.orch))
		})
	}

	if err := g.Wait(); err != nil {
		exitErr("serve", err)
	}
}
