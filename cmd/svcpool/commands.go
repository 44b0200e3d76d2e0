package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bearlytools/svcpool"
	"github.com/bearlytools/svcpool/config"
	"github.com/bearlytools/svcpool/manager"

	"github.com/gostdlib/base/context"
	"github.com/urfave/cli/v2"
)

var (
	checkWait     time.Duration
	watchInterval time.Duration
)

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Print the resolved service configs",
		Description: `Reads the config file, applies defaults and validates every service.
Nothing is dialed.`,
		Action: runConfig,
	}
}

func checkCommand() *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "Connect to every service and report health",
		Description: `Starts a pool for every service, waits up to --wait for each to have a
READY connection, then prints health and metrics. Exits non-zero if any
service is unhealthy.`,
		Action: runCheck,
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:        "wait",
				Usage:       "how long to wait for each service to become ready",
				Value:       10 * time.Second,
				Destination: &checkWait,
			},
		},
	}
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Print pool health and metrics until interrupted",
		Action: runWatch,
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:        "interval",
				Usage:       "time between reports",
				Value:       5 * time.Second,
				Destination: &watchInterval,
			},
		},
	}
}

func loadConfigs() (map[string]config.ServiceConfig, error) {
	configs, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := config.ValidateAll(configs); err != nil {
		return nil, err
	}
	return configs, nil
}

func runConfig(cctx *cli.Context) error {
	configs, err := loadConfigs()
	if err != nil {
		return err
	}
	return renderConfigs(os.Stdout, format, configs)
}

func startPools(ctx context.Context) (*manager.Manager, error) {
	configs, err := loadConfigs()
	if err != nil {
		return nil, err
	}
	if err := svcpool.InitializePools(ctx, configs, manager.WithLogger(log)); err != nil {
		return nil, err
	}
	return svcpool.GetManager()
}

func runCheck(cctx *cli.Context) error {
	return check(context.Background(), os.Stdout)
}

// check starts every pool, waits up to checkWait for each service and writes a status
// report to w. It returns a cli.ExitCoder with code 1 if any service is unhealthy.
func check(ctx context.Context, w io.Writer) error {
	m, err := startPools(ctx)
	if err != nil {
		return err
	}
	defer svcpool.ShutdownPools()

	for _, svc := range m.Services() {
		wctx, cancel := context.WithTimeout(ctx, checkWait)
		if err := m.WaitReady(wctx, svc); err != nil {
			log.WithError(err).WithField("service", svc).Warn("service did not become ready")
		}
		cancel()
	}

	if err := renderStatus(w, format, newStatus(m)); err != nil {
		return err
	}

	var down []string
	health := m.HealthCheckAll()
	for _, svc := range m.Services() {
		if !health[svc] {
			down = append(down, svc)
		}
	}
	if len(down) > 0 {
		return cli.Exit(fmt.Sprintf("unhealthy services: %s", strings.Join(down, ", ")), 1)
	}
	return nil
}

func runWatch(cctx *cli.Context) error {
	if watchInterval <= 0 {
		return cli.Exit("--interval must be > 0", 2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return watch(ctx, os.Stdout)
}

// watch starts every pool and writes a status report to w every watchInterval until ctx
// is done.
func watch(ctx context.Context, w io.Writer) error {
	m, err := startPools(ctx)
	if err != nil {
		return err
	}
	defer svcpool.ShutdownPools()

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return nil
		case <-ticker.C:
			if err := renderStatus(w, format, newStatus(m)); err != nil {
				return err
			}
		}
	}
}
