// svcpool is an operator tool for connection pools to backend services. It reads a TOML
// file of service configs, and can print them, check that every service can be reached,
// or watch pool health and metrics until interrupted.
//
// Usage:
//
//	svcpool -c services.toml config
//	svcpool -c services.toml --format json check --wait 30s
//	svcpool -c services.toml watch --interval 5s
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var (
	configPath string
	logLevel   string
	format     string

	log = logrus.New()
)

func main() {
	app := &cli.App{
		Name:  "svcpool",
		Usage: "inspect connection pools to backend services",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to the TOML file of service configs",
				EnvVars:     []string{"SVCPOOL_CONFIG"},
				Value:       "services.toml",
				Destination: &configPath,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (trace, debug, info, warn, error)",
				EnvVars:     []string{"SVCPOOL_LOG_LEVEL"},
				Value:       "warn",
				Destination: &logLevel,
			},
			&cli.StringFlag{
				Name:        "format",
				Usage:       "output format (table, json)",
				Value:       formatTable,
				Destination: &format,
			},
		},
		Before: setup,
		Commands: []*cli.Command{
			configCommand(),
			checkCommand(),
			watchCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func setup(ctx *cli.Context) error {
	lvl, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	log.SetLevel(lvl)
	log.SetOutput(os.Stderr)

	switch format {
	case formatTable, formatJSON:
	default:
		return cli.Exit("--format must be table or json, got "+format, 2)
	}
	return nil
}
