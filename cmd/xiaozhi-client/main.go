// Package main provides the xiaozhi-client entrypoint.
//
// Usage:
//
//	xiaozhi-client [--config path] [run]
//	xiaozhi-client play <song>
//	xiaozhi-client status [--format json|yaml]
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/saker-ai/xiaozhi-client/pkg/runtime"
)

var version = "dev"

const shutdownTimeout = 5 * time.Second

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "Path to conf.yaml",
	EnvVars: []string{"XZ_CONFIG"},
}

func main() {
	app := &cli.App{
		Name:    "xiaozhi-client",
		Usage:   "Voice assistant device client",
		Version: version,
		Flags:   []cli.Flag{configFlag},
		Action:  runAction,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Connect to the server and serve the local control API",
				Action: runAction,
			},
			{
				Name:      "play",
				Usage:     "Look up a song and play it to the end",
				ArgsUsage: "<song>",
				Action:    playAction,
			},
			statusCommand(),
			{
				Name:  "version",
				Usage: "Show version information",
				Action: func(c *cli.Context) error {
					fmt.Fprintln(c.App.Writer, version)
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func shutdown(app *runtime.App) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return app.Shutdown(ctx)
}

func runAction(c *cli.Context) error {
	app, err := runtime.New(c.String(configFlag.Name), runtime.Options{})
	if err != nil {
		return err
	}
	ctx, stop := signalContext(c.Context)
	defer stop()

	runErr := app.Run(ctx)
	return errors.Join(runErr, shutdown(app))
}

func playAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("play needs a song name", 2)
	}
	app, err := runtime.New(c.String(configFlag.Name), runtime.Options{Headless: true})
	if err != nil {
		return err
	}
	ctx, stop := signalContext(c.Context)
	defer stop()

	playErr := app.PlayOnce(ctx, c.Args().First())
	return errors.Join(playErr, shutdown(app))
}
