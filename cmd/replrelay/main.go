package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/guseggert/replrelay/config"
	"github.com/guseggert/replrelay/relay"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "Path to a TOML or YAML config file. Defaults to the nearest " + config.DefaultFileName + " above the working directory.",
	EnvVars: []string{"REPLRELAY_CONFIG"},
}

var tokenFlag = &cli.StringFlag{
	Name:    "token",
	Usage:   "The shared secret sent in the authorization header.",
	EnvVars: []string{"REPLRELAY_TOKEN"},
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("getting wd: %w", err)
		}
		path, err = config.FindConfig(wd)
		if err != nil {
			return nil, fmt.Errorf("finding config file: %w", err)
		}
		if path == "" {
			return nil, fmt.Errorf("no config file given and no %s found", config.DefaultFileName)
		}
	}
	return config.Load(path)
}

func serve(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx.String("config"))
	if err != nil {
		return err
	}
	if ctx.IsSet("listen-addr") {
		cfg.ListenAddr = ctx.String("listen-addr")
	}
	if ctx.IsSet("token") {
		cfg.Token = ctx.String("token")
	}
	if ctx.IsSet("session-timeout") {
		cfg.SessionTimeout.Duration = ctx.Duration("session-timeout")
	}

	logConfig := zap.NewProductionConfig()
	logConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	logger, err := logConfig.Build()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()

	opts := []relay.Option{relay.WithLogger(logger)}
	if !ctx.Bool("debug") {
		opts = append(opts, relay.WithLogLevel(zapcore.InfoLevel))
	}
	r, err := relay.New(cfg, opts...)
	if err != nil {
		return fmt.Errorf("building relay: %w", err)
	}
	if err := r.Start(); err != nil {
		return err
	}

	sigCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-sigCtx.Done()
		if err := r.Stop(); err != nil {
			logger.Sugar().Warnf("error stopping relay: %s", err)
		}
	}()

	return r.Serve()
}

func send(ctx *cli.Context) error {
	if ctx.NArg() < 2 {
		return errors.New("usage: send DEVICE COMMAND [COMMAND...]")
	}
	var opts []relay.ClientOption
	if ctx.Bool("debug") {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return fmt.Errorf("building logger: %w", err)
		}
		opts = append(opts, relay.WithClientLogger(logger))
	}
	client, err := relay.NewClient(ctx.String("url"), ctx.String("token"), opts...)
	if err != nil {
		return err
	}
	return client.Send(ctx.Context, ctx.Args().First(), ctx.Args().Tail())
}

func devices(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx.String("config"))
	if err != nil {
		return err
	}
	for _, d := range cfg.Devices {
		fmt.Fprintf(ctx.App.Writer, "%s\t%s:%d\n", d.Name, d.Address, d.Port)
	}
	return nil
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "replrelay",
		Usage: "relay HTTP command lists to a prompt-driven device REPL",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Run the relay HTTP server.",
				Flags: []cli.Flag{
					configFlag,
					tokenFlag,
					&cli.StringFlag{
						Name:  "listen-addr",
						Usage: "The address for the HTTP server to listen on. Overrides the config file.",
					},
					&cli.DurationFlag{
						Name:  "session-timeout",
						Usage: "Kill REPL sessions that run longer than this. Zero waits forever.",
					},
					&cli.BoolFlag{
						Name:  "debug",
						Usage: "Enable debug logging.",
					},
				},
				Action: serve,
			},
			{
				Name:      "send",
				Usage:     "Send commands to a device through a running relay.",
				ArgsUsage: "DEVICE COMMAND [COMMAND...]",
				Flags: []cli.Flag{
					tokenFlag,
					&cli.StringFlag{
						Name:  "url",
						Usage: "The relay's base URL.",
						Value: "http://127.0.0.1:8080",
					},
					&cli.BoolFlag{
						Name:  "debug",
						Usage: "Enable debug logging.",
					},
				},
				Action: send,
			},
			{
				Name:   "devices",
				Usage:  "List the configured devices.",
				Flags:  []cli.Flag{configFlag},
				Action: devices,
			},
		},
	}
}

func main() {
	if err := newApp().RunContext(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
