package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/familydiary/diary/internal/cli"
	"github.com/familydiary/diary/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "diary:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}

	env, closeStore, err := cli.Build(ctx, cfg, os.Stdin, os.Stdout, os.Stderr)
	if err != nil {
		return err
	}
	defer closeStore()

	return cli.Run(ctx, os.Args[1:], env)
}
