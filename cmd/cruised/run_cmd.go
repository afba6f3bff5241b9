package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"cruise/internal/app"
	"cruise/pkg/systemd"
)

type runCmd struct{}

func (c *runCmd) registerFlags() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the integration server until SIGINT/SIGTERM",
		Args:  cobra.NoArgs,
	}
}

func (c *runCmd) run(cl *cli, cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cl.configPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return err
	}
	_ = systemd.Ready()
	_ = systemd.Status("serving %d queue(s)", len(a.Manager().GetQueueNames()))

	select {
	case <-ctx.Done():
	case <-a.Done():
	}
	reason := app.StopSignal
	if ctx.Err() == nil {
		reason = app.StopFatalError
	}

	_ = systemd.Stopping()
	fatal := a.Err()
	if err := a.Stop(context.Background(), reason); err != nil {
		return err
	}
	return fatal
}
