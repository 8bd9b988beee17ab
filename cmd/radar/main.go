package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/Auditware/radar/internal/app"
	"github.com/Auditware/radar/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := app.BuildRoot().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "radar:", err)
	}
	os.Exit(cli.ExitCode(err))
}
