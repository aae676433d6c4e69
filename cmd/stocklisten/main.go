// Package main provides the stocklisten CLI process entrypoint.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/otumarastudio/youtube-summarizer/internal/app"
)

// main wires process signal handling to the application runner. The first
// SIGINT/SIGTERM starts a graceful drain; a second one kills the process.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		stop()
	}()

	os.Exit(app.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr))
}
