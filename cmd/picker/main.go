// Command picker serves the geo-radius picker over HTTP.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mycobrun/cobrun-picker/bootstrap"
	"github.com/mycobrun/cobrun-picker/logging"
)

const serviceName = "picker"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := bootstrap.Initialize(ctx, serviceName, bootstrap.Options{})
	if err != nil {
		logging.NewLogger("info").WithService(serviceName).Fatal("failed to initialize", "error", err)
	}

	runErr := svc.Run(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := svc.Close(closeCtx); err != nil {
		svc.Logger.Error("shutdown incomplete", "error", err)
	}

	if runErr != nil {
		svc.Logger.Fatal("server stopped", "error", runErr)
	}
}
