package main

import (
	"context"
	"fmt"
	"os"

	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	appkg "github.com/xenking/storefront/internal/app"
)

func main() {
	// Fail fast on bad configuration, before telemetry is bootstrapped.
	cfg, err := appkg.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "storefront:", err)
		os.Exit(2)
	}
	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		return appkg.Run(ctx, lg.Named("storefront"), m, cfg)
	})
}
