// cmd/docstore/main.go
package main

import (
	"context"
	"os"

	"github.com/dalemusser/docstore/app"
	"github.com/dalemusser/docstore/config"
	"go.uber.org/zap"
)

func main() {
	hooks := app.Hooks[*backends]{
		Name: "docstore",
		LoadConfig: func(logger *zap.Logger) (*config.CoreConfig, error) {
			return config.Load(logger, os.Args[1:])
		},
		ConnectDB:    connect,
		EnsureSchema: ensureSchema,
		BuildHandler: buildHandler,
		Shutdown:     shutdown,
	}
	if err := app.Run(context.Background(), hooks); err != nil {
		os.Exit(1)
	}
}
