package bootstrap

import (
	"context"

	"go.uber.org/fx"
)

// Module migrates the schema before the HTTP server starts accepting
// requests. The worker binary leaves migrations to the API.
var Module = fx.Module("bootstrap",
	fx.Provide(NewService),
	fx.Invoke(func(lc fx.Lifecycle, s *Service) {
		lc.Append(fx.StartHook(func(ctx context.Context) error {
			return s.Migrate(ctx)
		}))
	}),
)
