package resolver

import "go.uber.org/fx"

var Module = fx.Module("quota.resolver",
	fx.Provide(New),
)
