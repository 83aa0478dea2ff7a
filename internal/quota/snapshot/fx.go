package snapshot

import "go.uber.org/fx"

var Module = fx.Module("quota.snapshot",
	fx.Provide(NewCache),
	fx.Provide(NewLoader),
)
