package repository

import "go.uber.org/fx"

var Module = fx.Module("quota.repository",
	fx.Provide(Provide),
)
