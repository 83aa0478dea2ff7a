package session

import (
	"github.com/smallbiznis/creditgate/internal/session/repository"
	"github.com/smallbiznis/creditgate/internal/session/service"
	"go.uber.org/fx"
)

var Module = fx.Module("session",
	fx.Provide(NewManager),
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
