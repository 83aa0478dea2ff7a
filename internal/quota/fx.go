// Package quota assembles the ledger, resolver, snapshot cache and the
// validate/commit service.
package quota

import (
	"github.com/smallbiznis/creditgate/internal/quota/repository"
	"github.com/smallbiznis/creditgate/internal/quota/resolver"
	"github.com/smallbiznis/creditgate/internal/quota/service"
	"github.com/smallbiznis/creditgate/internal/quota/snapshot"
	"go.uber.org/fx"
)

var Module = fx.Module("quota",
	repository.Module,
	resolver.Module,
	snapshot.Module,
	service.Module,
)
