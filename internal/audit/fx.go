package audit

import (
	"github.com/partnerly/partnerly/internal/audit/repository"
	"github.com/partnerly/partnerly/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
