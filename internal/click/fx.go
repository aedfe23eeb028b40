package click

import (
	"github.com/partnerly/partnerly/internal/click/service"
	"go.uber.org/fx"
)

var Module = fx.Module("click.service",
	fx.Provide(service.NewService),
)
