package vendorledger

import (
	"github.com/partnerly/partnerly/internal/vendorledger/service"
	"go.uber.org/fx"
)

var Module = fx.Module("vendorledger.service",
	fx.Provide(service.NewService),
)
