package referralcode

import (
	"github.com/partnerly/partnerly/internal/referralcode/service"
	"go.uber.org/fx"
)

var Module = fx.Module("referralcode.service",
	fx.Provide(service.NewService),
)
