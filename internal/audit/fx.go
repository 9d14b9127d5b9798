package audit

import (
	"github.com/coursekitlabs/coursekit/internal/audit/repository"
	"github.com/coursekitlabs/coursekit/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.export",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
