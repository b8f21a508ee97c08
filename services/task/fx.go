package task

import (
	"go.uber.org/fx"
)

var Module = fx.Module("task.service",
	fx.Provide(
		NewService,
	),
)

// Periodic wires the scheduler entries. Only the worker binary includes it.
var Periodic = fx.Module("task.periodic",
	fx.Invoke(RegisterPeriodic),
)
