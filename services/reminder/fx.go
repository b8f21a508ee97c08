package reminder

import (
	"go.uber.org/fx"
)

var Module = fx.Module("reminder.service",
	fx.Provide(
		NewService,
		NewRunner,
		NewHandler,
	),
)

// Worker mounts the reminder task handlers on the asynq server mux.
var Worker = fx.Module("reminder.worker",
	fx.Invoke(RegisterTaskHandlers),
)
