package jobstore

import (
	"go.uber.org/fx"
)

// Module provides the PostgreSQL-backed Store.
var Module = fx.Module("jobstore",
	fx.Provide(
		NewRepository,
		func(r *Repository) Store { return r },
		func(r *Repository) Counter { return r },
	),
)
