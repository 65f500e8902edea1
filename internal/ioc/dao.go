package ioc

import (
	"github.com/JrMarcco/jremind/internal/repository/dao"
	"go.uber.org/fx"
)

var DaoFxOpt = fx.Provide(
	// job dao
	fx.Annotate(
		dao.NewDefaultJobDAO,
		fx.As(new(dao.JobDAO)),
	),
	// idempotency ledger dao
	fx.Annotate(
		dao.NewDefaultLedgerDAO,
		fx.As(new(dao.LedgerDAO)),
	),
	// circuit state dao
	fx.Annotate(
		dao.NewDefaultCircuitDAO,
		fx.As(new(dao.CircuitDAO)),
	),
	// queued message dao
	fx.Annotate(
		dao.NewDefaultQueueDAO,
		fx.As(new(dao.QueueDAO)),
	),
)
