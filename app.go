package main

import (
	"github.com/mmdatafocus/depletions_backend/config"
	"github.com/mmdatafocus/depletions_backend/depletionsync"
	"github.com/mmdatafocus/depletions_backend/ingest"
	"github.com/mmdatafocus/depletions_backend/ledger"
	"github.com/mmdatafocus/depletions_backend/metrics"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// app holds the services behind the HTTP routes. It is built once the
// database is reachable.
type app struct {
	db     *gorm.DB
	ledger *ledger.Ledger
	ingest *ingest.Service
	engine *metrics.Engine
	worker *depletionsync.Worker
	logger *logrus.Logger
}

func newApp(db *gorm.DB) *app {
	svc := ingest.NewService(db)
	return &app{
		db:     db,
		ledger: svc.Ledger(),
		ingest: svc,
		engine: metrics.NewEngine(svc.Ledger()),
		worker: depletionsync.NewWorker(db, svc),
		logger: config.GetLogger(),
	}
}
