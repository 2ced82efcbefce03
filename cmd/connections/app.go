package main

import (
	"encoding/json"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"svw.info/connections/internal/infrastructure/storage"
	"svw.info/connections/internal/metrics"
	"svw.info/connections/internal/usecase"
	"svw.info/connections/internal/validator"
)

// openService opens the configured datastore and wires the service. The
// caller closes the returned store.
func (a *app) openService(seed int64) (*usecase.Service, *storage.SQLite, *prometheus.Registry, error) {
	st, err := storage.NewSQLite(a.cfg.DatabasePath, a.logger)
	if err != nil {
		return nil, nil, nil, err
	}
	st.SetLockTTL(a.cfg.GetLockTTL())

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if seed == 0 {
		seed = a.cfg.Assembly.Seed
	}
	svc := usecase.NewService(st, storage.NewFS(a.cfg.PendingDir), validator.New(), usecase.Options{
		Assembly: a.cfg.AssemblerConfig(),
		Retry:    a.cfg.RetryPolicy(),
		Author:   a.cfg.Author,
		Seed:     seed,
		Metrics:  metrics.New(reg),
		Logger:   a.logger,
	})
	return svc, st, reg, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
