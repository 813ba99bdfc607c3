package daemon

import (
	"context"
	"errors"
	"net/http"
	"time"

	"autopilot/internal/fullauto"
	"autopilot/internal/logging"
)

type Daemon struct {
	addr    string
	token   string
	version string
	server  *http.Server
	service *fullauto.Service
	logs    fullauto.DecisionLogReader
	logger  logging.Logger
}

func New(addr, token, version string, service *fullauto.Service, logs fullauto.DecisionLogReader, logger logging.Logger) *Daemon {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Daemon{
		addr:    addr,
		token:   token,
		version: version,
		service: service,
		logs:    logs,
		logger:  logger,
	}
}

func (d *Daemon) Run(ctx context.Context) error {
	api := &API{
		Version: d.version,
		Service: d.service,
		Logs:    d.logs,
		Logger:  d.logger,
	}

	mux := http.NewServeMux()
	api.RegisterRoutes(mux)

	handler := TokenAuthMiddleware(d.token, mux)
	d.server = &http.Server{
		Addr:    d.addr,
		Handler: handler,
	}
	api.Shutdown = d.server.Shutdown

	errCh := make(chan error, 1)
	go func() {
		d.logger.Info("daemon listening", logging.F("addr", "http://"+d.addr))
		errCh <- d.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return d.shutdown()
	case err := <-errCh:
		d.drainRuns()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (d *Daemon) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	d.drainRuns()
	return nil
}

// drainRuns cancels live runs cooperatively so their terminal state is
// durably recorded before the process exits.
func (d *Daemon) drainRuns() {
	if d.service == nil {
		return
	}
	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	d.service.Shutdown(drainCtx)
}
