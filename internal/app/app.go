package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"

	"github.com/dokzlo13/zhmcctl/internal/config"
	"github.com/dokzlo13/zhmcctl/internal/db"
	"github.com/dokzlo13/zhmcctl/internal/hmc"
	"github.com/dokzlo13/zhmcctl/internal/ledger"
	"github.com/dokzlo13/zhmcctl/internal/output"
	"github.com/dokzlo13/zhmcctl/internal/partitions"
	"github.com/dokzlo13/zhmcctl/internal/reconcile"
	"github.com/dokzlo13/zhmcctl/internal/reconcile/vfunction"
)

// logoffTimeout bounds the session logoff after the operation, which also
// runs after the operation context was canceled.
const logoffTimeout = 10 * time.Second

// App runs the zhmcctl operations. Each operation opens its own HMC session
// and releases it before returning.
type App struct {
	cfg    *config.Config
	log    zerolog.Logger
	db     *db.DB
	ledger *ledger.Ledger
}

// New creates a new App. The invocation ledger is opened when configured and
// expired entries are removed.
func New(cfg *config.Config, logger zerolog.Logger) (*App, error) {
	a := &App{cfg: cfg, log: logger}

	if cfg.Ledger.Path != "" {
		database, err := db.Open(cfg.Ledger.Path)
		if err != nil {
			return nil, err
		}
		a.db = database
		a.ledger = ledger.New(database.DB)

		retention := time.Duration(cfg.Ledger.RetentionDays) * 24 * time.Hour
		if deleted, err := a.ledger.DeleteOlderThan(retention); err != nil {
			logger.Warn().Err(err).Msg("Failed to apply ledger retention")
		} else if deleted > 0 {
			logger.Debug().Int64("deleted", deleted).Msg("Removed expired ledger entries")
		}
	}

	return a, nil
}

// Close releases the ledger database.
func (a *App) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// VirtualFunction reconciles one virtual function.
func (a *App) VirtualFunction(ctx context.Context, params vfunction.Params) (result *reconcile.Result, err error) {
	runID := ledger.NewRunID()
	logger := a.log.With().Str("run_id", runID).Logger()
	a.logEntry(logger, "vfunction").
		Str("cpc", params.CPCName).
		Str("partition", params.PartitionName).
		Str("name", params.Name).
		Str("state", string(params.State)).
		Bool("check_mode", params.CheckMode).
		Interface("properties", params.Properties).
		Msg("Module entry")

	err = a.withSession(ctx, logger, func(client *hmc.Client) error {
		var err error
		result, err = vfunction.New(client, logger).Run(ctx, params)
		return err
	})

	entry := &ledger.Entry{
		RunID:     runID,
		Module:    "vfunction",
		Target:    fmt.Sprintf("%s/%s/%s", params.CPCName, params.PartitionName, params.Name),
		State:     string(params.State),
		CheckMode: params.CheckMode,
	}
	if result != nil {
		entry.Changed = result.Changed
		entry.Payload = result.Properties
	}
	a.finish(logger, entry, err)

	return result, err
}

// Partitions lists the partitions of one or all CPCs.
func (a *App) Partitions(ctx context.Context, cpcName string) (infos []partitions.Info, err error) {
	runID := ledger.NewRunID()
	logger := a.log.With().Str("run_id", runID).Logger()
	a.logEntry(logger, "partitions").Str("cpc", cpcName).Msg("Module entry")

	err = a.withSession(ctx, logger, func(client *hmc.Client) error {
		var err error
		infos, err = partitions.New(client, logger).List(ctx, cpcName)
		return err
	})

	a.finish(logger, &ledger.Entry{
		RunID:   runID,
		Module:  "partitions",
		Target:  cpcName,
		Payload: map[string]any{"count": len(infos)},
	}, err)

	return infos, err
}

var errLedgerDisabled = output.ParameterError(fmt.Errorf("the invocation ledger is disabled (ledger.path is not set)"))

// History returns the most recent ledger entries.
func (a *App) History(limit int) ([]*ledger.Entry, error) {
	if a.ledger == nil {
		return nil, errLedgerDisabled
	}
	return a.ledger.Recent(limit)
}

// Invocation returns the ledger entries of one run. runID may be a prefix
// of the full id.
func (a *App) Invocation(runID string) ([]*ledger.Entry, error) {
	if a.ledger == nil {
		return nil, errLedgerDisabled
	}
	if runID == "" {
		return nil, output.ParameterError(fmt.Errorf("run id is required"))
	}
	entries, err := a.ledger.GetByRunID(runID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, output.ParameterError(fmt.Errorf("no ledger entries for run %q", runID))
	}
	return entries, nil
}

// withSession runs fn with a new HMC session. The session is released even
// when fn fails, and a logoff failure is combined with the error of fn.
func (a *App) withSession(ctx context.Context, logger zerolog.Logger, fn func(*hmc.Client) error) (err error) {
	client, err := hmc.Open(ctx, a.cfg.HMCOptions(), logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logoffTimeout)
		defer cancel()
		err = multierr.Append(err, client.Close(closeCtx))
	}()

	return fn(client)
}

// logEntry starts the entry record. Credentials are never logged.
func (a *App) logEntry(logger zerolog.Logger, module string) *zerolog.Event {
	auth := a.cfg.HMC.Auth
	return logger.Debug().
		Str("module", module).
		Str("hmc_host", a.cfg.HMC.Host).
		Str("hmc_userid", auth.Userid).
		Bool("hmc_session_id_set", auth.SessionID != "").
		Str("ca_certs", auth.CACerts).
		Bool("verify", auth.VerifyEnabled())
}

func (a *App) finish(logger zerolog.Logger, entry *ledger.Entry, err error) {
	if err != nil {
		logger.Debug().Err(err).Str("module", entry.Module).Msg("Module exit (failure)")
		entry.EventType = ledger.EventInvocationFailed
		entry.Message = output.Message(err)
	} else {
		logger.Debug().Str("module", entry.Module).Bool("changed", entry.Changed).Msg("Module exit (success)")
		entry.EventType = ledger.EventInvocationSucceeded
	}

	if a.ledger == nil {
		return
	}
	if lerr := a.ledger.Append(entry); lerr != nil {
		// The operation result stands, the ledger is only history.
		logger.Warn().Err(lerr).Msg("Failed to record invocation in ledger")
	}
}

// SignalContext creates a context that is cancelled when SIGINT or SIGTERM is received.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	return ctx
}
