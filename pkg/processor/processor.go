package processor

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/evmproc-dev/evmproc/internal/archive"
	"github.com/evmproc-dev/evmproc/internal/hotsource"
	"github.com/evmproc-dev/evmproc/internal/logger"
	"github.com/evmproc-dev/evmproc/internal/metrics"
	"github.com/evmproc-dev/evmproc/internal/migrations"
	"github.com/evmproc-dev/evmproc/internal/plan"
	"github.com/evmproc-dev/evmproc/internal/rpc"
	"github.com/evmproc-dev/evmproc/internal/runner"
	"github.com/evmproc-dev/evmproc/pkg/config"
	"github.com/evmproc-dev/evmproc/pkg/evm"
	"github.com/evmproc-dev/evmproc/pkg/handler"
)

// Compile-time checks that the concrete sources satisfy the runner's
// source interfaces.
var (
	_ runner.ArchiveSource = (*archive.Source)(nil)
	_ runner.HotSource     = (*hotsource.Source)(nil)
)

// Processor is the user-facing assembly of the pipeline. Declare what to
// ingest with the option methods, then call Run with a store and a handler.
//
//	p := processor.New()
//	p.SetDataSource(processor.DataSource{Archive: "...", Chain: "..."})
//	p.AddLog(processor.LogOptions{Address: []string{"0x..."}})
//	err := p.Run(ctx, db, handler.HandlerFunc(myHandler))
type Processor struct {
	cfg        config.ProcessorConfig
	ds         DataSource
	fields     evm.FieldSelection
	requests   []evm.BatchRequest
	blockRange evm.Range
	metrics    *config.MetricsConfig
	log        *logger.Logger
}

// New creates a processor with default configuration and an open block range.
func New() *Processor {
	cfg := config.ProcessorConfig{}
	cfg.ApplyDefaults()

	return &Processor{
		cfg:        cfg,
		blockRange: evm.OpenRange(0),
		log:        logger.GetDefaultLogger(),
	}
}

// SetConfig replaces the runtime configuration (schema prefix, safety
// depth, poll interval, retry policy).
func (p *Processor) SetConfig(cfg config.ProcessorConfig) {
	cfg.ApplyDefaults()
	p.cfg = cfg
}

// SetLogger replaces the processor's logger.
func (p *Processor) SetLogger(log *logger.Logger) {
	p.log = log
}

// SetDataSource names the upstreams. At least one of archive or chain is
// required.
func (p *Processor) SetDataSource(ds DataSource) {
	p.ds = ds
}

// SetFields sets the processor-wide field projection. It applies to every
// sub-request after merging.
func (p *Processor) SetFields(fields evm.FieldSelection) {
	p.fields = fields
}

// AddLog subscribes to logs matching the given criteria. Addresses and
// topics are normalized to lowercase hex before dispatch.
func (p *Processor) AddLog(opts LogOptions) {
	p.requests = append(p.requests, evm.BatchRequest{
		Range: requestRange(opts.Range),
		Request: evm.DataRequest{
			Logs: []evm.LogCriterion{{
				Address: normalizeList(opts.Address),
				Topics:  normalizeTopics(opts.Filter),
			}},
		},
	})
}

// AddTransaction subscribes to transactions matching the given criteria.
// Addresses and sighashes are normalized to lowercase hex before dispatch.
func (p *Processor) AddTransaction(opts TxOptions) {
	p.requests = append(p.requests, evm.BatchRequest{
		Range: requestRange(opts.Range),
		Request: evm.DataRequest{
			Transactions: []evm.TxCriterion{{
				To:      normalizeList(opts.To),
				From:    normalizeList(opts.From),
				Sighash: normalizeList(opts.Sighash),
			}},
		},
	})
}

// IncludeAllBlocks forces blocks with no matching items to be delivered
// within the given range (the whole processed range when nil).
func (p *Processor) IncludeAllBlocks(r *evm.Range) {
	p.requests = append(p.requests, evm.BatchRequest{
		Range:   requestRange(r),
		Request: evm.DataRequest{IncludeAllBlocks: true},
	})
}

// SetBlockRange clamps processing to the given range. A closed upper bound
// makes Run return once the bound is committed.
func (p *Processor) SetBlockRange(r evm.Range) {
	p.blockRange = r
}

// SetPrometheusPort exposes the metrics endpoint on the given port.
func (p *Processor) SetPrometheusPort(port int) {
	p.metrics = &config.MetricsConfig{
		Enabled:       true,
		ListenAddress: fmt.Sprintf(":%d", port),
	}
	p.metrics.ApplyDefaults()
}

// Run executes the pipeline against the given store until the context is
// cancelled or the closed block range is exhausted. The handler is invoked
// with each batch inside a store transaction.
func (p *Processor) Run(ctx context.Context, database *sql.DB, hdl handler.Handler) error {
	if p.ds.Archive == "" && p.ds.Chain == "" {
		return fmt.Errorf("no data source configured: set at least one of archive or chain")
	}

	if p.blockRange.IsEmpty() {
		p.log.Infof("block range [%d, %d] is empty, nothing to do", p.blockRange.From, *p.blockRange.To)
		return nil
	}

	requests := p.requests
	if len(requests) == 0 {
		// With no declared filters the pipeline still advances: deliver all
		// block headers so progress and hot-state tracking stay meaningful.
		requests = []evm.BatchRequest{{
			Range:   p.blockRange,
			Request: evm.DataRequest{IncludeAllBlocks: true},
		}}
	}

	merged := plan.MergeRequests(requests, p.blockRange)
	if len(merged) == 0 {
		p.log.Info("no requests fall inside the block range, nothing to do")
		return nil
	}

	if err := migrations.RunMigrations(database, p.cfg.StatusSchema, p.log); err != nil {
		return fmt.Errorf("failed to run status migrations: %w", err)
	}

	if p.metrics != nil {
		server := metrics.NewServer(p.metrics, p.log)
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			if err := server.Stop(context.Background()); err != nil {
				p.log.Warnf("failed to stop metrics server: %v", err)
			}
		}()
		p.log.Infof("metrics server started on %s%s", p.metrics.ListenAddress, p.metrics.Path)
	}

	masks := plan.EffectiveFields(p.fields)
	p.cfg.ArchiveURL = p.ds.Archive
	p.cfg.ChainURL = p.ds.Chain

	var archiveSource runner.ArchiveSource
	if p.ds.Archive != "" {
		archiveSource = archive.NewSource(p.cfg, masks, p.log)
	}

	var hotSource runner.HotSource
	if p.ds.Chain != "" {
		client, err := rpc.NewClient(ctx, p.ds.Chain, p.cfg.RPCCapacity, p.cfg.Retry)
		if err != nil {
			return fmt.Errorf("failed to create RPC client: %w", err)
		}
		defer client.Close()
		hotSource = hotsource.NewSource(client, masks, p.cfg.PollInterval.Duration, p.log)
	}

	run := runner.New(database, p.cfg, merged, archiveSource, hotSource, hdl, p.log)
	return run.Run(ctx)
}
