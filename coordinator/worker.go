package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/Konstantsiy/alglobo/config"
	"github.com/Konstantsiy/alglobo/ledger"
	"github.com/Konstantsiy/alglobo/protocol"
	"github.com/Konstantsiy/alglobo/stats"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-metrics"
)

// PaymentsWorker is the leader's job: resume the pending payments file from
// the ledger and run two-phase commit for every payment left.
type PaymentsWorker struct {
	cfg     *config.Config
	metrics *metrics.Metrics
	logger  hclog.Logger
}

func NewPaymentsWorker(cfg *config.Config, m *metrics.Metrics, logger hclog.Logger) *PaymentsWorker {
	return &PaymentsWorker{
		cfg:     cfg,
		metrics: m,
		logger:  logger.Named("worker"),
	}
}

func (w *PaymentsWorker) Work(ctx context.Context, leadership Leadership) (bool, error) {
	results, err := ledger.Open(w.cfg.Ledger)
	if err != nil {
		return false, err
	}
	defer results.Close()

	processed, err := results.ProcessedIDs()
	if err != nil {
		return false, fmt.Errorf("failed to load processed payments: %w", err)
	}

	queue, err := ledger.LoadPendingQueue(w.cfg.Ledger.Pending, processed)
	if err != nil {
		return false, err
	}
	w.logger.Info("payments loaded", "pending", queue.Len(), "already_processed", len(processed))

	var co = w.cfg.Coordinator

	hotel, err := DialEntity("hotel", co.Hotel, co.RequestTimeout, w.logger)
	if err != nil {
		return false, err
	}
	defer hotel.Close()

	airline, err := DialEntity("airline", co.Airline, co.RequestTimeout, w.logger)
	if err != nil {
		return false, err
	}
	defer airline.Close()

	bank, err := DialEntity("bank", co.Bank, co.RequestTimeout, w.logger)
	if err != nil {
		return false, err
	}
	defer bank.Close()

	var sink StatsSink = discardStats{}
	if co.Stats != "" {
		var client = stats.NewClient(co.Stats, time.Second, w.metrics, w.logger)
		client.Start()
		defer client.Close()
		sink = client
	}

	var processor = NewProcessor(ProcessorConfig{
		Hotel:   hotel,
		Airline: airline,
		Bank:    bank,
		Results: results,
		Stats:   sink,
		Pause:   co.Pause,
	}, w.logger)

	return processor.Run(ctx, queue, leadership)
}

type discardStats struct{}

func (discardStats) Send(protocol.Event) {}
