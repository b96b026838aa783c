package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds the wallet's metric instruments.
type Metrics struct {
	Transitions     metric.Int64Counter
	EscrowLocked    metric.Float64Counter
	EscrowReleased  metric.Float64Counter
	EscrowRefunded  metric.Float64Counter
	ActiveTasks     metric.Int64UpDownCounter
	BidsPlaced      metric.Int64Counter
	BidsExpired     metric.Int64Counter
	LedgerRetries   metric.Int64Counter
	OperationErrors metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.Transitions, err = meter.Int64Counter("xzwallet.task.transitions",
		metric.WithDescription("Committed task status transitions"),
	)
	if err != nil {
		return nil, err
	}

	m.EscrowLocked, err = meter.Float64Counter("xzwallet.escrow.locked",
		metric.WithDescription("Total funds locked into escrow"),
	)
	if err != nil {
		return nil, err
	}

	m.EscrowReleased, err = meter.Float64Counter("xzwallet.escrow.released",
		metric.WithDescription("Total escrowed funds released to executors"),
	)
	if err != nil {
		return nil, err
	}

	m.EscrowRefunded, err = meter.Float64Counter("xzwallet.escrow.refunded",
		metric.WithDescription("Total escrowed funds refunded to creators"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveTasks, err = meter.Int64UpDownCounter("xzwallet.task.active",
		metric.WithDescription("Tasks currently in a non-terminal status"),
	)
	if err != nil {
		return nil, err
	}

	m.BidsPlaced, err = meter.Int64Counter("xzwallet.bid.placed",
		metric.WithDescription("Bids placed or refreshed"),
	)
	if err != nil {
		return nil, err
	}

	m.BidsExpired, err = meter.Int64Counter("xzwallet.bid.expired",
		metric.WithDescription("Stale bids expired by the sweeper"),
	)
	if err != nil {
		return nil, err
	}

	m.LedgerRetries, err = meter.Int64Counter("xzwallet.ledger.retries",
		metric.WithDescription("Ledger calls retried after transient failure"),
	)
	if err != nil {
		return nil, err
	}

	m.OperationErrors, err = meter.Int64Counter("xzwallet.operation.errors",
		metric.WithDescription("Lifecycle operations rejected with a domain error"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
