package lifecycle

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"

	"github.com/x-zero2026/xz-wallet-contract/internal/otel"
)

// zeroMetrics stands in when no metrics were wired; its nil instruments make
// every recording a no-op.
var zeroMetrics otel.Metrics

func (s *Service) metricsOrNil() *otel.Metrics {
	if s.metrics == nil {
		return &zeroMetrics
	}
	return s.metrics
}

func (s *Service) count(inst metric.Float64Counter, ctx context.Context, amount decimal.Decimal) {
	if inst == nil {
		return
	}
	f, _ := amount.Float64()
	inst.Add(ctx, f)
}

func (s *Service) count1(inst metric.Int64Counter, ctx context.Context) {
	s.addN(inst, ctx, 1)
}

func (s *Service) addN(inst metric.Int64Counter, ctx context.Context, n int64) {
	if inst == nil {
		return
	}
	inst.Add(ctx, n)
}

func (s *Service) add(inst metric.Int64UpDownCounter, ctx context.Context, n int64) {
	if inst == nil {
		return
	}
	inst.Add(ctx, n)
}

func newTaskID() string {
	return uuid.NewString()
}
