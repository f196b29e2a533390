package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PoolMetrics aggregates the counters and gauges emitted by the pool daemon.
type PoolMetrics struct {
	operations       *prometheus.CounterVec
	operationErrors  *prometheus.CounterVec
	liquidations     prometheus.Counter
	ordersPlaced     prometheus.Counter
	ordersExecuted   *prometheus.CounterVec
	reserveLiquidity *prometheus.GaugeVec
	reserveDebt      *prometheus.GaugeVec
}

var (
	poolOnce     sync.Once
	poolRegistry *PoolMetrics
)

// Pool returns the process-wide metrics registry, registering the collectors
// on first use.
func Pool() *PoolMetrics {
	poolOnce.Do(func() {
		poolRegistry = &PoolMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "pool_operations_total",
				Help: "Count of completed pool operations by kind.",
			}, []string{"op"}),
			operationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "pool_operation_errors_total",
				Help: "Count of rejected pool operations by kind.",
			}, []string{"op"}),
			liquidations: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "pool_liquidations_total",
				Help: "Count of completed liquidation calls.",
			}),
			ordersPlaced: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "pool_orders_placed_total",
				Help: "Count of conditional orders registered with the book.",
			}),
			ordersExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "pool_orders_executed_total",
				Help: "Count of executed conditional orders by venue.",
			}, []string{"venue"}),
			reserveLiquidity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "pool_reserve_liquidity",
				Help: "Available underlying liquidity per reserve.",
			}, []string{"asset"}),
			reserveDebt: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "pool_reserve_debt",
				Help: "Outstanding variable debt per reserve.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(
			poolRegistry.operations,
			poolRegistry.operationErrors,
			poolRegistry.liquidations,
			poolRegistry.ordersPlaced,
			poolRegistry.ordersExecuted,
			poolRegistry.reserveLiquidity,
			poolRegistry.reserveDebt,
		)
	})
	return poolRegistry
}

// ObserveOperation records a completed pool operation.
func (m *PoolMetrics) ObserveOperation(op string) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	m.operations.WithLabelValues(op).Inc()
}

// ObserveOperationError records a rejected pool operation.
func (m *PoolMetrics) ObserveOperationError(op string) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	m.operationErrors.WithLabelValues(op).Inc()
}

// ObserveLiquidation records a completed liquidation call.
func (m *PoolMetrics) ObserveLiquidation() {
	if m == nil {
		return
	}
	m.liquidations.Inc()
}

// ObserveOrderPlaced records a newly registered conditional order.
func (m *PoolMetrics) ObserveOrderPlaced() {
	if m == nil {
		return
	}
	m.ordersPlaced.Inc()
}

// ObserveOrderExecuted records a triggered conditional order.
func (m *PoolMetrics) ObserveOrderExecuted(venue string) {
	if m == nil {
		return
	}
	if venue == "" {
		venue = "unknown"
	}
	m.ordersExecuted.WithLabelValues(venue).Inc()
}

// SetReserveLiquidity publishes the available liquidity for the asset.
func (m *PoolMetrics) SetReserveLiquidity(asset string, amount float64) {
	if m == nil {
		return
	}
	m.reserveLiquidity.WithLabelValues(asset).Set(amount)
}

// SetReserveDebt publishes the outstanding debt for the asset.
func (m *PoolMetrics) SetReserveDebt(asset string, amount float64) {
	if m == nil {
		return
	}
	m.reserveDebt.WithLabelValues(asset).Set(amount)
}
