package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JohnOrlandSudoy/restaurant-server/internal/events"
	"github.com/JohnOrlandSudoy/restaurant-server/internal/models"
)

// Collector owns the prometheus metrics of the consistency core.
type Collector struct {
	registry *prometheus.Registry

	movements         *prometheus.CounterVec
	ordersPlaced      prometheus.Counter
	ordersConfirmed   prometheus.Counter
	insufficientStock prometheus.Counter
	domainEvents      *prometheus.CounterVec
	paymentOutcomes   *prometheus.CounterVec
}

// NewCollector creates and registers the core's metrics.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	movements := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stock_movements_total",
			Help: "Stock movements recorded, by kind",
		},
		[]string{"kind"},
	)

	ordersPlaced := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orders_placed_total",
			Help: "Orders placed",
		},
	)

	ordersConfirmed := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orders_confirmed_total",
			Help: "Orders confirmed with stock reserved",
		},
	)

	insufficientStock := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "insufficient_stock_rejections_total",
			Help: "Operations rejected for insufficient stock",
		},
	)

	domainEvents := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "domain_events_total",
			Help: "Domain events dispatched, by type",
		},
		[]string{"type"},
	)

	paymentOutcomes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_outcomes_total",
			Help: "Terminal payment authorization outcomes, by status",
		},
		[]string{"status"},
	)

	for _, metric := range []prometheus.Collector{
		movements, ordersPlaced, ordersConfirmed, insufficientStock, domainEvents, paymentOutcomes,
	} {
		registry.MustRegister(metric)
	}

	return &Collector{
		registry:          registry,
		movements:         movements,
		ordersPlaced:      ordersPlaced,
		ordersConfirmed:   ordersConfirmed,
		insufficientStock: insufficientStock,
		domainEvents:      domainEvents,
		paymentOutcomes:   paymentOutcomes,
	}
}

// Handler returns the scrape endpoint for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordMovement counts a recorded stock movement.
func (c *Collector) RecordMovement(kind models.MovementKind) {
	c.movements.WithLabelValues(string(kind)).Inc()
}

// RecordOrderPlaced counts a placed order.
func (c *Collector) RecordOrderPlaced() {
	c.ordersPlaced.Inc()
}

// RecordOrderConfirmed counts a confirmed order.
func (c *Collector) RecordOrderConfirmed() {
	c.ordersConfirmed.Inc()
}

// RecordInsufficientStock counts a rejection for insufficient stock.
func (c *Collector) RecordInsufficientStock() {
	c.insufficientStock.Inc()
}

// RecordPaymentOutcome counts a terminal authorization outcome.
func (c *Collector) RecordPaymentOutcome(status models.PaymentAuthStatus) {
	c.paymentOutcomes.WithLabelValues(string(status)).Inc()
}

// InstrumentedDispatcher counts domain events as they pass through to the
// wrapped dispatcher.
type InstrumentedDispatcher struct {
	collector *Collector
	next      events.Dispatcher
}

// Instrument wraps a dispatcher with event counting.
func (c *Collector) Instrument(next events.Dispatcher) *InstrumentedDispatcher {
	return &InstrumentedDispatcher{collector: c, next: next}
}

// Dispatch counts the event and forwards it.
func (d *InstrumentedDispatcher) Dispatch(event models.Event) {
	d.collector.domainEvents.WithLabelValues(string(event.Type)).Inc()
	switch event.Type {
	case models.EventPaymentSettled:
		d.collector.RecordPaymentOutcome(models.AuthStatusSucceeded)
	case models.EventPaymentFailed:
		d.collector.RecordPaymentOutcome(models.AuthStatusFailed)
	case models.EventPaymentExpired:
		d.collector.RecordPaymentOutcome(models.AuthStatusExpired)
	}
	d.next.Dispatch(event)
}
