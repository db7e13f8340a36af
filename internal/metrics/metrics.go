// Package metrics exposes engine counters and gauges to prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"deltabot/internal/pkg/circuit"
	"deltabot/internal/risk"
	"deltabot/internal/types"
)

const namespace = "deltabot"

// Registry owns a private prometheus registry so several engines (and
// tests) never collide on the global one.
type Registry struct {
	reg *prometheus.Registry

	ticks        prometheus.Counter
	tickErrors   prometheus.Counter
	tickDuration prometheus.Histogram
	signals      *prometheus.CounterVec
	decisions    *prometheus.CounterVec
	orders       *prometheus.CounterVec
	breakerTrips prometheus.Counter
	breakerState *prometheus.GaugeVec
	storeErrors  prometheus.Counter

	riskLevel     prometheus.Gauge
	drawdown      prometheus.Gauge
	exposure      prometheus.Gauge
	halted        prometheus.Gauge
	openPositions prometheus.Gauge
	equity        prometheus.Gauge
	dailyPnL      prometheus.Gauge
}

func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ticks_total", Help: "Engine ticks run",
		}),
		tickErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "tick_errors_total", Help: "Ticks that ended with an error",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "tick_duration_seconds", Help: "Wall time of one engine tick",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "signals_total", Help: "Merged strategy signals by direction and kind",
		}, []string{"symbol", "direction", "kind"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "risk_decisions_total", Help: "Risk gate verdicts by outcome and reason",
		}, []string{"outcome", "reason"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "orders_total", Help: "Orders by kind and terminal state",
		}, []string{"kind", "state"}),
		breakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "breaker_trips_total", Help: "Times the exchange circuit breaker opened",
		}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "breaker_state", Help: "0=closed, 1=open, 2=half_open",
		}, []string{"breaker"}),
		storeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "store_write_errors_total", Help: "Persistence writes that failed",
		}),
		riskLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "risk_level", Help: "0=low, 1=medium, 2=high, 3=critical",
		}),
		drawdown: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "drawdown_ratio", Help: "Drawdown from peak equity as a fraction",
		}),
		exposure: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "exposure", Help: "Aggregate notional of open positions",
		}),
		halted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "trading_halted", Help: "1 while new entries are blocked",
		}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "open_positions", Help: "Positions counted against the open limit",
		}),
		equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "equity", Help: "Account equity used for sizing",
		}),
		dailyPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "daily_realized_pnl", Help: "Realized P&L of the current trading day",
		}),
	}
	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.ticks, r.tickErrors, r.tickDuration,
		r.signals, r.decisions, r.orders,
		r.breakerTrips, r.breakerState, r.storeErrors,
		r.riskLevel, r.drawdown, r.exposure, r.halted, r.openPositions, r.equity, r.dailyPnL,
	)
	return r
}

// Handler serves the registry in the prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

func (r *Registry) ObserveTick(d time.Duration, err error) {
	r.ticks.Inc()
	r.tickDuration.Observe(d.Seconds())
	if err != nil {
		r.tickErrors.Inc()
	}
}

func (r *Registry) ObserveSignal(sig types.Signal) {
	r.signals.WithLabelValues(sig.Symbol, string(sig.Direction), string(sig.Kind)).Inc()
}

func (r *Registry) ObserveDecision(d risk.Decision) {
	r.decisions.WithLabelValues(string(d.Outcome), string(d.Reason)).Inc()
}

func (r *Registry) ObserveOrder(kind, state string) {
	r.orders.WithLabelValues(kind, state).Inc()
}

// BreakerChanged matches circuit.CircuitBreaker's state change hook.
func (r *Registry) BreakerChanged(name string, _, to circuit.State) {
	var v float64
	switch to {
	case circuit.StateOpen:
		v = 1
		r.breakerTrips.Inc()
	case circuit.StateHalfOpen:
		v = 2
	}
	r.breakerState.WithLabelValues(name).Set(v)
}

func (r *Registry) StoreError() { r.storeErrors.Inc() }

// ObserveRisk mirrors the gate's state into gauges.
func (r *Registry) ObserveRisk(st risk.State) {
	r.riskLevel.Set(float64(st.Level.Ordinal()))
	r.drawdown.Set(st.Drawdown.InexactFloat64())
	r.exposure.Set(st.Exposure.InexactFloat64())
	r.openPositions.Set(float64(st.OpenPositions))
	r.equity.Set(st.Equity.InexactFloat64())
	r.dailyPnL.Set(st.DailyRealizedPnL.InexactFloat64())
	if st.TradingHalted {
		r.halted.Set(1)
	} else {
		r.halted.Set(0)
	}
}

// WatchDrops registers a counter read from fn at scrape time, for queues
// that already keep their own drop count.
func (r *Registry) WatchDrops(queue string, fn func() uint64) {
	r.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "queue_dropped_total",
		Help:        "Items dropped because a bounded queue was full",
		ConstLabels: prometheus.Labels{"queue": queue},
	}, func() float64 { return float64(fn()) }))
}
