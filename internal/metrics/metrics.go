package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the service collectors. A nil *Metrics is valid and records
// nothing, which keeps tests and tools free of registry plumbing.
type Metrics struct {
	betsPlaced      *prometheus.CounterVec
	betsRejected    *prometheus.CounterVec
	betsCanceled    *prometheus.CounterVec
	cashOuts        *prometheus.CounterVec
	roundsSettled   *prometheus.CounterVec
	payouts         *prometheus.CounterVec
	creditFailures  *prometheus.CounterVec
	relayResults    *prometheus.CounterVec
	workerResults   *prometheus.CounterVec
	connectedClient *prometheus.GaugeVec
	eventsDropped   *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		betsPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roundhouse_bets_placed_total", Help: "Bets committed to a round ledger.",
		}, []string{"game"}),
		betsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roundhouse_commands_rejected_total", Help: "Commands rejected, by code.",
		}, []string{"game", "code"}),
		betsCanceled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roundhouse_bets_canceled_total", Help: "Bets canceled and refunded.",
		}, []string{"game"}),
		cashOuts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roundhouse_cashouts_total", Help: "Successful cash-outs.",
		}, []string{"game"}),
		roundsSettled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roundhouse_rounds_settled_total", Help: "Rounds settled.",
		}, []string{"game"}),
		payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roundhouse_payout_units_total", Help: "Sum of payouts credited.",
		}, []string{"game"}),
		creditFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roundhouse_settlement_credit_failures_total", Help: "Settlement credits that failed.",
		}, []string{"game"}),
		relayResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roundhouse_relay_results_total", Help: "Persistence relay outcomes.",
		}, []string{"result"}),
		workerResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roundhouse_worker_jobs_total", Help: "Persistence worker job outcomes.",
		}, []string{"result"}),
		connectedClient: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roundhouse_connected_clients", Help: "Open realtime connections.",
		}, []string{"game"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roundhouse_hub_events_dropped_total", Help: "Realtime events dropped on a full queue.",
		}, []string{"game", "event", "reason"}),
	}
	reg.MustRegister(
		m.betsPlaced, m.betsRejected, m.betsCanceled, m.cashOuts, m.roundsSettled,
		m.payouts, m.creditFailures, m.relayResults, m.workerResults, m.connectedClient,
		m.eventsDropped,
	)
	return m
}

func (m *Metrics) BetPlaced(game string) {
	if m != nil {
		m.betsPlaced.WithLabelValues(game).Inc()
	}
}

func (m *Metrics) Rejected(game, code string) {
	if m != nil {
		m.betsRejected.WithLabelValues(game, code).Inc()
	}
}

func (m *Metrics) BetCanceled(game string) {
	if m != nil {
		m.betsCanceled.WithLabelValues(game).Inc()
	}
}

func (m *Metrics) CashOut(game string) {
	if m != nil {
		m.cashOuts.WithLabelValues(game).Inc()
	}
}

func (m *Metrics) RoundSettled(game string, payout float64) {
	if m != nil {
		m.roundsSettled.WithLabelValues(game).Inc()
		m.payouts.WithLabelValues(game).Add(payout)
	}
}

func (m *Metrics) CreditFailed(game string) {
	if m != nil {
		m.creditFailures.WithLabelValues(game).Inc()
	}
}

// Relay results: enqueued, retry, exhausted, buffer_full.
func (m *Metrics) Relay(result string) {
	if m != nil {
		m.relayResults.WithLabelValues(result).Inc()
	}
}

// Worker results: stored, duplicate, retry, dropped, decode_error.
func (m *Metrics) Worker(result string) {
	if m != nil {
		m.workerResults.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) ClientConnected(game string) {
	if m != nil {
		m.connectedClient.WithLabelValues(game).Inc()
	}
}

func (m *Metrics) ClientDisconnected(game string) {
	if m != nil {
		m.connectedClient.WithLabelValues(game).Dec()
	}
}

// EventDropped reasons: outbound_full, client_full.
func (m *Metrics) EventDropped(game, event, reason string) {
	if m != nil {
		m.eventsDropped.WithLabelValues(game, event, reason).Inc()
	}
}
