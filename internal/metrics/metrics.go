// Package metrics exposes engine events and request outcomes as Prometheus series.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"musicduel.ai/internal/sim/engine"
)

// Collector is an engine.Recorder backed by its own registry.
type Collector struct {
	reg *prometheus.Registry

	turns     *prometheus.CounterVec
	epochs    *prometheus.CounterVec
	votes     *prometheus.CounterVec
	bets      *prometheus.CounterVec
	staked    *prometheus.CounterVec
	claims    *prometheus.CounterVec
	resets    *prometheus.CounterVec
	running   *prometheus.GaugeVec
	listeners *prometheus.GaugeVec
	requests  *prometheus.CounterVec
}

func New() *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "musicduel_turns_materialized_total",
			Help: "Turns appended to clip history, by acting side and turn winner.",
		}, []string{"lobby", "agent", "winner"}),
		epochs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "musicduel_epochs_finalized_total",
			Help: "Epochs finalized, by winner.",
		}, []string{"lobby", "winner"}),
		votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "musicduel_votes_total",
			Help: "Accepted votes.",
		}, []string{"lobby", "side"}),
		bets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "musicduel_bets_total",
			Help: "Accepted bets.",
		}, []string{"lobby", "side"}),
		staked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "musicduel_staked_amount_total",
			Help: "Sum of accepted bet amounts in the smallest unit.",
		}, []string{"lobby", "side"}),
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "musicduel_claims_marked_total",
			Help: "Claims mirrored from the settlement contract.",
		}, []string{"lobby"}),
		resets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "musicduel_resets_total",
			Help: "Administrative lobby resets.",
		}, []string{"lobby"}),
		running: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "musicduel_loop_running",
			Help: "1 while the lobby's turn loop is running.",
		}, []string{"lobby"}),
		listeners: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "musicduel_listeners",
			Help: "Live listener sessions as of the last change.",
		}, []string{"lobby"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "musicduel_http_requests_total",
			Help: "API requests by route and response code.",
		}, []string{"route", "code"}),
	}
	c.reg.MustRegister(
		c.turns, c.epochs, c.votes, c.bets, c.staked, c.claims, c.resets,
		c.running, c.listeners, c.requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}

func (c *Collector) Record(ev engine.Event) {
	if c == nil {
		return
	}
	lobby := ev.LobbyID
	switch ev.Kind {
	case engine.EventTurn:
		agent := ""
		if ev.Turn != nil {
			agent = string(ev.Turn.Agent)
		}
		c.turns.WithLabelValues(lobby, agent, string(ev.Side)).Inc()
	case engine.EventEpoch:
		c.epochs.WithLabelValues(lobby, string(ev.Side)).Inc()
	case engine.EventVote:
		c.votes.WithLabelValues(lobby, string(ev.Side)).Inc()
	case engine.EventBet:
		c.bets.WithLabelValues(lobby, string(ev.Side)).Inc()
		c.staked.WithLabelValues(lobby, string(ev.Side)).Add(float64(ev.Amount))
	case engine.EventClaim:
		c.claims.WithLabelValues(lobby).Inc()
	case engine.EventReset:
		c.resets.WithLabelValues(lobby).Inc()
		c.listeners.WithLabelValues(lobby).Set(float64(ev.Listeners))
	case engine.EventLoop:
		if ev.Running != nil {
			v := 0.0
			if *ev.Running {
				v = 1
			}
			c.running.WithLabelValues(lobby).Set(v)
		}
		c.listeners.WithLabelValues(lobby).Set(float64(ev.Listeners))
	case engine.EventListen:
		c.listeners.WithLabelValues(lobby).Set(float64(ev.Listeners))
	}
}

// ObserveRequest counts one API response.
func (c *Collector) ObserveRequest(route string, status int) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}
