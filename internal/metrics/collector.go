// Package metrics exposes the simulation to Prometheus. Values are read from
// the shared store's locked snapshot and the channel's traffic counters at
// scrape time, so nothing in the simulation has to push updates.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/talgya/undercover/internal/messaging"
	"github.com/talgya/undercover/internal/state"
)

const namespace = "undercover"

// SnapshotSource is satisfied by *state.Store.
type SnapshotSource interface {
	Snapshot() (state.Snapshot, error)
}

// TrafficSource is satisfied by *messaging.Channel.
type TrafficSource interface {
	Stats() map[messaging.Kind]messaging.Stats
}

var (
	statusDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "status"),
		"Simulation status; the series for the current status is 1.",
		[]string{"status"}, nil,
	)
	thwartedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "plans_thwarted_total"),
		"Arrest orders that went out.",
		nil, nil,
	)
	successfulDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "plans_successful_total"),
		"Missions that succeeded across all gangs.",
		nil, nil,
	)
	executedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "informants_executed_total"),
		"Informants uncovered and executed.",
		nil, nil,
	)
	lossThresholdDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "informant_loss_threshold"),
		"Executed-informant count that ends the simulation.",
		nil, nil,
	)
	informantsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "informants"),
		"Informants by status.",
		[]string{"status"}, nil,
	)
	membersDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "gang", "members"),
		"Gang members by status.",
		[]string{"gang", "status"}, nil,
	)
	activeMissionsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "gang", "active_missions"),
		"Occupied mission slots.",
		[]string{"gang"}, nil,
	)
	missionsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "gang", "missions_total"),
		"Completed missions by outcome.",
		[]string{"gang", "outcome"}, nil,
	)
	messagesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "channel", "messages_total"),
		"Channel traffic by kind and result.",
		[]string{"kind", "result"}, nil,
	)
)

var (
	allStatuses  = []state.Status{state.StatusRunning, state.StatusPoliceWin, state.StatusGangsWin, state.StatusAgentsLost, state.StatusShutdown}
	memberStates = []state.MemberStatus{state.MemberActive, state.MemberArrested, state.MemberDead, state.MemberExecuted}
	informantSts = []state.InformantStatus{state.InformantActive, state.InformantUncovered, state.InformantDead}
)

// Collector is a prometheus.Collector over a running simulation.
type Collector struct {
	store   SnapshotSource
	traffic TrafficSource
}

// NewCollector builds a collector. Either source may be nil.
func NewCollector(store SnapshotSource, traffic TrafficSource) *Collector {
	return &Collector{store: store, traffic: traffic}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		statusDesc, thwartedDesc, successfulDesc, executedDesc, lossThresholdDesc,
		informantsDesc, membersDesc, activeMissionsDesc, missionsDesc, messagesDesc,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.traffic != nil {
		for kind, st := range c.traffic.Stats() {
			k := kind.String()
			ch <- prometheus.MustNewConstMetric(messagesDesc, prometheus.CounterValue, float64(st.Sent), k, "sent")
			ch <- prometheus.MustNewConstMetric(messagesDesc, prometheus.CounterValue, float64(st.Delivered), k, "delivered")
			ch <- prometheus.MustNewConstMetric(messagesDesc, prometheus.CounterValue, float64(st.Dropped), k, "dropped")
		}
	}

	if c.store == nil {
		return
	}
	snap, err := c.store.Snapshot()
	if err != nil {
		// Released store: nothing left to report.
		return
	}

	for _, s := range allStatuses {
		v := 0.0
		if s == snap.Status {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(statusDesc, prometheus.GaugeValue, v, s.String())
	}
	ch <- prometheus.MustNewConstMetric(thwartedDesc, prometheus.CounterValue, float64(snap.Thwarted))
	ch <- prometheus.MustNewConstMetric(successfulDesc, prometheus.CounterValue, float64(snap.Successful))
	ch <- prometheus.MustNewConstMetric(executedDesc, prometheus.CounterValue, float64(snap.ExecutedInformants))
	ch <- prometheus.MustNewConstMetric(lossThresholdDesc, prometheus.GaugeValue, float64(snap.LossThreshold))

	infCounts := make(map[state.InformantStatus]int)
	for _, st := range snap.Informants {
		infCounts[st]++
	}
	for _, st := range informantSts {
		ch <- prometheus.MustNewConstMetric(informantsDesc, prometheus.GaugeValue, float64(infCounts[st]), st.String())
	}

	for _, g := range snap.Gangs {
		id := strconv.Itoa(g.ID)
		counts := make(map[state.MemberStatus]int)
		for _, m := range g.Members {
			counts[m.Status]++
		}
		for _, st := range memberStates {
			ch <- prometheus.MustNewConstMetric(membersDesc, prometheus.GaugeValue, float64(counts[st]), id, st.String())
		}
		ch <- prometheus.MustNewConstMetric(activeMissionsDesc, prometheus.GaugeValue, float64(g.ActiveMissions), id)
		ch <- prometheus.MustNewConstMetric(missionsDesc, prometheus.CounterValue, float64(g.Successful), id, "success")
		ch <- prometheus.MustNewConstMetric(missionsDesc, prometheus.CounterValue, float64(g.Failed), id, "failure")
	}
}

// HTTP holds the API's own request metrics.
type HTTP struct {
	Requests *prometheus.CounterVec
	Limited  prometheus.Counter
}

// NewRegistry returns a registry carrying the simulation collector, the Go
// runtime collector and the HTTP metrics.
func NewRegistry(store SnapshotSource, traffic TrafficSource) (*prometheus.Registry, *HTTP) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewCollector(store, traffic),
		collectors.NewGoCollector(),
	)
	factory := promauto.With(reg)
	h := &HTTP{
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "API requests by route and status code.",
		}, []string{"route", "code"}),
		Limited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-client rate limit.",
		}),
	}
	return reg, h
}
