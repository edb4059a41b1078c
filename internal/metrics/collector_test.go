package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/undercover/internal/messaging"
	"github.com/talgya/undercover/internal/state"
)

func seededStore(t *testing.T) *state.Store {
	t.Helper()
	s, err := state.New(2)
	require.NoError(t, err)
	_, err = s.RegisterInformant()
	require.NoError(t, err)
	_, err = s.RegisterInformant()
	require.NoError(t, err)
	_, err = s.SetInformantStatus(1, state.InformantUncovered)
	require.NoError(t, err)
	_, _ = s.Increment(state.CounterThwarted)
	_, _ = s.Increment(state.CounterThwarted)
	_, _ = s.Increment(state.CounterExecutedInformants)
	require.NoError(t, s.SetLossThreshold(2))
	require.NoError(t, s.PublishGang(state.GangView{
		ID: 1,
		Members: []state.MemberView{
			{ID: 0, Status: state.MemberActive},
			{ID: 1, Status: state.MemberArrested},
			{ID: 2, Status: state.MemberArrested},
		},
		ActiveMissions: 1,
		Successful:     3,
		Failed:         1,
	}))
	return s
}

func TestCollectorCounters(t *testing.T) {
	c := NewCollector(seededStore(t), nil)

	expected := `
# HELP undercover_plans_thwarted_total Arrest orders that went out.
# TYPE undercover_plans_thwarted_total counter
undercover_plans_thwarted_total 2
# HELP undercover_informants_executed_total Informants uncovered and executed.
# TYPE undercover_informants_executed_total counter
undercover_informants_executed_total 1
# HELP undercover_informant_loss_threshold Executed-informant count that ends the simulation.
# TYPE undercover_informant_loss_threshold gauge
undercover_informant_loss_threshold 2
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		"undercover_plans_thwarted_total",
		"undercover_informants_executed_total",
		"undercover_informant_loss_threshold",
	))
}

func TestCollectorGangSeries(t *testing.T) {
	c := NewCollector(seededStore(t), nil)

	expected := `
# HELP undercover_gang_members Gang members by status.
# TYPE undercover_gang_members gauge
undercover_gang_members{gang="0",status="active"} 0
undercover_gang_members{gang="0",status="arrested"} 0
undercover_gang_members{gang="0",status="dead"} 0
undercover_gang_members{gang="0",status="executed"} 0
undercover_gang_members{gang="1",status="active"} 1
undercover_gang_members{gang="1",status="arrested"} 2
undercover_gang_members{gang="1",status="dead"} 0
undercover_gang_members{gang="1",status="executed"} 0
# HELP undercover_informants Informants by status.
# TYPE undercover_informants gauge
undercover_informants{status="active"} 1
undercover_informants{status="dead"} 0
undercover_informants{status="uncovered"} 1
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		"undercover_gang_members", "undercover_informants"))
}

func TestCollectorTraffic(t *testing.T) {
	ch := messaging.New(0)
	require.NoError(t, ch.Send(messaging.ArrestOrder{GangID: 0}))
	_, _, _ = ch.TryReceive(messaging.OrdersFor(0))
	ch.Drain()
	_ = ch.Send(messaging.ArrestOrder{GangID: 0})

	c := NewCollector(nil, ch)
	expected := `
# HELP undercover_channel_messages_total Channel traffic by kind and result.
# TYPE undercover_channel_messages_total counter
undercover_channel_messages_total{kind="arrest_order",result="delivered"} 1
undercover_channel_messages_total{kind="arrest_order",result="dropped"} 1
undercover_channel_messages_total{kind="arrest_order",result="sent"} 1
undercover_channel_messages_total{kind="informant_report",result="delivered"} 0
undercover_channel_messages_total{kind="informant_report",result="dropped"} 0
undercover_channel_messages_total{kind="informant_report",result="sent"} 0
undercover_channel_messages_total{kind="status_update",result="delivered"} 0
undercover_channel_messages_total{kind="status_update",result="dropped"} 0
undercover_channel_messages_total{kind="status_update",result="sent"} 0
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected)))
}

func TestCollectorAfterRelease(t *testing.T) {
	s := seededStore(t)
	s.Release()
	assert.Zero(t, testutil.CollectAndCount(NewCollector(s, nil)))
}

func TestRegistry(t *testing.T) {
	reg, h := NewRegistry(seededStore(t), messaging.New(0))
	h.Requests.WithLabelValues("/api/v1/status", "200").Inc()
	h.Limited.Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(h.Requests.WithLabelValues("/api/v1/status", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.Limited))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["undercover_status"])
	assert.True(t, names["undercover_api_requests_total"])
	assert.True(t, names["go_goroutines"])

	var _ prometheus.Collector = NewCollector(nil, nil)
}
