package insights_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeandnode/gateway-channels/insights"
	"github.com/edgeandnode/gateway-channels/paych"
)

func TestChannelsCreatedFiltersByKind(t *testing.T) {
	bus := insights.NewBus()
	received := make(chan insights.ChannelsCreated, 1)
	unsub := bus.ChannelsCreated(func(e insights.ChannelsCreated) {
		received <- e
	})
	defer unsub()

	bus.Publish(insights.Event{Kind: insights.KindChannelsClosed, Closed: &insights.ChannelsClosed{AllocationID: "a1"}})
	bus.Publish(insights.Event{Kind: insights.KindChannelsCreated, Created: &insights.ChannelsCreated{
		AllocationID: "a1",
		Channels:     []paych.ChannelResult{{ChannelID: "c1"}},
	}})

	select {
	case e := <-received:
		assert.Equal(t, "a1", e.AllocationID)
		require.Len(t, e.Channels, 1)
		assert.Equal(t, "c1", e.Channels[0].ChannelID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for insight")
	}
}

func TestSubscribersAreIndependent(t *testing.T) {
	bus := insights.NewBus()
	slow := make(chan struct{})
	fast := make(chan insights.ChannelsRetired, 4)

	unsubSlow := bus.ChannelsRetired(func(e insights.ChannelsRetired) {
		<-slow
	})
	defer unsubSlow()
	unsubFast := bus.ChannelsRetired(func(e insights.ChannelsRetired) {
		fast <- e
	})
	defer unsubFast()

	bus.Publish(insights.Event{Kind: insights.KindChannelsRetired, Retired: &insights.ChannelsRetired{
		Report: paych.RetireReport{ContextID: "a1"},
	}})

	select {
	case e := <-fast:
		assert.Equal(t, "a1", e.Report.ContextID)
	case <-time.After(time.Second):
		t.Fatal("fast subscriber should not be blocked by the slow one")
	}
	close(slow)
}
