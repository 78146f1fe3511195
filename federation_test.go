package main

import (
	"net/netip"
	"testing"
	"time"

	"github.com/horgh/duckfed/internal/wire"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	serverS = "127.0.0.1:4000"
	server1 = "127.0.0.1:4001"
	server2 = "127.0.0.1:4002"
)

var (
	addr1 = netip.MustParseAddrPort(server1)
	addr2 = netip.MustParseAddrPort(server2)
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func s2sJoinRequest(channel string) wire.Request {
	return wire.Request{Type: wire.RequestS2SJoin, Channel: channel}
}

func s2sLeaveRequest(channel string) wire.Request {
	return wire.Request{Type: wire.RequestS2SLeave, Channel: channel}
}

func s2sSayRequest(id uint64, channel, username, text string) wire.Request {
	return wire.Request{
		Type:     wire.RequestS2SSay,
		ID:       id,
		Channel:  channel,
		Username: username,
		Text:     text,
	}
}

func TestLocalJoinAnnouncesToNeighbors(t *testing.T) {
	s := newTestServer(t, serverS, server1, server2)

	s.clientLogin(t, alice, "alice")
	s.clientJoin(t, alice, "news")

	assert.Equal(t, []wire.Request{s2sJoinRequest("news")}, s.w.requestsTo(t, addr1))
	assert.Equal(t, []wire.Request{s2sJoinRequest("news")}, s.w.requestsTo(t, addr2))
	assert.Contains(t, s.Subscriptions, "news")
	assert.True(t, s.NeighborAddrs[addr1].isSubscribed("news"))
	assert.True(t, s.NeighborAddrs[addr2].isSubscribed("news"))

	// A second local member is not new interest.
	s.w.reset()
	s.clientLogin(t, bob, "bob")
	s.clientJoin(t, bob, "news")
	assert.Empty(t, s.w.sent)
}

func TestS2SJoinPropagatesOnce(t *testing.T) {
	s := newTestServer(t, serverS, server1, server2)

	s.datagram(t, server1, s2sJoinRequest("news"))

	assert.Empty(t, s.w.requestsTo(t, addr1))
	assert.Equal(t, []wire.Request{s2sJoinRequest("news")}, s.w.requestsTo(t, addr2))
	assert.Contains(t, s.Subscriptions, "news")
	assert.Equal(t, []string{"news"}, s.NeighborAddrs[addr1].subscribedChannels())
	assert.Equal(t, []string{"news"}, s.NeighborAddrs[addr2].subscribedChannels())

	// Known channel: we renew but don't forward.
	s.w.reset()
	s.clock.Advance(30 * time.Second)
	s.datagram(t, server2, s2sJoinRequest("news"))
	assert.Empty(t, s.w.sent)
	assert.Equal(t, s.clock.Now(), s.Subscriptions["news"].LastRenewed)
}

func TestS2SJoinFromUnknownServer(t *testing.T) {
	s := newTestServer(t, serverS, server1)

	s.datagram(t, "127.0.0.1:4999", s2sJoinRequest("news"))

	assert.Empty(t, s.Subscriptions)
	assert.Empty(t, s.w.sent)
}

func TestS2SLeave(t *testing.T) {
	s := newTestServer(t, serverS, server1, server2)
	s.datagram(t, server1, s2sJoinRequest("news"))
	s.w.reset()

	s.datagram(t, server2, s2sLeaveRequest("news"))

	assert.False(t, s.NeighborAddrs[addr2].isSubscribed("news"))
	assert.True(t, s.NeighborAddrs[addr1].isSubscribed("news"))
	assert.Contains(t, s.Subscriptions, "news")
	assert.Empty(t, s.w.sent)

	// Not subscribed any more. Harmless.
	s.datagram(t, server2, s2sLeaveRequest("news"))
	assert.Empty(t, s.w.sent)
}

func TestLocalSayFloods(t *testing.T) {
	s := newTestServer(t, serverS, server1, server2)
	s.clientLogin(t, alice, "alice")
	s.clientJoin(t, alice, "news")
	s.datagram(t, server2, s2sLeaveRequest("news"))
	s.w.reset()

	s.clientSay(t, alice, "news", "hello")

	assert.Equal(t, []wire.Request{s2sSayRequest(1, "news", "alice", "hello")},
		s.w.requestsTo(t, addr1))
	assert.Empty(t, s.w.requestsTo(t, addr2))
	assert.True(t, s.Seen.seen(1))
}

func TestS2SSayDeliversAndForwards(t *testing.T) {
	s := newTestServer(t, serverS, server1, server2)
	s.clientLogin(t, alice, "alice")
	s.clientJoin(t, alice, "news")
	s.w.reset()

	s.datagram(t, server1, s2sSayRequest(77, "news", "carol", "hi"))

	assert.Equal(t, []wire.Response{{
		Type:     wire.ResponseSay,
		Channel:  "news",
		Username: "carol",
		Text:     "hi",
	}}, s.w.responsesTo(t, netip.MustParseAddrPort(alice)))
	assert.Empty(t, s.w.requestsTo(t, addr1))
	assert.Equal(t, []wire.Request{s2sSayRequest(77, "news", "carol", "hi")},
		s.w.requestsTo(t, addr2))
	assert.Equal(t, float64(1),
		counterValue(t, s.Metrics.Received.WithLabelValues("S2S_SAY")))
}

func TestDuplicateS2SSay(t *testing.T) {
	s := newTestServer(t, serverS, server1, server2)
	s.clientLogin(t, alice, "alice")
	s.clientJoin(t, alice, "news")
	s.datagram(t, server1, s2sSayRequest(77, "news", "carol", "hi"))
	s.w.reset()

	// The same message by another path.
	s.datagram(t, server2, s2sSayRequest(77, "news", "carol", "hi"))

	assert.Empty(t, s.w.responsesTo(t, netip.MustParseAddrPort(alice)))
	assert.Empty(t, s.w.requestsTo(t, addr1))
	assert.Equal(t, []wire.Request{s2sLeaveRequest("news")}, s.w.requestsTo(t, addr2))
	assert.False(t, s.NeighborAddrs[addr2].isSubscribed("news"))
	assert.True(t, s.NeighborAddrs[addr1].isSubscribed("news"))
	assert.Equal(t, float64(1), counterValue(t, s.Metrics.Duplicates))
}

func TestOwnMessageComingBackIsDuplicate(t *testing.T) {
	s := newTestServer(t, serverS, server1)
	s.clientLogin(t, alice, "alice")
	s.clientJoin(t, alice, "news")
	s.clientSay(t, alice, "news", "hello")
	s.w.reset()

	s.datagram(t, server1, s2sSayRequest(1, "news", "alice", "hello"))

	assert.Empty(t, s.w.responsesTo(t, netip.MustParseAddrPort(alice)))
	assert.Equal(t, []wire.Request{s2sLeaveRequest("news")}, s.w.requestsTo(t, addr1))
}

func TestPrune(t *testing.T) {
	s := newTestServer(t, serverS, server1, server2)
	s.datagram(t, server1, s2sJoinRequest("news"))
	s.datagram(t, server2, s2sLeaveRequest("news"))
	s.w.reset()

	// No local members and only server1 wants the channel. We're a leaf.
	s.datagram(t, server1, s2sSayRequest(5, "news", "carol", "hi"))

	require.Len(t, s.w.sent, 1)
	assert.Equal(t, []wire.Request{s2sLeaveRequest("news")}, s.w.requestsTo(t, addr1))
	assert.NotContains(t, s.Subscriptions, "news")
	assert.False(t, s.NeighborAddrs[addr1].isSubscribed("news"))
	assert.Equal(t, float64(1), counterValue(t, s.Metrics.Prunes))
}

func TestNoPruneWithLocalMembers(t *testing.T) {
	s := newTestServer(t, serverS, server1)
	s.clientLogin(t, alice, "alice")
	s.clientJoin(t, alice, "news")
	s.w.reset()

	s.datagram(t, server1, s2sSayRequest(5, "news", "carol", "hi"))

	assert.Len(t, s.w.responsesTo(t, netip.MustParseAddrPort(alice)), 1)
	assert.Empty(t, s.w.requestsTo(t, addr1))
	assert.Contains(t, s.Subscriptions, "news")
}

func TestS2SSayFromUnknownServerIsDelivered(t *testing.T) {
	s := newTestServer(t, serverS, server1, server2)
	s.clientLogin(t, alice, "alice")
	s.clientJoin(t, alice, "news")
	s.w.reset()

	s.datagram(t, "127.0.0.1:4999", s2sSayRequest(9, "news", "carol", "hi"))

	assert.Len(t, s.w.responsesTo(t, netip.MustParseAddrPort(alice)), 1)
	assert.Len(t, s.w.requestsTo(t, addr1), 1)
	assert.Len(t, s.w.requestsTo(t, addr2), 1)
}

func TestS2SSayFromUnknownServerDoesNotPrune(t *testing.T) {
	s := newTestServer(t, serverS, server1, server2)
	s.datagram(t, server1, s2sJoinRequest("news"))
	s.datagram(t, server2, s2sLeaveRequest("news"))
	s.w.reset()

	// We'd be a leaf if server1 sent this.
	s.datagram(t, "127.0.0.1:4999", s2sSayRequest(9, "news", "carol", "hi"))

	assert.Empty(t, s.w.requestsTo(t, netip.MustParseAddrPort("127.0.0.1:4999")))
	assert.Equal(t, []wire.Request{s2sSayRequest(9, "news", "carol", "hi")},
		s.w.requestsTo(t, addr1))
	assert.Contains(t, s.Subscriptions, "news")
	assert.True(t, s.NeighborAddrs[addr1].isSubscribed("news"))
	assert.Equal(t, float64(0), counterValue(t, s.Metrics.Prunes))
}

func TestRenewal(t *testing.T) {
	s := newTestServer(t, serverS, server1)
	s.clientLogin(t, alice, "alice")
	s.clientJoin(t, alice, "news")
	s.w.reset()

	// The first tick renews right away.
	s.checkSubscriptions()
	assert.Equal(t, []wire.Request{s2sJoinRequest("news")}, s.w.requestsTo(t, addr1))

	s.w.reset()
	s.clock.Advance(59 * time.Second)
	s.checkSubscriptions()
	assert.Empty(t, s.w.sent)

	s.clock.Advance(time.Second)
	s.checkSubscriptions()
	assert.Equal(t, []wire.Request{s2sJoinRequest("news")}, s.w.requestsTo(t, addr1))
}

func TestExpiry(t *testing.T) {
	s := newTestServer(t, serverS, server1)
	s.clientLogin(t, alice, "alice")
	s.clientJoin(t, alice, "news")
	s.checkSubscriptions()

	s.clock.Advance(120 * time.Second)
	s.checkSubscriptions()
	assert.Contains(t, s.Subscriptions, "news")

	s.w.reset()
	s.clock.Advance(time.Second)
	s.checkSubscriptions()

	assert.Equal(t, []wire.Request{s2sLeaveRequest("news")}, s.w.requestsTo(t, addr1))
	assert.NotContains(t, s.Subscriptions, "news")
	assert.False(t, s.NeighborAddrs[addr1].isSubscribed("news"))
	assert.Equal(t, float64(1), counterValue(t, s.Metrics.Expired))
}

func TestRenewedSubscriptionDoesNotExpire(t *testing.T) {
	s := newTestServer(t, serverS, server1)
	s.clientLogin(t, alice, "alice")
	s.clientJoin(t, alice, "news")

	for i := 0; i < 10; i++ {
		s.clock.Advance(60 * time.Second)
		s.datagram(t, server1, s2sJoinRequest("news"))
		s.checkSubscriptions()
	}

	assert.Contains(t, s.Subscriptions, "news")
	assert.Equal(t, float64(0), counterValue(t, s.Metrics.Expired))
}

func TestSendFailures(t *testing.T) {
	s := newTestServer(t, serverS, server1)
	s.w.fail = true

	s.clientLogin(t, alice, "alice")
	s.clientJoin(t, alice, "news")

	assert.Equal(t, float64(1), counterValue(t, s.Metrics.SendFailures))
	assert.Equal(t, float64(0),
		counterValue(t, s.Metrics.Sent.WithLabelValues("S2S_JOIN")))
}

// simNetwork delivers datagrams between test servers. Anything sent to an
// address that is not a server is collected as client output.
type simNetwork struct {
	servers map[netip.AddrPort]*testServer
	clients map[netip.AddrPort][]wire.Response
}

func newSimNetwork(servers ...*testServer) *simNetwork {
	n := &simNetwork{
		servers: make(map[netip.AddrPort]*testServer),
		clients: make(map[netip.AddrPort][]wire.Response),
	}
	for _, s := range servers {
		n.servers[s.Self] = s
	}
	return n
}

// run delivers until nothing is in flight.
func (n *simNetwork) run(t *testing.T) {
	t.Helper()

	for rounds := 0; ; rounds++ {
		require.Less(t, rounds, 100, "traffic did not settle")

		type inFlight struct {
			from netip.AddrPort
			datagram
		}
		var pending []inFlight
		for addr, s := range n.servers {
			for _, d := range s.w.sent {
				pending = append(pending, inFlight{from: addr, datagram: d})
			}
			s.w.reset()
		}

		if len(pending) == 0 {
			return
		}

		for _, p := range pending {
			if s, ok := n.servers[p.To]; ok {
				s.handleDatagram(p.from, p.Data)
				continue
			}
			r, err := wire.ParseResponse(p.Data)
			require.NoError(t, err)
			n.clients[p.To] = append(n.clients[p.To], r)
		}
	}
}

func (n *simNetwork) said(to string) []string {
	var texts []string
	for _, r := range n.clients[netip.MustParseAddrPort(to)] {
		if r.Type == wire.ResponseSay {
			texts = append(texts, r.Text)
		}
	}
	return texts
}

const (
	serverA = "127.0.0.1:4101"
	serverB = "127.0.0.1:4102"
	serverC = "127.0.0.1:4103"
	carol   = "127.0.0.1:5003"
)

func TestLineTopology(t *testing.T) {
	a := newTestServer(t, serverA, serverB)
	b := newTestServer(t, serverB, serverA, serverC)
	c := newTestServer(t, serverC, serverB)
	net := newSimNetwork(a, b, c)

	a.clientLogin(t, alice, "alice")
	a.clientJoin(t, alice, "news")
	net.run(t)

	assert.Contains(t, b.Subscriptions, "news")
	assert.Contains(t, c.Subscriptions, "news")

	c.clientLogin(t, carol, "carol")
	c.clientJoin(t, carol, "news")
	net.run(t)

	a.clientSay(t, alice, "news", "one")
	net.run(t)
	c.clientSay(t, carol, "news", "two")
	net.run(t)

	assert.Equal(t, []string{"one", "two"}, net.said(alice))
	assert.Equal(t, []string{"one", "two"}, net.said(carol))
	assert.Equal(t, float64(0), counterValue(t, b.Metrics.Duplicates))
}

func TestTriangleTopology(t *testing.T) {
	a := newTestServer(t, serverA, serverB, serverC)
	b := newTestServer(t, serverB, serverA, serverC)
	c := newTestServer(t, serverC, serverA, serverB)
	net := newSimNetwork(a, b, c)

	a.clientLogin(t, alice, "alice")
	a.clientJoin(t, alice, "news")
	net.run(t)
	c.clientLogin(t, carol, "carol")
	c.clientJoin(t, carol, "news")
	net.run(t)

	// The loop delivers duplicates at first. The overlay prunes itself and
	// every message still arrives exactly once.
	for _, text := range []string{"one", "two", "three"} {
		a.clientSay(t, alice, "news", text)
		net.run(t)
	}

	assert.Equal(t, []string{"one", "two", "three"}, net.said(alice))
	assert.Equal(t, []string{"one", "two", "three"}, net.said(carol))
	assert.Positive(t,
		counterValue(t, b.Metrics.Duplicates)+counterValue(t, c.Metrics.Duplicates))
}

// Two servers share the "news" channel. Each only learns of the other's
// users by way of S2S SAY.
func TestTwoServerChannel(t *testing.T) {
	s1 := newTestServer(t, serverA, serverB)
	s2 := newTestServer(t, serverB, serverA)
	net := newSimNetwork(s1, s2)

	s1.clientLogin(t, alice, "alice")
	s1.clientJoin(t, alice, "news")
	s2.clientLogin(t, bob, "bob")
	s2.clientJoin(t, bob, "news")
	net.run(t)

	s2.clientSay(t, bob, "news", "extra extra")
	net.run(t)

	require.Len(t, net.clients[netip.MustParseAddrPort(alice)], 1)
	assert.Equal(t, wire.Response{
		Type:     wire.ResponseSay,
		Channel:  "news",
		Username: "bob",
		Text:     "extra extra",
	}, net.clients[netip.MustParseAddrPort(alice)][0])
	assert.Equal(t, []string{"extra extra"}, net.said(bob))

	// WHO is local only.
	s1.datagram(t, alice, wire.Request{Type: wire.RequestWho, Channel: "news"})
	net.run(t)
	who := net.clients[netip.MustParseAddrPort(alice)][1]
	assert.Equal(t, []string{"alice"}, who.Usernames)
}

func TestNewsScenario(t *testing.T) {
	s1 := newTestServer(t, serverA, serverB)
	s2 := newTestServer(t, serverB, serverA)
	net := newSimNetwork(s1, s2)
	addrA := netip.MustParseAddrPort(serverA)
	addrB := netip.MustParseAddrPort(serverB)

	s1.clientLogin(t, alice, "X")
	s1.clientJoin(t, alice, "news")
	assert.Equal(t, []wire.Request{s2sJoinRequest("news")}, s1.w.requestsTo(t, addrB))
	net.run(t)

	s2.clientLogin(t, bob, "Y")
	s2.clientJoin(t, bob, "news")
	net.run(t)

	s1.clientSay(t, alice, "news", "hi")

	var flooded []byte
	for _, d := range s1.w.sent {
		if d.To == addrB {
			flooded = d.Data
		}
	}
	require.NotNil(t, flooded)
	net.run(t)

	assert.Equal(t, []string{"hi"}, net.said(alice))
	assert.Equal(t, []wire.Response{{
		Type:     wire.ResponseSay,
		Channel:  "news",
		Username: "X",
		Text:     "hi",
	}}, net.clients[netip.MustParseAddrPort(bob)])

	// The identical datagram again.
	s2.handleDatagram(addrA, flooded)

	assert.Empty(t, s2.w.responsesTo(t, netip.MustParseAddrPort(bob)))
	assert.Equal(t, []wire.Request{s2sLeaveRequest("news")}, s2.w.requestsTo(t, addrA))
	assert.False(t, s2.NeighborAddrs[addrA].isSubscribed("news"))
}
