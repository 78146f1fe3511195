package main

import (
	"net/netip"
	"sort"
	"time"

	"github.com/horgh/duckfed/internal/logger"
)

// Neighbor holds information about an adjacent server. Neighbors come from
// the command line and never change. Their subscriptions change constantly.
type Neighbor struct {
	Addr netip.AddrPort

	// Channel name to when the neighbor subscribed. The neighbor wants S2S SAY
	// traffic for these channels.
	//
	// We don't renew these. Renewal is tracked by our own Subscription.
	Subscriptions map[string]time.Time
}

func (n *Neighbor) String() string {
	return n.Addr.String()
}

// subscribe records that the neighbor wants traffic for the channel. It is
// idempotent and does not touch the time of an existing subscription.
func (n *Neighbor) subscribe(channel string, now time.Time) {
	if _, exists := n.Subscriptions[channel]; exists {
		return
	}
	n.Subscriptions[channel] = now
}

func (n *Neighbor) isSubscribed(channel string) bool {
	_, exists := n.Subscriptions[channel]
	return exists
}

// unsubscribe removes the neighbor's subscription to the channel. Returns
// false if it was not subscribed.
func (n *Neighbor) unsubscribe(channel string) bool {
	if _, exists := n.Subscriptions[channel]; !exists {
		return false
	}
	delete(n.Subscriptions, channel)
	return true
}

// subscribedChannels returns the channels the neighbor subscribes to, sorted.
func (n *Neighbor) subscribedChannels() []string {
	channels := make([]string, 0, len(n.Subscriptions))
	for name := range n.Subscriptions {
		channels = append(channels, name)
	}
	sort.Strings(channels)
	return channels
}

// addNeighbor adds a neighbor. We ignore duplicates and ourself.
func (d *Duckfed) addNeighbor(addr netip.AddrPort) {
	if _, exists := d.NeighborAddrs[addr]; exists {
		logger.WarnF("Neighbor %s listed more than once. Ignoring.", addr)
		return
	}

	if addr == d.Config.Bind {
		logger.WarnF("Neighbor %s is our own address. Ignoring.", addr)
		return
	}

	n := &Neighbor{
		Addr:          addr,
		Subscriptions: make(map[string]time.Time),
	}

	d.Neighbors = append(d.Neighbors, n)
	d.NeighborAddrs[addr] = n

	logger.InfoF("Added neighbor %s", addr)
}

// neighborByAddr finds the neighbor a datagram came from.
func (d *Duckfed) neighborByAddr(addr netip.AddrPort) (*Neighbor, bool) {
	n, exists := d.NeighborAddrs[addr]
	return n, exists
}

// subscribeAllNeighbors subscribes every neighbor to the channel. We do this
// when we start caring about a channel so any of them may forward to us.
func (d *Duckfed) subscribeAllNeighbors(channel string) {
	now := d.now()
	for _, n := range d.Neighbors {
		n.subscribe(channel, now)
	}
}

// subscribedNeighbors returns the neighbors subscribed to the channel in
// configuration order.
func (d *Duckfed) subscribedNeighbors(channel string) []*Neighbor {
	var neighbors []*Neighbor
	for _, n := range d.Neighbors {
		if n.isSubscribed(channel) {
			neighbors = append(neighbors, n)
		}
	}
	return neighbors
}
