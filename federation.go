package main

import (
	"net/netip"

	"github.com/horgh/duckfed/internal/logger"
	"github.com/horgh/duckfed/internal/wire"
	"github.com/pkg/errors"
)

// ErrUnknownNeighbor means an S2S message came from an address that is not a
// configured neighbor.
var ErrUnknownNeighbor = errors.New("unknown neighbor")

// localJoin is called when a local join created a channel. If this is new
// interest for us we tell every neighbor.
func (d *Duckfed) localJoin(channel string) {
	if !d.addSubscription(channel) {
		return
	}

	d.subscribeAllNeighbors(channel)
	d.broadcastS2SJoin(netip.AddrPort{}, channel, false)
}

// s2sJoin handles an S2S JOIN from a neighbor. The neighbor wants traffic for
// the channel. It also renews our own subscription.
//
// If the channel is new to us we subscribe everyone and pass the JOIN on. This
// is how interest spreads across the overlay. We don't pass on JOINs for
// channels we know, otherwise every renewal would cause a storm.
func (d *Duckfed) s2sJoin(from netip.AddrPort, channel string) {
	n, exists := d.neighborByAddr(from)
	if !exists {
		logger.WarnF("%s %s recv S2S Join %s: %s", d.Self, from, channel,
			ErrUnknownNeighbor)
		return
	}

	logger.InfoF("%s %s recv S2S Join %s", d.Self, from, channel)

	d.renewSubscription(channel)

	n.subscribe(channel, d.now())

	if d.addSubscription(channel) {
		d.subscribeAllNeighbors(channel)
		d.broadcastS2SJoin(from, channel, false)
	}
}

// s2sLeave handles an S2S LEAVE. The neighbor no longer wants traffic for the
// channel. We don't propagate it.
func (d *Duckfed) s2sLeave(from netip.AddrPort, channel string) {
	n, exists := d.neighborByAddr(from)
	if !exists {
		logger.WarnF("%s %s recv S2S Leave %s: %s", d.Self, from, channel,
			ErrUnknownNeighbor)
		return
	}

	logger.InfoF("%s %s recv S2S Leave %s", d.Self, from, channel)

	if !n.unsubscribe(channel) {
		logger.DebugF("Neighbor %s was not subscribed to channel %s", n, channel)
	}
}

// s2sSay handles an S2S SAY.
//
// A message we've seen before reached us by a second path. We stop it here and
// tell the sender to stop sending us the channel. Note this also prunes the
// link if the transport duplicated the datagram, even with no loop.
//
// Otherwise we deliver to our members and flood to our subscribed neighbors,
// unless we are a leaf for the channel. Then we prune ourselves instead.
//
// An unknown sender is logged but we still deliver and flood its message. It
// never changes our subscriptions.
func (d *Duckfed) s2sSay(from netip.AddrPort, r wire.Request) {
	n, isNeighbor := d.neighborByAddr(from)
	if !isNeighbor {
		logger.WarnF("%s %s recv S2S_SAY %s: %s", d.Self, from, r.Channel,
			ErrUnknownNeighbor)
	}

	if d.Seen.seen(r.ID) {
		logger.InfoF("%s %s recv duplicate S2S_SAY %s %q", d.Self, from, r.Channel,
			r.Text)
		d.Metrics.Duplicates.Inc()

		if isNeighbor {
			n.unsubscribe(r.Channel)
			d.sendS2SLeave(from, r.Channel)
		}
		return
	}

	d.Seen.remember(r.ID)

	logger.InfoF("%s %s recv S2S_SAY %s %q", d.Self, from, r.Channel, r.Text)

	if channel, exists := d.Channels[r.Channel]; exists {
		d.messageLocalUsersOnChannel(channel, wire.Response{
			Type:     wire.ResponseSay,
			Channel:  r.Channel,
			Username: r.Username,
			Text:     r.Text,
		})
	}

	// A stranger can't prune us. We only relay its message.
	if isNeighbor && d.shouldSendLeave(r.Channel) {
		n.unsubscribe(r.Channel)
		d.sendS2SLeave(from, r.Channel)
		d.removeSubscription(r.Channel)
		d.Metrics.Prunes.Inc()
		return
	}

	d.floodS2SSay(from, r)
}

// localSay floods a message said by a local user to the overlay. We already
// delivered it to our own members.
func (d *Duckfed) localSay(resp wire.Response) {
	id, err := d.newID()
	if err != nil {
		logger.ErrorF("Unable to generate message id: %s", err)
		return
	}

	// Remember it first so it can't come back to us.
	d.Seen.remember(id)

	d.floodS2SSay(netip.AddrPort{}, wire.Request{
		Type:     wire.RequestS2SSay,
		ID:       id,
		Channel:  resp.Channel,
		Username: resp.Username,
		Text:     resp.Text,
	})
}

// shouldSendLeave decides if we are a leaf for the channel: no local members
// and only one neighbor subscribed. Then we serve no purpose relaying it.
func (d *Duckfed) shouldSendLeave(channel string) bool {
	if c, exists := d.Channels[channel]; exists && len(c.Members) > 0 {
		return false
	}
	return len(d.subscribedNeighbors(channel)) == 1
}

// broadcastS2SJoin sends an S2S JOIN to every neighbor except the one at
// except. A soft JOIN is a renewal rather than new interest. It differs only
// in how we log it.
func (d *Duckfed) broadcastS2SJoin(except netip.AddrPort, channel string, soft bool) {
	kind := "S2S Join"
	if soft {
		kind = "S2S soft Join"
	}

	for _, n := range d.Neighbors {
		if n.Addr == except {
			continue
		}

		if d.sendRequest(n.Addr, wire.Request{
			Type:    wire.RequestS2SJoin,
			Channel: channel,
		}) {
			logger.InfoF("%s %s send %s %s", d.Self, n, kind, channel)
		}
	}
}

// floodS2SSay sends the S2S SAY to every neighbor subscribed to its channel
// except the one at except.
func (d *Duckfed) floodS2SSay(except netip.AddrPort, r wire.Request) {
	for _, n := range d.subscribedNeighbors(r.Channel) {
		if n.Addr == except {
			continue
		}

		if d.sendRequest(n.Addr, r) {
			logger.InfoF("%s %s send S2S_SAY %s %q", d.Self, n, r.Channel, r.Text)
		}
	}
}

func (d *Duckfed) sendS2SLeave(to netip.AddrPort, channel string) {
	if d.sendRequest(to, wire.Request{
		Type:    wire.RequestS2SLeave,
		Channel: channel,
	}) {
		logger.InfoF("%s %s send S2S Leave %s", d.Self, to, channel)
	}
}

// checkSubscriptions is our periodic bookkeeping.
//
// Every renewal period we re-announce each subscription to all neighbors so
// their state for us stays alive.
//
// Any subscription no neighbor has renewed within the expiry time is dead. We
// tell the neighbors subscribed to it and drop it.
func (d *Duckfed) checkSubscriptions() {
	now := d.now()

	if now.Sub(d.LastRenewal) >= d.Config.RenewalTime {
		for _, name := range d.subscriptionNames() {
			d.subscribeAllNeighbors(name)
			d.broadcastS2SJoin(netip.AddrPort{}, name, true)
		}
		d.LastRenewal = now
	}

	for _, name := range d.subscriptionNames() {
		sub := d.Subscriptions[name]
		age := now.Sub(sub.LastRenewed)
		if age <= d.Config.ExpiryTime {
			continue
		}

		logger.InfoF("Subscription to %s expired (%d seconds since renewal)",
			name, int(age.Seconds()))

		for _, n := range d.subscribedNeighbors(name) {
			d.sendS2SLeave(n.Addr, name)
			n.unsubscribe(name)
		}

		d.removeSubscription(name)
		d.Metrics.Expired.Inc()
	}
}
