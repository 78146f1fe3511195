package main

import (
	"sort"
	"time"
)

// Subscription is our own interest in a channel on the overlay. Together they
// make up the local subscription set.
//
// We have one while we have local members in the channel, or while we relay
// traffic for it and have not pruned it.
type Subscription struct {
	Channel string

	// Refreshed each time a neighbor sends us an S2S JOIN for the channel. If
	// this gets older than the expiry time we tear the subscription down.
	LastRenewed time.Time
}

// addSubscription adds the channel to the local subscription set. It returns
// true if the channel was not there already. An existing subscription is left
// as it is.
func (d *Duckfed) addSubscription(channel string) bool {
	if _, exists := d.Subscriptions[channel]; exists {
		return false
	}

	d.Subscriptions[channel] = &Subscription{
		Channel:     channel,
		LastRenewed: d.now(),
	}
	return true
}

// renewSubscription refreshes the channel's subscription if we have one.
func (d *Duckfed) renewSubscription(channel string) bool {
	sub, exists := d.Subscriptions[channel]
	if !exists {
		return false
	}
	sub.LastRenewed = d.now()
	return true
}

func (d *Duckfed) removeSubscription(channel string) bool {
	if _, exists := d.Subscriptions[channel]; !exists {
		return false
	}
	delete(d.Subscriptions, channel)
	return true
}

// subscriptionNames returns the local subscription set, sorted.
func (d *Duckfed) subscriptionNames() []string {
	names := make([]string, 0, len(d.Subscriptions))
	for name := range d.Subscriptions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
