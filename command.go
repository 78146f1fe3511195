package main

import (
	"net/netip"

	"github.com/horgh/duckfed/internal/logger"
	"github.com/horgh/duckfed/internal/wire"
	"github.com/pkg/errors"
)

// handleDatagram decodes a datagram and takes action based on its type.
//
// Malformed datagrams are dropped. We can't reliably tell an unverified
// sender about it anyway.
func (d *Duckfed) handleDatagram(from netip.AddrPort, buf []byte) {
	r, err := wire.ParseRequest(buf)
	if err != nil {
		logger.WarnF("Dropping datagram from %s: %s", from, err)
		d.Metrics.Malformed.Inc()
		return
	}

	d.Metrics.Received.WithLabelValues(r.Type.String()).Inc()

	logger.DebugF("Datagram from %s: %s", from, r)

	if r.Type.IsS2S() {
		d.handleS2S(from, r)
		return
	}

	switch r.Type {
	case wire.RequestLogin:
		d.loginCommand(from, r)
	case wire.RequestLogout:
		d.logout(from)
	case wire.RequestJoin:
		d.joinCommand(from, r)
	case wire.RequestLeave:
		d.leaveCommand(from, r)
	case wire.RequestSay:
		d.sayCommand(from, r)
	case wire.RequestList:
		d.listCommand(from)
	case wire.RequestWho:
		d.whoCommand(from, r)
	case wire.RequestKeepAlive:
		// We don't time out users. Just accept it.
	}
}

// handleS2S takes action on a message from another server.
func (d *Duckfed) handleS2S(from netip.AddrPort, r wire.Request) {
	switch r.Type {
	case wire.RequestS2SJoin:
		d.s2sJoin(from, r.Channel)
	case wire.RequestS2SLeave:
		d.s2sLeave(from, r.Channel)
	case wire.RequestS2SSay:
		d.s2sSay(from, r)
	}
}

func (d *Duckfed) loginCommand(from netip.AddrPort, r wire.Request) {
	d.login(r.Username, from)
}

func (d *Duckfed) joinCommand(from netip.AddrPort, r wire.Request) {
	_, created, err := d.join(r.Channel, from)
	if err != nil {
		logger.WarnF("%s", err)
		return
	}

	if created {
		d.localJoin(r.Channel)
	}
}

func (d *Duckfed) leaveCommand(from netip.AddrPort, r wire.Request) {
	if err := d.leave(r.Channel, from); err != nil {
		d.replyError(from, err)
	}
}

func (d *Duckfed) sayCommand(from netip.AddrPort, r wire.Request) {
	resp, err := d.say(r.Channel, from, r.Text)
	if err != nil {
		d.replyError(from, err)
		return
	}

	d.localSay(resp)
}

func (d *Duckfed) listCommand(from netip.AddrPort) {
	names := d.list()
	d.sendResponse(from, wire.Response{
		Type:     wire.ResponseList,
		Channels: names,
	})
	logger.InfoF("List response sent to %s with %d channels.", from, len(names))
}

func (d *Duckfed) whoCommand(from netip.AddrPort, r wire.Request) {
	names, err := d.who(r.Channel)
	if err != nil {
		d.replyError(from, err)
		return
	}

	d.sendResponse(from, wire.Response{
		Type:      wire.ResponseWho,
		Channel:   r.Channel,
		Usernames: names,
	})
	logger.InfoF("Who response sent to %s with %d users.", from, len(names))
}

// replyError tells the client about errors it can do something about. Other
// errors we only log.
func (d *Duckfed) replyError(to netip.AddrPort, err error) {
	if errors.Is(err, ErrChannelNotFound) {
		d.sendResponse(to, wire.Response{
			Type: wire.ResponseError,
			Text: channelNotFoundMessage,
		})
		logger.InfoF("Error sent to client %s: %s", to, err)
		return
	}

	logger.WarnF("%s", err)
}
