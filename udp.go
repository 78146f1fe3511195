package main

import (
	"net/netip"

	"github.com/horgh/duckfed/internal/logger"
	"github.com/horgh/duckfed/internal/wire"
)

// Largest datagram we read. Every valid request is much smaller.
const maxDatagramSize = 1024

// packetWriter sends datagrams. *net.UDPConn is one.
type packetWriter interface {
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)
}

// readLoop endlessly reads datagrams from our socket and passes each to the
// server through the server's channel.
func (d *Duckfed) readLoop() {
	defer d.WG.Done()

	buf := make([]byte, maxDatagramSize)

	for {
		n, from, err := d.Conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if d.isShuttingDown() {
				break
			}
			logger.ErrorF("Error reading from UDP socket: %s", err)
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		d.newEvent(Event{
			Type: DatagramEvent,
			From: netip.AddrPortFrom(from.Addr().Unmap(), from.Port()),
			Data: data,
		})
	}

	logger.DebugF("Reader shutting down.")
}

// sendRequest sends a server-to-server message. Sends are fire and forget.
// We log failures and report whether it went out.
func (d *Duckfed) sendRequest(to netip.AddrPort, r wire.Request) bool {
	buf, err := r.Encode()
	if err != nil {
		logger.ErrorF("Unable to encode %s: %s", r, err)
		return false
	}

	if !d.write(to, buf) {
		return false
	}

	d.Metrics.Sent.WithLabelValues(r.Type.String()).Inc()
	return true
}

// sendResponse sends a message to a client.
func (d *Duckfed) sendResponse(to netip.AddrPort, r wire.Response) bool {
	buf, err := r.Encode()
	if err != nil {
		logger.ErrorF("Unable to encode %s: %s", r, err)
		return false
	}

	if !d.write(to, buf) {
		return false
	}

	d.Metrics.Sent.WithLabelValues(r.Type.String()).Inc()
	return true
}

func (d *Duckfed) write(to netip.AddrPort, buf []byte) bool {
	if _, err := d.Writer.WriteToUDPAddrPort(buf, to); err != nil {
		logger.ErrorF("Error sending to %s: %s", to, err)
		d.Metrics.SendFailures.Inc()
		return false
	}
	return true
}
