package main

import (
	"net/netip"
	"testing"
	"time"

	"github.com/horgh/duckfed/internal/wire"
	"github.com/stretchr/testify/require"
)

// datagram is something a server sent.
type datagram struct {
	To   netip.AddrPort
	Data []byte
}

// recordingWriter stands in for the UDP socket.
type recordingWriter struct {
	sent []datagram
	fail bool
}

func (w *recordingWriter) WriteToUDPAddrPort(b []byte,
	addr netip.AddrPort) (int, error) {
	if w.fail {
		return 0, errWriteFailed
	}
	buf := make([]byte, len(b))
	copy(buf, b)
	w.sent = append(w.sent, datagram{To: addr, Data: buf})
	return len(b), nil
}

func (w *recordingWriter) reset() {
	w.sent = nil
}

// requestsTo decodes everything sent to a server.
func (w *recordingWriter) requestsTo(t *testing.T, to netip.AddrPort) []wire.Request {
	t.Helper()
	var requests []wire.Request
	for _, d := range w.sent {
		if d.To != to {
			continue
		}
		r, err := wire.ParseRequest(d.Data)
		require.NoError(t, err)
		requests = append(requests, r)
	}
	return requests
}

// responsesTo decodes everything sent to a client.
func (w *recordingWriter) responsesTo(t *testing.T, to netip.AddrPort) []wire.Response {
	t.Helper()
	var responses []wire.Response
	for _, d := range w.sent {
		if d.To != to {
			continue
		}
		r, err := wire.ParseResponse(d.Data)
		require.NoError(t, err)
		responses = append(responses, r)
	}
	return responses
}

type writeError string

func (e writeError) Error() string { return string(e) }

const errWriteFailed = writeError("write failed")

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.t = c.t.Add(d)
}

// testServer is a server with no sockets. Time and message ids are under the
// test's control.
type testServer struct {
	*Duckfed
	w      *recordingWriter
	clock  *fakeClock
	nextID uint64
}

func newTestServer(t *testing.T, self string, neighbors ...string) *testServer {
	t.Helper()

	cfg := defaultConfig()
	cfg.Bind = netip.MustParseAddrPort(self)
	for _, n := range neighbors {
		cfg.Neighbors = append(cfg.Neighbors, netip.MustParseAddrPort(n))
	}
	require.NoError(t, cfg.validate())

	s := &testServer{
		Duckfed: newDuckfed(cfg),
		w:       &recordingWriter{},
		clock:   &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	s.Writer = s.w
	s.now = s.clock.Now
	s.newID = func() (uint64, error) {
		s.nextID++
		return s.nextID, nil
	}
	return s
}

// datagram encodes a request and runs it through the dispatcher.
func (s *testServer) datagram(t *testing.T, from string, r wire.Request) {
	t.Helper()
	buf, err := r.Encode()
	require.NoError(t, err)
	s.handleDatagram(netip.MustParseAddrPort(from), buf)
}

func (s *testServer) clientLogin(t *testing.T, from, username string) {
	t.Helper()
	s.datagram(t, from, wire.Request{Type: wire.RequestLogin, Username: username})
}

func (s *testServer) clientJoin(t *testing.T, from, channel string) {
	t.Helper()
	s.datagram(t, from, wire.Request{Type: wire.RequestJoin, Channel: channel})
}

func (s *testServer) clientSay(t *testing.T, from, channel, text string) {
	t.Helper()
	s.datagram(t, from, wire.Request{
		Type:    wire.RequestSay,
		Channel: channel,
		Text:    text,
	})
}
