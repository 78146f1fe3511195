package main

import (
	"crypto/rand"
	"encoding/binary"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/horgh/duckfed/internal/logger"
	"github.com/horgh/irc"
	"github.com/pkg/errors"
)

// Duckfed holds the state for a server.
//
// Everything global to a server is in an instance of this struct rather than
// in global variables. Only the event loop goroutine touches the state.
type Duckfed struct {
	Config *Config

	// Username to User.
	Users map[string]*User

	// Address to the username logged in from it.
	Addrs map[netip.AddrPort]string

	// Channel name to Channel.
	Channels map[string]*Channel

	// Neighbors in the order they were configured.
	Neighbors []*Neighbor

	// Address to Neighbor.
	NeighborAddrs map[netip.AddrPort]*Neighbor

	// Channel name to our own subscription. The local subscription set.
	Subscriptions map[string]*Subscription

	// S2S SAY ids we processed recently.
	Seen *SeenIDs

	// The last time we sent soft joins. Zero until the first wake up.
	LastRenewal time.Time

	Metrics *Metrics

	// Our UDP address. Used in log messages.
	Self netip.AddrPort

	// UDP socket.
	Conn *net.UDPConn

	// Where we write datagrams. Conn once we are listening.
	Writer packetWriter

	// TCP listener for the operator console. May be nil.
	AdminListener net.Listener

	// Serves metrics. May be nil.
	MetricsServer *http.Server

	// When we close this channel, this indicates that we're shutting down.
	// Other goroutines can check if this channel is closed.
	ShutdownChan chan struct{}

	// Tell the server something on this channel.
	ToServerChan chan Event

	// WaitGroup to ensure all goroutines clean up before we end.
	WG sync.WaitGroup

	now   func() time.Time
	newID func() (uint64, error)
}

// Event holds a message containing something to tell the server.
type Event struct {
	Type EventType

	// Source of a datagram.
	From netip.AddrPort

	// A datagram.
	Data []byte

	// An operator console command and where to send the result.
	Message irc.Message
	Reply   chan<- adminReply
}

// EventType is a type of event we can tell the server about.
type EventType int

const (
	// NullEvent is a default event. This means the event was not populated.
	NullEvent EventType = iota

	// DatagramEvent means we received a datagram.
	DatagramEvent

	// WakeUpEvent means the server should wake up and do bookkeeping.
	WakeUpEvent

	// AdminEvent means an operator sent a console command.
	AdminEvent

	// ShutdownEvent means we should shut down (for example, on a signal).
	ShutdownEvent
)

func main() {
	logger.Init(os.Stderr, false)

	args, err := getArgs()
	if err != nil {
		logger.FatalF("%s", err)
	}

	cfg, err := loadConfig(args)
	if err != nil {
		logger.FatalF("Configuration problem: %s", err)
	}

	logger.Init(os.Stderr, cfg.Debug)

	d := newDuckfed(cfg)

	if err := d.listen(); err != nil {
		logger.FatalF("%s", err)
	}

	d.WG.Add(1)
	go d.watchSignals()

	d.run()

	logger.InfoF("Server shutdown cleanly.")
}

func newDuckfed(cfg *Config) *Duckfed {
	d := &Duckfed{
		Config:        cfg,
		Users:         make(map[string]*User),
		Addrs:         make(map[netip.AddrPort]string),
		Channels:      make(map[string]*Channel),
		NeighborAddrs: make(map[netip.AddrPort]*Neighbor),
		Subscriptions: make(map[string]*Subscription),
		Seen:          NewSeenIDs(cfg.SeenIDsMax, cfg.SeenIDsWindow),
		Metrics:       newMetrics(),
		Self:          cfg.Bind,

		// shutdown() closes this channel.
		ShutdownChan: make(chan struct{}),

		// We never manually close this channel.
		ToServerChan: make(chan Event),

		now:   time.Now,
		newID: randomID,
	}

	for _, addr := range cfg.Neighbors {
		d.addNeighbor(addr)
	}

	return d
}

// listen opens our sockets. Failing to is fatal to startup.
func (d *Duckfed) listen() error {
	conn, err := net.ListenUDP("udp4", net.UDPAddrFromAddrPort(d.Config.Bind))
	if err != nil {
		return errors.Wrap(err, "unable to listen")
	}
	d.Conn = conn
	d.Writer = conn

	// We may have asked for port 0.
	local := conn.LocalAddr().(*net.UDPAddr).AddrPort()
	d.Self = netip.AddrPortFrom(local.Addr().Unmap(), local.Port())

	if d.Config.AdminListen != "" {
		ln, err := net.Listen("tcp", d.Config.AdminListen)
		if err != nil {
			_ = conn.Close()
			return errors.Wrap(err, "unable to listen for operator console")
		}
		d.AdminListener = ln
	}

	if d.Config.MetricsListen != "" {
		d.MetricsServer = &http.Server{
			Addr:              d.Config.MetricsListen,
			Handler:           d.Metrics.handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	return nil
}

// run starts our goroutines and then processes events until shutdown.
func (d *Duckfed) run() {
	d.WG.Add(1)
	go d.readLoop()

	// Alarm is a goroutine to wake up this one periodically so we can renew
	// and expire subscriptions.
	d.WG.Add(1)
	go d.alarm()

	if d.AdminListener != nil {
		d.WG.Add(1)
		go d.acceptAdminConnections()
	}

	if d.MetricsServer != nil {
		d.WG.Add(1)
		go d.serveMetrics()
	}

	logger.InfoF("Server started on %s with %d neighbors", d.Self,
		len(d.Neighbors))

	d.eventLoop()

	// We don't need to drain any channels. None close that will have any
	// goroutines blocked on them.

	d.WG.Wait()
}

// eventLoop processes events on the server's channel.
//
// It continues until the shutdown channel closes, indicating shutdown.
func (d *Duckfed) eventLoop() {
	for {
		select {
		case evt := <-d.ToServerChan:
			switch evt.Type {
			case DatagramEvent:
				d.handleDatagram(evt.From, evt.Data)
			case WakeUpEvent:
				d.checkSubscriptions()
				d.Metrics.update(d)
			case AdminEvent:
				evt.Reply <- d.handleAdminMessage(evt.Message)
			case ShutdownEvent:
				d.shutdown()
			default:
				logger.ErrorF("Unexpected event: %d", evt.Type)
			}

		case <-d.ShutdownChan:
			return
		}
	}
}

// shutdown starts server shutdown.
func (d *Duckfed) shutdown() {
	if d.isShuttingDown() {
		return
	}

	logger.InfoF("Server shutdown initiated.")

	// Closing ShutdownChan indicates to other goroutines that we're shutting
	// down.
	close(d.ShutdownChan)

	if d.Conn != nil {
		if err := d.Conn.Close(); err != nil {
			logger.ErrorF("Problem closing UDP socket: %s", err)
		}
	}

	if d.AdminListener != nil {
		if err := d.AdminListener.Close(); err != nil {
			logger.ErrorF("Problem closing console listener: %s", err)
		}
	}

	if d.MetricsServer != nil {
		if err := d.MetricsServer.Close(); err != nil {
			logger.ErrorF("Problem closing metrics server: %s", err)
		}
	}
}

// Return true if the server is shutting down.
func (d *Duckfed) isShuttingDown() bool {
	// No messages get sent to this channel, so if we receive a message on it,
	// then we know the channel was closed.
	select {
	case <-d.ShutdownChan:
		return true
	default:
		return false
	}
}

// alarm sends a message to the server goroutine to wake it up each
// WakeupTime.
func (d *Duckfed) alarm() {
	defer d.WG.Done()

	ticker := time.NewTicker(d.Config.WakeupTime)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.newEvent(Event{Type: WakeUpEvent})
		case <-d.ShutdownChan:
			logger.DebugF("Alarm shutting down.")
			return
		}
	}
}

// watchSignals asks the server to shut down on SIGINT or SIGTERM.
func (d *Duckfed) watchSignals() {
	defer d.WG.Done()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		logger.InfoF("Received signal %s", sig)
		d.newEvent(Event{Type: ShutdownEvent})
	case <-d.ShutdownChan:
	}
}

func (d *Duckfed) serveMetrics() {
	defer d.WG.Done()

	logger.InfoF("Serving metrics on %s", d.MetricsServer.Addr)

	err := d.MetricsServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		logger.ErrorF("Metrics server: %s", err)
	}
}

// newEvent tells the server something happens.
//
// Any goroutine can call this function.
//
// It will not block on shutdown as we select on the shutdown channel which we
// close when shutting down the server.
func (d *Duckfed) newEvent(evt Event) {
	select {
	case d.ToServerChan <- evt:
	case <-d.ShutdownChan:
	}
}

// randomID makes an id for a new S2S SAY.
func randomID() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, errors.Wrap(err, "error reading random bytes")
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}
