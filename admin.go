package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/horgh/duckfed/internal/logger"
	"github.com/horgh/irc"
)

// How long an operator console connection may sit idle.
const adminIOWait = 10 * time.Minute

// acceptAdminConnections accepts operator console connections. Each gets its
// own goroutine.
func (d *Duckfed) acceptAdminConnections() {
	defer d.WG.Done()

	for {
		conn, err := d.AdminListener.Accept()
		if err != nil {
			if d.isShuttingDown() {
				break
			}
			logger.ErrorF("Failed to accept console connection: %s", err)
			continue
		}

		logger.InfoF("Console connection from %s", conn.RemoteAddr())

		d.WG.Add(1)
		go d.serveAdmin(NewConn(conn, adminIOWait))
	}

	logger.DebugF("Console listener shutting down.")
}

// serveAdmin reads commands from a console connection and passes each to the
// event loop. It writes back whatever the event loop replies.
func (d *Duckfed) serveAdmin(conn Conn) {
	defer d.WG.Done()

	// Unblock our read if we shut down while the operator is idle.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-d.ShutdownChan:
		case <-done:
		}
		_ = conn.Close()
	}()

	for {
		m, err := conn.ReadMessage()
		if err != nil {
			if !d.isShuttingDown() {
				logger.InfoF("Console connection %s: %s", conn.RemoteAddr(), err)
			}
			return
		}

		reply := make(chan adminReply, 1)
		d.newEvent(Event{Type: AdminEvent, Message: m, Reply: reply})

		var r adminReply
		select {
		case r = <-reply:
		case <-d.ShutdownChan:
			return
		}

		for _, out := range r.Messages {
			if err := conn.WriteMessage(out); err != nil {
				logger.InfoF("Console connection %s: %s", conn.RemoteAddr(), err)
				return
			}
		}

		// The operator has seen the reply. Now we can go.
		if r.Shutdown {
			d.newEvent(Event{Type: ShutdownEvent})
			return
		}
	}
}

// adminReply is the result of a console command.
type adminReply struct {
	Messages []irc.Message

	// Shut down once the messages are written.
	Shutdown bool
}

// handleAdminMessage runs a console command.
//
// Names go in the last parameter. Channel names may contain spaces.
func (d *Duckfed) handleAdminMessage(m irc.Message) adminReply {
	command := strings.ToUpper(m.Command)

	logger.InfoF("Console command: %s", command)

	switch command {
	case "STATS":
		return adminReply{Messages: []irc.Message{{
			Command: "STATS",
			Params: []string{
				fmt.Sprintf("%d", len(d.Users)),
				fmt.Sprintf("%d", len(d.Channels)),
				fmt.Sprintf("%d", len(d.Subscriptions)),
				fmt.Sprintf("%d", len(d.Neighbors)),
				fmt.Sprintf("%d", d.Seen.Len()),
			},
		}}}

	case "CHANNELS":
		var replies []irc.Message
		for _, name := range d.list() {
			replies = append(replies, irc.Message{
				Command: "CHANNEL",
				Params: []string{
					fmt.Sprintf("%d", len(d.Channels[name].Members)),
					name,
				},
			})
		}
		return adminReply{Messages: append(replies, irc.Message{Command: "END"})}

	case "NEIGHBORS":
		var replies []irc.Message
		for _, n := range d.Neighbors {
			channels := n.subscribedChannels()
			replies = append(replies, irc.Message{
				Command: "NEIGHBOR",
				Params: []string{
					n.Addr.String(),
					fmt.Sprintf("%d", len(channels)),
					strings.Join(channels, " "),
				},
			})
		}
		return adminReply{Messages: append(replies, irc.Message{Command: "END"})}

	case "SUBS":
		now := d.now()
		var replies []irc.Message
		for _, name := range d.subscriptionNames() {
			age := now.Sub(d.Subscriptions[name].LastRenewed)
			replies = append(replies, irc.Message{
				Command: "SUB",
				Params:  []string{fmt.Sprintf("%d", int(age.Seconds())), name},
			})
		}
		return adminReply{Messages: append(replies, irc.Message{Command: "END"})}

	case "DIE":
		logger.InfoF("Console requested shutdown.")
		return adminReply{
			Messages: []irc.Message{{Command: "DIE", Params: []string{"Shutting down"}}},
			Shutdown: true,
		}

	default:
		return adminReply{Messages: []irc.Message{{
			Command: "421",
			Params:  []string{m.Command, "Unknown command"},
		}}}
	}
}
