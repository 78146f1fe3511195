package main

import (
	"net/netip"
	"sort"

	"github.com/horgh/duckfed/internal/logger"
	"github.com/horgh/duckfed/internal/wire"
	"github.com/pkg/errors"
)

// channelNotFoundMessage is what we tell clients for ErrChannelNotFound.
const channelNotFoundMessage = "Channel does not exist"

var (
	// ErrChannelNotFound means the request named a channel that doesn't exist.
	ErrChannelNotFound = errors.New("channel does not exist")

	// ErrNotLoggedIn means no user is logged in from the request's address.
	ErrNotLoggedIn = errors.New("not logged in")
)

// login adds a user, or updates the address of an existing one so they can
// reconnect.
//
// Someone else logged in from the address is logged out. One address is one
// client.
func (d *Duckfed) login(username string, addr netip.AddrPort) *User {
	if previous, exists := d.userByAddr(addr); exists &&
		previous.Username != username {
		logger.WarnF("Address %s was used by %s. It is now %s.", addr,
			previous.Username, username)
		d.logoutUser(previous)
	}

	u, exists := d.Users[username]
	if exists {
		if u.Addr != addr {
			if d.Addrs[u.Addr] == username {
				delete(d.Addrs, u.Addr)
			}
			u.Addr = addr
		}
		logger.InfoF("User %s reconnected.", u)
	} else {
		u = &User{
			Username: username,
			Addr:     addr,
			Channels: make(map[string]*Channel),
		}
		d.Users[username] = u
		logger.InfoF("User %s logged in.", u)
	}

	d.Addrs[addr] = username

	return u
}

// userByAddr finds the user logged in from the address.
func (d *Duckfed) userByAddr(addr netip.AddrPort) (*User, bool) {
	username, exists := d.Addrs[addr]
	if !exists {
		return nil, false
	}
	u, exists := d.Users[username]
	return u, exists
}

// logout removes the user at the address from every channel and then forgets
// them.
func (d *Duckfed) logout(addr netip.AddrPort) {
	u, exists := d.userByAddr(addr)
	if !exists {
		logger.WarnF("Logout from %s: No user at this address.", addr)
		return
	}

	d.logoutUser(u)
}

func (d *Duckfed) logoutUser(u *User) {
	for _, channel := range u.Channels {
		d.removeUserFromChannel(channel, u)
	}

	delete(d.Users, u.Username)
	if d.Addrs[u.Addr] == u.Username {
		delete(d.Addrs, u.Addr)
	}

	logger.InfoF("User %s logged out.", u)
}

// join adds the user at the address to the channel, creating the channel if
// necessary. It reports whether we created the channel.
func (d *Duckfed) join(name string, addr netip.AddrPort) (*Channel, bool, error) {
	u, exists := d.userByAddr(addr)
	if !exists {
		return nil, false, errors.Wrapf(ErrNotLoggedIn, "join %s from %s", name, addr)
	}

	channel, exists := d.Channels[name]
	created := false
	if !exists {
		channel = &Channel{
			Name:    name,
			Members: make(map[string]*User),
		}
		d.Channels[name] = channel
		created = true
	}

	if channel.addUser(u) {
		logger.InfoF("User %s joined channel %s.", u, name)
	}

	return channel, created, nil
}

// leave removes the user at the address from the channel. The channel goes
// away if it has no members left.
func (d *Duckfed) leave(name string, addr netip.AddrPort) error {
	channel, exists := d.Channels[name]
	if !exists {
		return errors.Wrap(ErrChannelNotFound, name)
	}

	u, exists := d.userByAddr(addr)
	if !exists || !channel.hasUser(u) {
		logger.WarnF("Leave %s from %s: Not a member.", name, addr)
		return nil
	}

	d.removeUserFromChannel(channel, u)
	return nil
}

func (d *Duckfed) removeUserFromChannel(channel *Channel, u *User) {
	channel.removeUser(u)
	logger.InfoF("User %s left channel %s.", u, channel.Name)

	if len(channel.Members) == 0 {
		delete(d.Channels, channel.Name)
		logger.InfoF("Channel %s deleted.", channel.Name)
	}
}

// say delivers text from the user at the address to the channel's members.
// It returns the TXT_SAY sent so the caller can flood it to the overlay.
//
// The sender does not need to be a member of the channel.
func (d *Duckfed) say(name string, addr netip.AddrPort, text string) (wire.Response, error) {
	channel, exists := d.Channels[name]
	if !exists {
		return wire.Response{}, errors.Wrap(ErrChannelNotFound, name)
	}

	u, exists := d.userByAddr(addr)
	if !exists {
		return wire.Response{}, errors.Wrapf(ErrNotLoggedIn, "say to %s from %s",
			name, addr)
	}

	resp := wire.Response{
		Type:     wire.ResponseSay,
		Channel:  channel.Name,
		Username: u.Username,
		Text:     text,
	}

	d.messageLocalUsersOnChannel(channel, resp)

	return resp, nil
}

// messageLocalUsersOnChannel sends the response to every member.
func (d *Duckfed) messageLocalUsersOnChannel(channel *Channel, resp wire.Response) {
	for _, member := range channel.Members {
		if d.sendResponse(member.Addr, resp) {
			d.Metrics.Delivered.Inc()
		}
	}
}

// list returns every channel name, sorted.
func (d *Duckfed) list() []string {
	names := make([]string, 0, len(d.Channels))
	for name := range d.Channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// who returns the usernames of the channel's members, sorted.
func (d *Duckfed) who(name string) ([]string, error) {
	channel, exists := d.Channels[name]
	if !exists {
		return nil, errors.Wrap(ErrChannelNotFound, name)
	}
	return channel.memberNames(), nil
}
