package main

import (
	"fmt"
	"net/netip"
)

// User holds information about a logged in client.
type User struct {
	// At most wire.UsernameMax-1 bytes. Unique.
	Username string

	// Where we send the user datagrams. The most recent login wins.
	Addr netip.AddrPort

	// Channel name to Channel.
	Channels map[string]*Channel
}

func (u *User) String() string {
	return fmt.Sprintf("%s (%s)", u.Username, u.Addr)
}
