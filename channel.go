package main

import "sort"

// Channel holds everything to do with a channel.
type Channel struct {
	// At most wire.ChannelMax-1 bytes. Case sensitive.
	Name string

	// Username to User.
	// If we have zero members, we should not exist.
	Members map[string]*User
}

// Add a user to the channel. Returns false if they were already a member.
func (c *Channel) addUser(u *User) bool {
	if _, exists := c.Members[u.Username]; exists {
		return false
	}

	c.Members[u.Username] = u
	u.Channels[c.Name] = c
	return true
}

// Remove a user from the channel.
func (c *Channel) removeUser(u *User) {
	delete(c.Members, u.Username)
	delete(u.Channels, c.Name)
}

func (c *Channel) hasUser(u *User) bool {
	member, exists := c.Members[u.Username]
	return exists && member == u
}

// memberNames returns the members' usernames in sorted order.
func (c *Channel) memberNames() []string {
	names := make([]string, 0, len(c.Members))
	for name := range c.Members {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
