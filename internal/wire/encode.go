package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Encode encodes the Request into a datagram.
//
// String fields longer than their field allows are truncated to capacity-1
// bytes so the field stays NUL terminated. We don't report truncation. Peers
// running the legacy server behave the same way.
func (r Request) Encode() ([]byte, error) {
	size, ok := requestSizes[r.Type]
	if !ok {
		return nil, errors.Errorf("unknown request type: %d", int32(r.Type))
	}

	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf, uint32(r.Type))
	body := buf[tagSize:]

	switch r.Type {
	case RequestLogin:
		putString(body, r.Username, UsernameMax)
	case RequestJoin, RequestLeave, RequestWho, RequestS2SJoin, RequestS2SLeave:
		putString(body, r.Channel, ChannelMax)
	case RequestSay:
		putString(body, r.Channel, ChannelMax)
		putString(body[ChannelMax:], r.Text, SayMax)
	case RequestS2SSay:
		binary.LittleEndian.PutUint64(body, r.ID)
		body = body[idSize:]
		putString(body, r.Channel, ChannelMax)
		putString(body[ChannelMax:], r.Username, UsernameMax)
		putString(body[ChannelMax+UsernameMax:], r.Text, SayMax)
	}

	return buf, nil
}

// Encode encodes the Response into a datagram.
//
// TXT_LIST and TXT_WHO are sized to hold exactly their entries. Truncation
// follows the same policy as Request.Encode.
func (r Response) Encode() ([]byte, error) {
	switch r.Type {
	case ResponseSay:
		buf := make([]byte, tagSize+ChannelMax+UsernameMax+SayMax)
		binary.LittleEndian.PutUint32(buf, uint32(r.Type))
		body := buf[tagSize:]
		putString(body, r.Channel, ChannelMax)
		putString(body[ChannelMax:], r.Username, UsernameMax)
		putString(body[ChannelMax+UsernameMax:], r.Text, SayMax)
		return buf, nil

	case ResponseList:
		buf := make([]byte, tagSize+countSize+len(r.Channels)*ChannelMax)
		binary.LittleEndian.PutUint32(buf, uint32(r.Type))
		binary.LittleEndian.PutUint32(buf[tagSize:], uint32(len(r.Channels)))
		body := buf[tagSize+countSize:]
		for i, name := range r.Channels {
			putString(body[i*ChannelMax:], name, ChannelMax)
		}
		return buf, nil

	case ResponseWho:
		buf := make([]byte,
			tagSize+countSize+ChannelMax+len(r.Usernames)*UsernameMax)
		binary.LittleEndian.PutUint32(buf, uint32(r.Type))
		binary.LittleEndian.PutUint32(buf[tagSize:], uint32(len(r.Usernames)))
		body := buf[tagSize+countSize:]
		putString(body, r.Channel, ChannelMax)
		body = body[ChannelMax:]
		for i, name := range r.Usernames {
			putString(body[i*UsernameMax:], name, UsernameMax)
		}
		return buf, nil

	case ResponseError:
		buf := make([]byte, tagSize+SayMax)
		binary.LittleEndian.PutUint32(buf, uint32(r.Type))
		putString(buf[tagSize:], r.Text, SayMax)
		return buf, nil
	}

	return nil, errors.Errorf("unknown response type: %d", int32(r.Type))
}

// Truncate cuts s so it fits a NUL terminated field of the given capacity.
func Truncate(s string, capacity int) string {
	if len(s) > capacity-1 {
		return s[:capacity-1]
	}
	return s
}

// putString writes s into the start of dst. dst must be zeroed and at least
// capacity bytes long.
func putString(dst []byte, s string, capacity int) {
	copy(dst[:capacity-1], Truncate(s, capacity))
}
