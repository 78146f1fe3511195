// Package wire provides encoding and decoding of DuckChat datagrams. It is
// useful for implementing clients and servers.
//
// Every datagram begins with a 32-bit little-endian type tag. Scalar string
// fields are fixed size and NUL padded. Client requests and server-to-server
// messages share one tag space (see RequestType). Responses to clients have
// their own (see ResponseType), so the caller must know which direction it is
// decoding.
package wire

import (
	"fmt"

	"github.com/pkg/errors"
)

const (
	// UsernameMax is the capacity of a username field, including the NUL.
	UsernameMax = 32

	// ChannelMax is the capacity of a channel name field, including the NUL.
	ChannelMax = 32

	// SayMax is the capacity of a text field, including the NUL.
	SayMax = 64

	tagSize   = 4
	countSize = 4
	idSize    = 8
)

// ErrMalformed is wrapped by every decoding error.
var ErrMalformed = errors.New("malformed message")

// RequestType is the tag of a datagram sent to a server.
type RequestType int32

// Request tags. The values are fixed by the protocol.
const (
	RequestLogin     RequestType = 0
	RequestLogout    RequestType = 1
	RequestJoin      RequestType = 2
	RequestLeave     RequestType = 3
	RequestSay       RequestType = 4
	RequestList      RequestType = 5
	RequestWho       RequestType = 6
	RequestKeepAlive RequestType = 7
	RequestS2SJoin   RequestType = 8
	RequestS2SLeave  RequestType = 9
	RequestS2SSay    RequestType = 10
)

var requestNames = map[RequestType]string{
	RequestLogin:     "LOGIN",
	RequestLogout:    "LOGOUT",
	RequestJoin:      "JOIN",
	RequestLeave:     "LEAVE",
	RequestSay:       "SAY",
	RequestList:      "LIST",
	RequestWho:       "WHO",
	RequestKeepAlive: "KEEP_ALIVE",
	RequestS2SJoin:   "S2S_JOIN",
	RequestS2SLeave:  "S2S_LEAVE",
	RequestS2SSay:    "S2S_SAY",
}

// Size of each request on the wire.
var requestSizes = map[RequestType]int{
	RequestLogin:     tagSize + UsernameMax,
	RequestLogout:    tagSize,
	RequestJoin:      tagSize + ChannelMax,
	RequestLeave:     tagSize + ChannelMax,
	RequestSay:       tagSize + ChannelMax + SayMax,
	RequestList:      tagSize,
	RequestWho:       tagSize + ChannelMax,
	RequestKeepAlive: tagSize,
	RequestS2SJoin:   tagSize + ChannelMax,
	RequestS2SLeave:  tagSize + ChannelMax,
	RequestS2SSay:    tagSize + idSize + ChannelMax + UsernameMax + SayMax,
}

func (t RequestType) String() string {
	if name, ok := requestNames[t]; ok {
		return name
	}
	return fmt.Sprintf("REQUEST(%d)", int32(t))
}

// IsS2S reports whether the tag is a server-to-server message.
func (t RequestType) IsS2S() bool {
	return t == RequestS2SJoin || t == RequestS2SLeave || t == RequestS2SSay
}

// ResponseType is the tag of a datagram sent to a client.
type ResponseType int32

// Response tags.
const (
	ResponseSay   ResponseType = 0
	ResponseList  ResponseType = 1
	ResponseWho   ResponseType = 2
	ResponseError ResponseType = 3
)

var responseNames = map[ResponseType]string{
	ResponseSay:   "TXT_SAY",
	ResponseList:  "TXT_LIST",
	ResponseWho:   "TXT_WHO",
	ResponseError: "TXT_ERROR",
}

func (t ResponseType) String() string {
	if name, ok := responseNames[t]; ok {
		return name
	}
	return fmt.Sprintf("RESPONSE(%d)", int32(t))
}

// Request holds a datagram sent to a server, by a client or by a neighboring
// server. Only the fields its Type uses are encoded.
type Request struct {
	Type RequestType

	// ID identifies an S2S_SAY as it floods through the overlay.
	ID uint64

	// Username is set for LOGIN and S2S_SAY.
	Username string

	Channel string

	// Text is set for SAY and S2S_SAY.
	Text string
}

func (r Request) String() string {
	switch r.Type {
	case RequestLogin:
		return fmt.Sprintf("%s %s", r.Type, r.Username)
	case RequestSay:
		return fmt.Sprintf("%s %s %q", r.Type, r.Channel, r.Text)
	case RequestS2SSay:
		return fmt.Sprintf("%s %016x %s %s %q", r.Type, r.ID, r.Channel, r.Username,
			r.Text)
	case RequestJoin, RequestLeave, RequestWho, RequestS2SJoin, RequestS2SLeave:
		return fmt.Sprintf("%s %s", r.Type, r.Channel)
	default:
		return r.Type.String()
	}
}

// Response holds a datagram sent to a client.
type Response struct {
	Type ResponseType

	// Channel is set for TXT_SAY and TXT_WHO.
	Channel string

	// Username is set for TXT_SAY.
	Username string

	// Text is the said text for TXT_SAY and the message for TXT_ERROR.
	Text string

	// Channels is the TXT_LIST payload.
	Channels []string

	// Usernames is the TXT_WHO payload.
	Usernames []string
}

func (r Response) String() string {
	switch r.Type {
	case ResponseSay:
		return fmt.Sprintf("%s [%s][%s] %q", r.Type, r.Channel, r.Username, r.Text)
	case ResponseList:
		return fmt.Sprintf("%s %q", r.Type, r.Channels)
	case ResponseWho:
		return fmt.Sprintf("%s %s %q", r.Type, r.Channel, r.Usernames)
	case ResponseError:
		return fmt.Sprintf("%s %q", r.Type, r.Text)
	default:
		return r.Type.String()
	}
}
