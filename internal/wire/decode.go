package wire

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// ParseRequest decodes a datagram received by a server.
//
// The datagram must be at least as long as the layout of its type. Trailing
// bytes beyond that are ignored.
func ParseRequest(buf []byte) (Request, error) {
	t, err := parseTag(buf)
	if err != nil {
		return Request{}, err
	}

	r := Request{Type: RequestType(t)}

	size, ok := requestSizes[r.Type]
	if !ok {
		return Request{}, errors.Wrapf(ErrMalformed, "unknown request type %d", t)
	}

	if len(buf) < size {
		return Request{}, errors.Wrapf(ErrMalformed, "%s: have %d bytes, need %d",
			r.Type, len(buf), size)
	}

	body := buf[tagSize:]

	switch r.Type {
	case RequestLogin:
		r.Username = getString(body, UsernameMax)
	case RequestJoin, RequestLeave, RequestWho, RequestS2SJoin, RequestS2SLeave:
		r.Channel = getString(body, ChannelMax)
	case RequestSay:
		r.Channel = getString(body, ChannelMax)
		r.Text = getString(body[ChannelMax:], SayMax)
	case RequestS2SSay:
		r.ID = binary.LittleEndian.Uint64(body)
		body = body[idSize:]
		r.Channel = getString(body, ChannelMax)
		r.Username = getString(body[ChannelMax:], UsernameMax)
		r.Text = getString(body[ChannelMax+UsernameMax:], SayMax)
	}

	return r, nil
}

// ParseResponse decodes a datagram received by a client.
//
// For TXT_LIST and TXT_WHO we trust the stated count only if the datagram
// holds exactly that many entries.
func ParseResponse(buf []byte) (Response, error) {
	t, err := parseTag(buf)
	if err != nil {
		return Response{}, err
	}

	r := Response{Type: ResponseType(t)}
	body := buf[tagSize:]

	switch r.Type {
	case ResponseSay:
		if err := needBytes(r.Type, buf, tagSize+ChannelMax+UsernameMax+SayMax); err != nil {
			return Response{}, err
		}
		r.Channel = getString(body, ChannelMax)
		r.Username = getString(body[ChannelMax:], UsernameMax)
		r.Text = getString(body[ChannelMax+UsernameMax:], SayMax)
		return r, nil

	case ResponseList:
		count, entries, err := parseCount(r.Type, body, 0, ChannelMax)
		if err != nil {
			return Response{}, err
		}
		r.Channels = make([]string, 0, count)
		for i := 0; i < count; i++ {
			r.Channels = append(r.Channels, getString(entries[i*ChannelMax:], ChannelMax))
		}
		return r, nil

	case ResponseWho:
		count, entries, err := parseCount(r.Type, body, ChannelMax, UsernameMax)
		if err != nil {
			return Response{}, err
		}
		r.Channel = getString(body[countSize:], ChannelMax)
		r.Usernames = make([]string, 0, count)
		for i := 0; i < count; i++ {
			r.Usernames = append(r.Usernames,
				getString(entries[i*UsernameMax:], UsernameMax))
		}
		return r, nil

	case ResponseError:
		if err := needBytes(r.Type, buf, tagSize+SayMax); err != nil {
			return Response{}, err
		}
		r.Text = getString(body, SayMax)
		return r, nil
	}

	return Response{}, errors.Wrapf(ErrMalformed, "unknown response type %d", t)
}

func parseTag(buf []byte) (int32, error) {
	if len(buf) < tagSize {
		return 0, errors.Wrapf(ErrMalformed, "datagram too short: %d bytes",
			len(buf))
	}
	return int32(binary.LittleEndian.Uint32(buf)), nil
}

func needBytes(t ResponseType, buf []byte, size int) error {
	if len(buf) < size {
		return errors.Wrapf(ErrMalformed, "%s: have %d bytes, need %d", t,
			len(buf), size)
	}
	return nil
}

// parseCount reads the count that follows the tag of a variable length
// response, and returns the entries region. fixed is the size of any fields
// between the count and the entries.
func parseCount(
	t ResponseType,
	body []byte,
	fixed int,
	entrySize int,
) (int, []byte, error) {
	if len(body) < countSize+fixed {
		return 0, nil, errors.Wrapf(ErrMalformed, "%s: header truncated", t)
	}

	count := int32(binary.LittleEndian.Uint32(body))
	if count < 0 {
		return 0, nil, errors.Wrapf(ErrMalformed, "%s: negative count %d", t, count)
	}

	entries := body[countSize+fixed:]
	if len(entries)%entrySize != 0 || len(entries)/entrySize != int(count) {
		return 0, nil, errors.Wrapf(ErrMalformed,
			"%s: count %d does not match %d bytes of entries", t, count,
			len(entries))
	}

	return int(count), entries, nil
}

// getString reads a NUL padded field. We never read more than capacity-1
// bytes even if the sender did not terminate the field.
func getString(src []byte, capacity int) string {
	field := src[:capacity-1]
	if i := bytes.IndexByte(field, 0); i != -1 {
		field = field[:i]
	}
	return string(field)
}
