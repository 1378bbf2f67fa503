// Package proto defines the wire protocol spoken with a DJ server: a
// JSON packet envelope carrying named events, plus the typed payloads
// for every event the client sends or receives.
package proto

import (
	"encoding/json"
	"fmt"
)

// Events the client emits (requests).
const (
	EventRoomJoin  = "room:join"
	EventRoomLeave = "room:leave"
)

// Events the server pushes.
const (
	EventDisconnect   = "disconnect"
	EventError        = "error"
	EventKick         = "kick"
	EventNumAnonymous = "room:num_anonymous"
	EventUsers        = "room:users"
	EventUserJoin     = "room:user:join"
	EventUserLeave    = "room:user:leave"
	EventSongUpdate   = "room:song:update"
	EventSongStop     = "room:song:stop"
)

// Packet is the envelope for every frame in both directions. ID is set
// on requests that expect a reply; the reply packet echoes it in Reply
// and carries no Event.
type Packet struct {
	Event string          `json:"event,omitempty"`
	ID    string          `json:"id,omitempty"`
	Reply string          `json:"reply,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// User is a named room member.
type User struct {
	FullName string `json:"fullName"`
	Username string `json:"username"`
}

// Room is the server's description of a room. ShortName is merged in
// client-side from the join request; the server reply only carries the
// display name and metadata.
type Room struct {
	ShortName string `json:"shortname,omitempty"`
	Name      string `json:"name"`
	// Meta keeps any additional server-supplied fields verbatim.
	Meta map[string]json.RawMessage `json:"-"`
}

// Song is the payload of room:song:update.
type Song struct {
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	Album      string `json:"album,omitempty"`
	DurationMS int64  `json:"durationMs"`
	ElapsedMS  int64  `json:"elapsedMs"`
	Playing    bool   `json:"playing"`
	DJ         *User  `json:"dj,omitempty"`
}

// ErrorReply is the shape of any reply carrying a server-side failure.
type ErrorReply struct {
	Error string `json:"error"`
}

// ReplyError extracts the error message from a reply payload, if the
// payload is a keyed structure containing an "error" field. Non-object
// payloads never carry errors.
func ReplyError(data json.RawMessage) (string, bool) {
	if len(data) == 0 || data[0] != '{' {
		return "", false
	}
	var er ErrorReply
	if err := json.Unmarshal(data, &er); err != nil {
		return "", false
	}
	return er.Error, er.Error != ""
}

// DecodeRoom parses a room:join reply. Unknown fields are retained in
// Meta so callers can pass server metadata through untouched.
func DecodeRoom(data json.RawMessage) (Room, error) {
	var room Room
	if err := json.Unmarshal(data, &room); err != nil {
		return Room{}, fmt.Errorf("decode room: %w", err)
	}
	if room.Name == "" {
		return Room{}, fmt.Errorf("decode room: missing name in %s", data)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Room{}, fmt.Errorf("decode room fields: %w", err)
	}
	delete(fields, "name")
	delete(fields, "shortname")
	if len(fields) > 0 {
		room.Meta = fields
	}
	return room, nil
}

// DecodeUser parses a room:user:join / room:user:leave payload.
func DecodeUser(data json.RawMessage) (User, error) {
	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		return User{}, fmt.Errorf("decode user: %w", err)
	}
	if u.FullName == "" && u.Username == "" {
		return User{}, fmt.Errorf("decode user: empty payload %s", data)
	}
	return u, nil
}

// DecodeUsers parses the room:users roster payload.
func DecodeUsers(data json.RawMessage) ([]User, error) {
	var users []User
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	return users, nil
}

// DecodeSong parses a room:song:update payload.
func DecodeSong(data json.RawMessage) (Song, error) {
	var s Song
	if err := json.Unmarshal(data, &s); err != nil {
		return Song{}, fmt.Errorf("decode song: %w", err)
	}
	if s.Title == "" {
		return Song{}, fmt.Errorf("decode song: missing title in %s", data)
	}
	return s, nil
}

// DecodeCount parses a bare integer payload (room:num_anonymous).
func DecodeCount(data json.RawMessage) (int, error) {
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return 0, fmt.Errorf("decode count: %w", err)
	}
	return n, nil
}

// DecodeReason parses the optional kick/error payload, accepting either
// a bare string or {"reason": ...} / {"message": ...}.
func DecodeReason(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	var obj struct {
		Reason  string `json:"reason"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		if obj.Reason != "" {
			return obj.Reason
		}
		return obj.Message
	}
	return ""
}
