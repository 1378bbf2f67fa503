// Package session holds the client-side state machine for a DJ
// listening session: connection lifecycle, room membership, and the
// coupling between song events and local audio playback.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/soundbooth/djcast/internal/eventchannel"
	"github.com/soundbooth/djcast/internal/playback"
	"github.com/soundbooth/djcast/internal/proto"
	"github.com/soundbooth/djcast/internal/store"
)

// State is the connection state of a session.
type State int

const (
	Disconnected State = iota
	Connected
)

// DialFunc establishes an event channel. Tests substitute a fake.
type DialFunc func(ctx context.Context) (eventchannel.Bus, error)

// Options configures a session.
type Options struct {
	Host string
	Port int

	// Audio enables streaming the room's audio through Sink.
	Audio bool
	Sink  playback.Sink

	Logger   *zerolog.Logger
	Notifier Notifier    // nil uses a LogNotifier on Logger
	History  store.Store // nil disables listening history
	Dial     DialFunc    // nil dials ws://Host:Port/socket
}

// Session owns all client-side state for one DJ connection. All
// fields behind mu are mutated only by the named transition methods;
// the mutex covers the caller goroutine racing the channel's dispatch
// goroutine.
type Session struct {
	host    string
	port    int
	audio   bool
	sink    playback.Sink
	log     *zerolog.Logger
	notify  Notifier
	history store.Store
	dial    DialFunc

	mu            sync.Mutex
	ch            eventchannel.Bus
	state         State
	room          *proto.Room
	lastAnonymous int
	playing       bool
}

// New builds a disconnected session.
func New(opts Options) *Session {
	s := &Session{
		host:    opts.Host,
		port:    opts.Port,
		audio:   opts.Audio,
		sink:    opts.Sink,
		log:     opts.Logger,
		notify:  opts.Notifier,
		history: opts.History,
		dial:    opts.Dial,
	}
	if s.port == 0 {
		s.port = 80
	}
	if s.notify == nil {
		s.notify = NewLogNotifier(opts.Logger)
	}
	if s.dial == nil {
		url := fmt.Sprintf("ws://%s/socket", s.addr())
		s.dial = func(ctx context.Context) (eventchannel.Bus, error) {
			return eventchannel.Dial(ctx, url, s.log)
		}
	}
	return s
}

// Connect establishes the event channel and registers all inbound
// handlers. If already connected it disconnects first. On success the
// session is Connected and, when a room is remembered from before a
// disconnect, a rejoin for it has been issued.
func (s *Session) Connect(ctx context.Context) error {
	if s.Connected() {
		s.Disconnect()
	}

	ch, err := s.dial(ctx)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", s.addr(), err)
	}

	s.registerHandlers(ch)

	s.mu.Lock()
	s.ch = ch
	s.state = Connected
	room := s.room
	s.mu.Unlock()

	ch.Start()

	s.notify.Connected(s.host, s.port)
	s.onConnect(ctx, room)
	return nil
}

// onConnect resumes room membership remembered from before a
// disconnect. A rejoin failure must not tear down the fresh
// connection, so it is logged and absorbed.
func (s *Session) onConnect(ctx context.Context, room *proto.Room) {
	if room == nil {
		return
	}
	s.log.Info().Str("room", room.ShortName).Msg("rejoining last room")
	if err := s.JoinRoom(ctx, room.ShortName); err != nil {
		s.log.Error().Err(err).Str("room", room.ShortName).Msg("rejoin failed")
	}
}

// Disconnect tears the channel down and runs the same cleanup as an
// unsolicited disconnect. No-op when already disconnected.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.state != Connected {
		s.mu.Unlock()
		return
	}
	ch := s.ch
	s.mu.Unlock()

	_ = ch.Close()
	s.onDisconnect(nil)
}

// JoinRoom issues a synchronous room:join for the short name and, on
// success, stores the returned room record with the short name merged
// in. Requires Connected.
func (s *Session) JoinRoom(ctx context.Context, shortName string) error {
	s.log.Debug().Str("room", shortName).Msg("joining room")

	data, err := s.call(ctx, proto.EventRoomJoin, shortName, false)
	if err != nil {
		return err
	}

	room, err := proto.DecodeRoom(data)
	if err != nil {
		return fmt.Errorf("join room %q: %w", shortName, err)
	}
	room.ShortName = shortName

	s.mu.Lock()
	s.room = &room
	s.mu.Unlock()

	s.notify.RoomJoined(room.Name)
	s.rememberRoom(ctx, shortName)
	return nil
}

// LeaveRoom issues room:leave, clears room membership, and stops any
// active playback. Server-side "not in a room" complaints are ignored;
// only requiring a live channel matters here.
func (s *Session) LeaveRoom(ctx context.Context) error {
	if _, err := s.call(ctx, proto.EventRoomLeave, nil, true); err != nil {
		return err
	}

	s.mu.Lock()
	s.room = nil
	s.mu.Unlock()

	s.stopPlayback()
	return nil
}

// Wait blocks, processing inbound events, for the given duration (0
// means indefinitely). It returns nil when the duration elapses or the
// channel closes, and ctx.Err() on cancellation. A channel must exist,
// though it need not still be connected.
func (s *Session) Wait(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	if ch == nil {
		return ErrNoChannel
	}

	var timeout <-chan time.Time
	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case <-ch.Done():
		return nil
	case <-timeout:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connected reports whether the channel is established.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == Connected
}

// InRoom reports whether the session is connected and in a room.
func (s *Session) InRoom() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == Connected && s.room != nil
}

// Room returns a copy of the current room record, or nil.
func (s *Session) Room() *proto.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room == nil {
		return nil
	}
	room := *s.room
	return &room
}

// StreamURL is the audio stream endpoint for the given room.
func (s *Session) StreamURL(shortName string) string {
	return fmt.Sprintf("http://%s/stream/%s/current", s.addr(), shortName)
}

func (s *Session) addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// call is the synchronous request path: emit the event, block for its
// single reply, and translate a reply carrying an "error" field into a
// RemoteError unless the caller opted to ignore those.
func (s *Session) call(ctx context.Context, event string, payload any, ignoreError bool) (json.RawMessage, error) {
	s.mu.Lock()
	if s.state != Connected || s.ch == nil {
		s.mu.Unlock()
		return nil, ErrNotConnected
	}
	ch := s.ch
	s.mu.Unlock()

	s.log.Debug().Str("event", event).Msg("emitting event")
	data, err := ch.Call(ctx, event, payload)
	if err != nil {
		return nil, err
	}

	if !ignoreError {
		if msg, ok := proto.ReplyError(data); ok {
			return nil, &RemoteError{Message: msg}
		}
	}
	return data, nil
}

func (s *Session) registerHandlers(ch eventchannel.Bus) {
	ch.On(proto.EventDisconnect, s.guard(ch, s.onDisconnect))
	ch.On(proto.EventError, s.guard(ch, s.onServerError))
	ch.On(proto.EventKick, s.guard(ch, s.onKick))
	ch.On(proto.EventNumAnonymous, s.guard(ch, s.onNumAnonymous))
	ch.On(proto.EventUsers, s.guard(ch, s.onUsers))
	ch.On(proto.EventUserJoin, s.guard(ch, s.onUserJoin))
	ch.On(proto.EventUserLeave, s.guard(ch, s.onUserLeave))
	ch.On(proto.EventSongUpdate, s.guard(ch, s.onSongUpdate))
	ch.On(proto.EventSongStop, s.guard(ch, s.onSongStop))
}

// guard drops events from a channel the session has already replaced,
// so a stale connection's trailing disconnect cannot corrupt the state
// of its successor.
func (s *Session) guard(ch eventchannel.Bus, h eventchannel.Handler) eventchannel.Handler {
	return func(data json.RawMessage) {
		s.mu.Lock()
		stale := s.ch != ch
		s.mu.Unlock()
		if stale {
			return
		}
		h(data)
	}
}

// onDisconnect handles both requested and unsolicited teardown. Room
// membership is deliberately preserved so the next Connect can rejoin;
// only a kick or an explicit leave clears it.
func (s *Session) onDisconnect(json.RawMessage) {
	s.mu.Lock()
	wasConnected := s.state == Connected
	s.state = Disconnected
	s.lastAnonymous = 0
	s.mu.Unlock()

	s.stopPlayback()
	if wasConnected {
		s.notify.Disconnected(s.host, s.port)
	}
}

func (s *Session) onServerError(data json.RawMessage) {
	s.notify.ServerError(proto.DecodeReason(data))
}

// onKick clears room membership, unlike onDisconnect: eviction from a
// room is not a transient link failure.
func (s *Session) onKick(data json.RawMessage) {
	s.mu.Lock()
	s.room = nil
	s.mu.Unlock()

	s.stopPlayback()
	s.notify.Kicked(proto.DecodeReason(data))
}

func (s *Session) onNumAnonymous(data json.RawMessage) {
	count, err := proto.DecodeCount(data)
	if err != nil {
		s.log.Warn().Err(err).Msg("bad num_anonymous payload")
		return
	}

	s.mu.Lock()
	if count == s.lastAnonymous {
		s.mu.Unlock()
		return
	}
	s.lastAnonymous = count
	s.mu.Unlock()

	s.notify.AnonymousListeners(count)
}

func (s *Session) onUsers(data json.RawMessage) {
	users, err := proto.DecodeUsers(data)
	if err != nil {
		s.log.Warn().Err(err).Msg("bad users payload")
		return
	}
	if len(users) == 0 {
		return
	}
	s.notify.Users(users)
}

func (s *Session) onUserJoin(data json.RawMessage) {
	user, err := proto.DecodeUser(data)
	if err != nil {
		s.log.Warn().Err(err).Msg("bad user:join payload")
		return
	}
	s.notify.UserJoined(user)
}

func (s *Session) onUserLeave(data json.RawMessage) {
	user, err := proto.DecodeUser(data)
	if err != nil {
		s.log.Warn().Err(err).Msg("bad user:leave payload")
		return
	}
	s.notify.UserLeft(user)
}

// onSongUpdate notifies about the new track and starts streaming when
// the track is marked playing. An update with playing=false does not
// stop an active stream; only room:song:stop does.
func (s *Session) onSongUpdate(data json.RawMessage) {
	song, err := proto.DecodeSong(data)
	if err != nil {
		s.log.Warn().Err(err).Msg("bad song:update payload")
		return
	}

	s.notify.SongPlaying(song)
	s.recordPlay(song)

	if song.Playing {
		s.startPlayback()
	}
}

func (s *Session) onSongStop(json.RawMessage) {
	s.notify.SongStopped()
	s.stopPlayback()
}

// startPlayback begins streaming the current room's audio. When a
// stream is already active it is stopped first: at most one playback
// session may exist.
func (s *Session) startPlayback() {
	s.mu.Lock()
	if !s.audio || s.sink == nil || s.room == nil {
		s.mu.Unlock()
		return
	}
	url := s.StreamURL(s.room.ShortName)
	wasPlaying := s.playing
	s.playing = true
	s.mu.Unlock()

	if wasPlaying {
		if err := s.sink.Stop(); err != nil {
			s.log.Warn().Err(err).Msg("stop previous stream")
		}
	}
	if err := s.sink.Start(url); err != nil {
		s.log.Error().Err(err).Str("url", url).Msg("start stream")
		s.mu.Lock()
		s.playing = false
		s.mu.Unlock()
	}
}

func (s *Session) stopPlayback() {
	s.mu.Lock()
	s.playing = false
	sink := s.sink
	s.mu.Unlock()

	if sink == nil {
		return
	}
	if err := sink.Stop(); err != nil {
		s.log.Warn().Err(err).Msg("stop stream")
	}
}

func (s *Session) rememberRoom(ctx context.Context, shortName string) {
	if s.history == nil {
		return
	}
	if err := s.history.SetLastRoom(ctx, shortName); err != nil {
		s.log.Warn().Err(err).Msg("persist last room")
	}
}

func (s *Session) recordPlay(song proto.Song) {
	if s.history == nil {
		return
	}

	s.mu.Lock()
	roomName := ""
	if s.room != nil {
		roomName = s.room.ShortName
	}
	s.mu.Unlock()

	dj := ""
	if song.DJ != nil {
		dj = song.DJ.Username
	}
	play := store.Play{
		Room:      roomName,
		Title:     song.Title,
		Artist:    song.Artist,
		Album:     song.Album,
		DJ:        dj,
		StartedAt: time.Now(),
	}
	if err := s.history.RecordPlay(context.Background(), play); err != nil {
		s.log.Warn().Err(err).Msg("record play")
	}
}
