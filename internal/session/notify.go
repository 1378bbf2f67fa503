package session

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/soundbooth/djcast/internal/proto"
)

// Notifier receives structured facts about session transitions and
// renders them for the listener. The session never formats text
// itself.
type Notifier interface {
	Connected(host string, port int)
	Disconnected(host string, port int)
	RoomJoined(name string)
	Kicked(reason string)
	AnonymousListeners(count int)
	Users(users []proto.User)
	UserJoined(user proto.User)
	UserLeft(user proto.User)
	SongPlaying(song proto.Song)
	SongStopped()
	ServerError(message string)
}

// LogNotifier renders notifications as zerolog info lines.
type LogNotifier struct {
	log *zerolog.Logger
}

var _ Notifier = (*LogNotifier)(nil)

// NewLogNotifier builds the production notifier.
func NewLogNotifier(logger *zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: logger}
}

func (n *LogNotifier) Connected(host string, port int) {
	n.log.Info().Msgf("Connected to DJ at %s:%d", host, port)
}

func (n *LogNotifier) Disconnected(host string, port int) {
	n.log.Info().Msgf("Disconnected from DJ at %s:%d", host, port)
}

func (n *LogNotifier) RoomJoined(name string) {
	n.log.Info().Msgf("Joined room %q", name)
}

func (n *LogNotifier) Kicked(reason string) {
	if reason != "" {
		n.log.Info().Msgf("Kicked from the room. Reason: %s", reason)
		return
	}
	n.log.Info().Msg("Kicked from the room.")
}

func (n *LogNotifier) AnonymousListeners(count int) {
	if count == 1 {
		n.log.Info().Msg("There is currently 1 anonymous listener in the room. It's probably this client.")
		return
	}
	n.log.Info().Msgf("There are currently %d anonymous listeners in the room.", count)
}

func (n *LogNotifier) Users(users []proto.User) {
	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.FullName)
	}
	n.log.Info().Msgf("Users currently in the room: %s", strings.Join(names, ", "))
}

func (n *LogNotifier) UserJoined(user proto.User) {
	n.log.Info().Msgf("%s joined the room.", user.FullName)
}

func (n *LogNotifier) UserLeft(user proto.User) {
	n.log.Info().Msgf("%s left the room.", user.FullName)
}

func (n *LogNotifier) SongPlaying(song proto.Song) {
	who := "The room"
	if song.DJ != nil {
		who = "User " + song.DJ.Username
	}

	// A song that already has meaningful elapsed time was started
	// before we heard about it.
	if song.ElapsedMS > 1000 {
		n.log.Info().Msgf("%s is currently playing %q by %s, starting from %s",
			who, song.Title, song.Artist, formatElapsed(song.ElapsedMS))
		return
	}
	n.log.Info().Msgf("%s started playing %q by %s", who, song.Title, song.Artist)
}

func (n *LogNotifier) SongStopped() {
	n.log.Info().Msg("No song is currently playing.")
}

func (n *LogNotifier) ServerError(message string) {
	n.log.Warn().Msgf("Server error: %s", message)
}

func formatElapsed(ms int64) string {
	secs := ms / 1000
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
