package session

import (
	"bytes"
	"strings"
	"testing"

	"github.com/soundbooth/djcast/internal/log"
	"github.com/soundbooth/djcast/internal/proto"
)

func notifierOutput(t *testing.T, fn func(n *LogNotifier)) string {
	t.Helper()
	var buf bytes.Buffer
	fn(NewLogNotifier(log.NewWriter(&buf, "info")))
	return buf.String()
}

func TestSongPhrasingAttribution(t *testing.T) {
	song := proto.Song{Title: "So What", Artist: "Miles Davis", Playing: true}

	out := notifierOutput(t, func(n *LogNotifier) { n.SongPlaying(song) })
	if !strings.Contains(out, `The room started playing "So What" by Miles Davis`) {
		t.Fatalf("unexpected phrasing: %s", out)
	}

	song.DJ = &proto.User{Username: "miles"}
	out = notifierOutput(t, func(n *LogNotifier) { n.SongPlaying(song) })
	if !strings.Contains(out, `User miles started playing "So What"`) {
		t.Fatalf("unexpected phrasing: %s", out)
	}
}

func TestSongPhrasingMidTrack(t *testing.T) {
	song := proto.Song{Title: "So What", Artist: "Miles Davis", ElapsedMS: 83000, Playing: true}

	out := notifierOutput(t, func(n *LogNotifier) { n.SongPlaying(song) })
	if !strings.Contains(out, "currently playing") || !strings.Contains(out, "starting from 1:23") {
		t.Fatalf("mid-track update not phrased as in progress: %s", out)
	}

	// Under a second of elapsed time still counts as a fresh start.
	song.ElapsedMS = 900
	out = notifierOutput(t, func(n *LogNotifier) { n.SongPlaying(song) })
	if !strings.Contains(out, "started playing") {
		t.Fatalf("fresh start phrased wrong: %s", out)
	}
}

func TestAnonymousListenerPlural(t *testing.T) {
	out := notifierOutput(t, func(n *LogNotifier) { n.AnonymousListeners(1) })
	if !strings.Contains(out, "There is currently 1 anonymous listener") {
		t.Fatalf("singular phrasing wrong: %s", out)
	}

	out = notifierOutput(t, func(n *LogNotifier) { n.AnonymousListeners(4) })
	if !strings.Contains(out, "There are currently 4 anonymous listeners") {
		t.Fatalf("plural phrasing wrong: %s", out)
	}
}

func TestFormatElapsed(t *testing.T) {
	cases := map[int64]string{
		0:      "0:00",
		1000:   "0:01",
		59999:  "0:59",
		60000:  "1:00",
		83000:  "1:23",
		600000: "10:00",
	}
	for ms, want := range cases {
		if got := formatElapsed(ms); got != want {
			t.Fatalf("formatElapsed(%d) = %q, want %q", ms, got, want)
		}
	}
}
