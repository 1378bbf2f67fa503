// Package playback streams a room's audio through an external player
// process. At most one playback session exists at a time.
package playback

import (
	"fmt"
	"os/exec"
	"sync"

	"github.com/rs/zerolog"
)

// Sink accepts a stream URL to play and a stop command. Stop is
// idempotent and safe when nothing is playing.
type Sink interface {
	Start(url string) error
	Stop() error
}

// DefaultCommand is the player invoked when none is configured.
const DefaultCommand = "mpv"

// Player runs a command-line audio player as a child process, one
// process per stream. Starting a new stream replaces the previous one.
type Player struct {
	command string
	device  string
	log     *zerolog.Logger

	mu  sync.Mutex
	cmd *exec.Cmd
}

var _ Sink = (*Player)(nil)

// NewPlayer builds a Player. command may be empty to use
// DefaultCommand; device is an opaque audio-device selector passed to
// the player, empty for the system default.
func NewPlayer(command, device string, logger *zerolog.Logger) *Player {
	if command == "" {
		command = DefaultCommand
	}
	return &Player{command: command, device: device, log: logger}
}

// Start begins streaming from url, stopping any prior session first.
func (p *Player) Start(url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()

	args := []string{"--no-video", "--really-quiet"}
	if p.device != "" {
		args = append(args, "--audio-device="+p.device)
	}
	args = append(args, url)

	cmd := exec.Command(p.command, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start player %s: %w", p.command, err)
	}
	p.cmd = cmd
	p.log.Debug().Str("url", url).Int("pid", cmd.Process.Pid).Msg("playback started")

	// Reap the process when it exits on its own so a finished stream
	// does not leave a zombie behind.
	go func() {
		_ = cmd.Wait()
	}()
	return nil
}

// Stop terminates the current playback session, if any.
func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	return nil
}

func (p *Player) stopLocked() {
	if p.cmd == nil {
		return
	}
	if p.cmd.Process != nil {
		if err := p.cmd.Process.Kill(); err != nil {
			p.log.Debug().Err(err).Msg("kill player process")
		}
	}
	p.cmd = nil
}
