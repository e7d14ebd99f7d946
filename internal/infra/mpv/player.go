// Package mpv drives an mpv process through its JSON IPC socket as the playback service.
package mpv

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	socketCheckInterval = 100 * time.Millisecond
	socketReadDeadline  = 500 * time.Millisecond
)

// ErrNotRunning is returned by calls made before Connect or after mpv went away.
var ErrNotRunning = errors.New("mpv is not running")

// Command is one IPC request.
type Command struct {
	Command   []any `json:"command"`
	RequestID int   `json:"request_id,omitempty"`
}

// Response is one IPC reply or event.
type Response struct {
	Error     string `json:"error"`
	Data      any    `json:"data"`
	RequestID int    `json:"request_id"`
	Event     string `json:"event"`
}

// Player controls mpv. With a binary configured it spawns mpv on Connect;
// without one it attaches to an mpv already listening on the socket.
type Player struct {
	socketPath string
	binary     string

	mu      sync.Mutex
	cmd     *exec.Cmd
	monitor net.Conn
	done    chan struct{}
	nextID  int
}

// NewPlayer creates a player for socketPath. An empty binary means attach-only.
func NewPlayer(socketPath, binary string) *Player {
	return &Player{socketPath: socketPath, binary: binary}
}

// Connect starts (or attaches to) mpv and waits until its socket accepts connections.
func (p *Player) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done != nil {
		return nil
	}

	var cmd *exec.Cmd
	if p.binary != "" {
		os.Remove(p.socketPath)
		log.Info().Str("binary", p.binary).Str("socket", p.socketPath).Msg("Starting mpv")
		cmd = exec.Command(p.binary,
			"--idle",
			"--pause",
			"--no-video",
			"--no-config",
			"--input-ipc-server="+p.socketPath,
		)
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("could not start mpv process: %w", err)
		}
	}

	monitor, err := p.waitForSocket(ctx)
	if err != nil {
		if cmd != nil {
			cmd.Process.Kill()
			cmd.Wait()
		}
		return err
	}

	done := make(chan struct{})
	var once sync.Once
	finish := func() { once.Do(func() { close(done) }) }

	go func() {
		// The monitor connection ends when mpv exits or the socket goes away.
		scanner := bufio.NewScanner(monitor)
		for scanner.Scan() {
		}
		finish()
	}()
	if cmd != nil {
		go func() {
			cmd.Wait()
			finish()
		}()
	}

	p.cmd = cmd
	p.monitor = monitor
	p.done = done

	go func() {
		<-done
		p.mu.Lock()
		if p.done == done {
			p.resetLocked()
		}
		p.mu.Unlock()
	}()

	log.Info().Str("socket", p.socketPath).Msg("mpv ready")
	return nil
}

func (p *Player) waitForSocket(ctx context.Context) (net.Conn, error) {
	ticker := time.NewTicker(socketCheckInterval)
	defer ticker.Stop()

	for {
		conn, err := net.Dial("unix", p.socketPath)
		if err == nil {
			return conn, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("mpv socket did not appear at %s: %w", p.socketPath, ctx.Err())
		case <-ticker.C:
		}
	}
}

// resetLocked forgets the running instance (must hold lock).
func (p *Player) resetLocked() {
	if p.monitor != nil {
		p.monitor.Close()
		p.monitor = nil
	}
	p.cmd = nil
	p.done = nil
}

// Done is closed when mpv exits or its socket closes.
func (p *Player) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Close stops a spawned mpv, or detaches from an external one.
func (p *Player) Close() error {
	p.mu.Lock()
	cmd := p.cmd
	running := p.done != nil
	p.mu.Unlock()

	if !running {
		return nil
	}

	var err error
	if cmd != nil {
		if _, qerr := p.send(Command{Command: []any{"quit"}}); qerr != nil {
			err = cmd.Process.Kill()
		}
	}

	p.mu.Lock()
	p.resetLocked()
	p.mu.Unlock()
	return err
}

// Load replaces the current file with uri and keeps mpv paused.
func (p *Player) Load(uri string) error {
	_, err := p.send(
		Command{Command: []any{"set_property", "pause", true}},
		Command{Command: []any{"loadfile", uri, "replace"}},
	)
	return err
}

// Play starts the loaded file.
func (p *Player) Play() error {
	return p.setPause(false)
}

// Pause pauses playback.
func (p *Player) Pause() error {
	return p.setPause(true)
}

// Resume continues playback.
func (p *Player) Resume() error {
	return p.setPause(false)
}

func (p *Player) setPause(paused bool) error {
	_, err := p.send(Command{Command: []any{"set_property", "pause", paused}})
	return err
}

// send writes cmds on a fresh connection and waits for their replies.
func (p *Player) send(cmds ...Command) ([]Response, error) {
	p.mu.Lock()
	if p.done == nil {
		p.mu.Unlock()
		return nil, ErrNotRunning
	}
	for i := range cmds {
		p.nextID++
		cmds[i].RequestID = p.nextID
	}
	p.mu.Unlock()

	conn, err := net.Dial("unix", p.socketPath)
	if err != nil {
		return nil, fmt.Errorf("could not connect to mpv socket: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(socketReadDeadline))

	encoder := json.NewEncoder(conn)
	for _, cmd := range cmds {
		if err := encoder.Encode(cmd); err != nil {
			return nil, fmt.Errorf("error sending mpv command: %w", err)
		}
	}

	var responses []Response
	scanner := bufio.NewScanner(conn)
	for len(responses) < len(cmds) {
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return responses, fmt.Errorf("error reading from mpv socket: %w", err)
			}
			return responses, fmt.Errorf("mpv closed the socket after %d of %d replies", len(responses), len(cmds))
		}

		var resp Response
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			log.Warn().Str("line", scanner.Text()).Err(err).Msg("Could not parse line from mpv")
			continue
		}
		if resp.Event != "" || resp.RequestID == 0 {
			continue
		}
		if resp.Error != "success" {
			return responses, fmt.Errorf("mpv %v: %s", cmds[len(responses)].Command[0], resp.Error)
		}
		responses = append(responses, resp)
	}
	return responses, nil
}
