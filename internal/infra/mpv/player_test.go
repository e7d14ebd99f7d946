package mpv_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/edumarques81/kittunes-backend/internal/infra/mpv"
)

// fakeMPV answers IPC requests like an idle mpv.
type fakeMPV struct {
	ln      net.Listener
	mu      sync.Mutex
	cmds    [][]any
	conns   []net.Conn
	failCmd string
}

func newFakeMPV(t *testing.T) (*fakeMPV, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mpv.sock")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakeMPV{ln: ln}
	go f.serve()
	t.Cleanup(f.shutdown)
	return f, path
}

func (f *fakeMPV) serve() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conns = append(f.conns, conn)
		f.mu.Unlock()
		go f.handle(conn)
	}
}

func (f *fakeMPV) handle(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var cmd mpv.Command
		if err := json.Unmarshal(scanner.Bytes(), &cmd); err != nil {
			continue
		}
		f.mu.Lock()
		f.cmds = append(f.cmds, cmd.Command)
		fail := f.failCmd
		f.mu.Unlock()

		status := "success"
		if len(cmd.Command) > 0 && fmt.Sprint(cmd.Command[0]) == fail {
			status = "invalid parameter"
		}
		fmt.Fprintln(conn, `{"event":"property-change","name":"pause"}`)
		fmt.Fprintf(conn, `{"request_id":%d,"error":%q,"data":null}`+"\n", cmd.RequestID, status)
	}
}

func (f *fakeMPV) commands() [][]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]any(nil), f.cmds...)
}

func (f *fakeMPV) shutdown() {
	f.ln.Close()
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conns {
		c.Close()
	}
	f.conns = nil
}

func attach(t *testing.T, path string) *mpv.Player {
	t.Helper()
	p := mpv.NewPlayer(path, "")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestPlayerCallsWithoutConnect(t *testing.T) {
	p := mpv.NewPlayer(filepath.Join(t.TempDir(), "none.sock"), "")

	for name, call := range map[string]func() error{
		"Load":   func() error { return p.Load("x") },
		"Play":   p.Play,
		"Pause":  p.Pause,
		"Resume": p.Resume,
	} {
		if err := call(); !errors.Is(err, mpv.ErrNotRunning) {
			t.Errorf("%s: expected ErrNotRunning, got %v", name, err)
		}
	}
	if p.Done() != nil {
		t.Error("Done should be nil before Connect")
	}
}

func TestPlayerConnectTimesOut(t *testing.T) {
	p := mpv.NewPlayer(filepath.Join(t.TempDir(), "missing.sock"), "")

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	if err := p.Connect(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestPlayerConnectSpawnFailure(t *testing.T) {
	p := mpv.NewPlayer(filepath.Join(t.TempDir(), "mpv.sock"), "/nonexistent/mpv-binary")

	if err := p.Connect(context.Background()); err == nil {
		t.Error("expected error for missing binary")
	}
}

func TestPlayerLoadKeepsPaused(t *testing.T) {
	f, path := newFakeMPV(t)
	p := attach(t, path)

	if err := p.Load("https://cdn/imagine.mp3"); err != nil {
		t.Fatalf("Load: %v", err)
	}

	cmds := f.commands()
	if len(cmds) != 2 {
		t.Fatalf("expected 2 commands, got %v", cmds)
	}
	if fmt.Sprint(cmds[0]) != "[set_property pause true]" {
		t.Errorf("expected pause before load, got %v", cmds[0])
	}
	if fmt.Sprint(cmds[1]) != "[loadfile https://cdn/imagine.mp3 replace]" {
		t.Errorf("unexpected load command %v", cmds[1])
	}
}

func TestPlayerPauseResume(t *testing.T) {
	f, path := newFakeMPV(t)
	p := attach(t, path)

	if err := p.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if err := p.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := p.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	want := []string{
		"[set_property pause false]",
		"[set_property pause true]",
		"[set_property pause false]",
	}
	cmds := f.commands()
	if len(cmds) != len(want) {
		t.Fatalf("expected %d commands, got %v", len(want), cmds)
	}
	for i, w := range want {
		if got := fmt.Sprint(cmds[i]); got != w {
			t.Errorf("command %d: expected %s, got %s", i, w, got)
		}
	}
}

func TestPlayerCommandError(t *testing.T) {
	f, path := newFakeMPV(t)
	f.failCmd = "loadfile"
	p := attach(t, path)

	if err := p.Load("bad://uri"); err == nil {
		t.Error("expected mpv error to be returned")
	}
}

func TestPlayerDoneWhenSocketCloses(t *testing.T) {
	f, path := newFakeMPV(t)
	p := attach(t, path)

	done := p.Done()
	if done == nil {
		t.Fatal("Done should be non-nil after Connect")
	}

	f.shutdown()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Done was not closed after mpv went away")
	}

	deadline := time.Now().Add(time.Second)
	for p.Done() != nil && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := p.Play(); !errors.Is(err, mpv.ErrNotRunning) {
		t.Errorf("expected ErrNotRunning after disconnect, got %v", err)
	}
}
