// Package mpd provides a wrapper around the gompd MPD client used as the playback service.
package mpd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/fhs/gompd/v2/mpd"
	"github.com/rs/zerolog/log"
)

// ErrNotConnected is returned by calls made before Connect or after the connection dropped.
var ErrNotConnected = errors.New("not connected to MPD")

// DefaultKeepAlive is how often an idle connection is pinged.
// MPD closes idle clients after connection_timeout (60s by default).
const DefaultKeepAlive = 20 * time.Second

// Client wraps the MPD client. It does not reconnect on its own: a lost
// connection closes Done and every further call returns ErrNotConnected.
type Client struct {
	mu        sync.RWMutex
	client    *mpd.Client
	done      chan struct{}
	host      string
	port      int
	password  string
	keepAlive time.Duration
}

// NewClient creates a new MPD client wrapper.
func NewClient(host string, port int, password string) *Client {
	return &Client{
		host:      host,
		port:      port,
		password:  password,
		keepAlive: DefaultKeepAlive,
	}
}

// SetKeepAlive changes the ping interval. Must be called before Connect.
func (c *Client) SetKeepAlive(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keepAlive = d
}

// Addr returns the MPD address.
func (c *Client) Addr() string {
	return net.JoinHostPort(c.host, strconv.Itoa(c.port))
}

// Connect establishes connection to MPD.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return nil
	}
	return c.connectLocked(ctx)
}

// connectLocked establishes connection (must hold lock).
func (c *Client) connectLocked(ctx context.Context) error {
	addr := c.Addr()
	log.Info().Str("addr", addr).Msg("Connecting to MPD")

	type result struct {
		client *mpd.Client
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		client, err := mpd.Dial("tcp", addr)
		ch <- result{client, err}
	}()

	var client *mpd.Client
	select {
	case r := <-ch:
		if r.err != nil {
			return fmt.Errorf("failed to connect to MPD: %w", r.err)
		}
		client = r.client
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.client != nil {
				r.client.Close()
			}
		}()
		return fmt.Errorf("failed to connect to MPD: %w", ctx.Err())
	}

	if c.password != "" {
		if err := client.Command("password %s", c.password).OK(); err != nil {
			client.Close()
			return fmt.Errorf("MPD authentication failed: %w", err)
		}
	}

	c.client = client
	c.done = make(chan struct{})
	go c.keepAliveLoop(client, c.done, c.keepAlive)

	log.Info().Msg("Connected to MPD")
	return nil
}

// keepAliveLoop pings MPD until the connection fails or is closed.
func (c *Client) keepAliveLoop(client *mpd.Client, done chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		if c.client != client {
			c.mu.Unlock()
			return
		}
		err := client.Ping()
		if err != nil {
			log.Warn().Err(err).Msg("MPD connection lost")
			c.dropLocked()
		}
		c.mu.Unlock()
		if err != nil {
			return
		}
	}
}

// dropLocked forgets the connection and signals Done (must hold lock).
func (c *Client) dropLocked() error {
	var err error
	if c.client != nil {
		err = c.client.Close()
		c.client = nil
	}
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	return err
}

// Done is closed when the current connection is lost or closed.
// It returns nil before the first Connect.
func (c *Client) Done() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.done
}

// Close closes the MPD connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropLocked()
}

// do runs fn with the live connection. A connection error drops the client.
func (c *Client) do(fn func(*mpd.Client) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return ErrNotConnected
	}
	err := fn(c.client)
	if err != nil && isConnError(err) {
		log.Warn().Err(err).Msg("MPD connection lost")
		c.dropLocked()
	}
	return err
}

// isConnError reports whether err came from the socket rather than an MPD ACK.
func isConnError(err error) bool {
	var netErr net.Error
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.As(err, &netErr)
}

// Load replaces the MPD queue with uri, leaving playback stopped.
func (c *Client) Load(uri string) error {
	return c.do(func(client *mpd.Client) error {
		if err := client.Stop(); err != nil {
			return err
		}
		if err := client.Clear(); err != nil {
			return err
		}
		return client.Add(uri)
	})
}

// Play starts the first song of the queue.
func (c *Client) Play() error {
	return c.do(func(client *mpd.Client) error {
		return client.Play(0)
	})
}

// Pause pauses playback.
func (c *Client) Pause() error {
	return c.do(func(client *mpd.Client) error {
		return client.Pause(true)
	})
}

// Resume continues a paused song, or starts a stopped one.
func (c *Client) Resume() error {
	return c.do(func(client *mpd.Client) error {
		status, err := client.Status()
		if err != nil {
			return err
		}
		if status["state"] == "stop" {
			return client.Play(-1)
		}
		return client.Pause(false)
	})
}
