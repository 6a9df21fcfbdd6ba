// Package homeassistant is a Home Assistant websocket API client: it feeds
// entity state changes into the event bus and issues service calls.
package homeassistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/lockd/internal/eventbus"
)

var (
	// ErrMaxReconnectsExceeded is returned when the maximum number of reconnect attempts is exceeded.
	ErrMaxReconnectsExceeded = errors.New("max reconnects exceeded")
	// ErrAuthFailed is returned when Home Assistant rejects the access token.
	ErrAuthFailed = errors.New("home assistant authentication failed")
	// ErrNotConnected is returned by calls made while no connection is up.
	ErrNotConnected = errors.New("home assistant not connected")
)

// Config contains connection and reconnection settings.
type Config struct {
	URL     string
	Token   string
	Timeout time.Duration // Handshake and per-call timeout

	MinBackoff    time.Duration // Minimum backoff between reconnects
	MaxBackoff    time.Duration // Maximum backoff between reconnects
	Multiplier    float64       // Backoff multiplier
	MaxReconnects int           // Max reconnect attempts, 0 = infinite

	RateLimitRPS float64 // Service calls per second, 0 = unlimited
}

// Client maintains one websocket connection to Home Assistant.
type Client struct {
	cfg     Config
	dialer  *websocket.Dialer
	bus     eventbus.Publisher
	limiter *rate.Limiter

	mu      sync.Mutex
	conn    *websocket.Conn
	nextID  int
	pending map[int]chan result

	writeMu sync.Mutex
}

// New creates a client that publishes state changes to bus.
func New(cfg Config, bus eventbus.Publisher) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = cfg.MinBackoff
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 2.0
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), 1)
	}

	return &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.Timeout,
		},
		bus:     bus,
		limiter: limiter,
		pending: make(map[int]chan result),
	}
}

// Connected reports whether a connection is up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Run keeps a connection up until ctx is cancelled, reconnecting with
// exponential backoff. Returns ErrMaxReconnectsExceeded if max reconnects is exceeded.
func (c *Client) Run(ctx context.Context) error {
	retryCount := 0
	currentBackoff := c.cfg.MinBackoff

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		connected, err := c.connect(ctx)
		if ctx.Err() != nil {
			return nil
		}

		// Reset retry count and backoff after a session that got through setup
		if connected {
			retryCount = 0
			currentBackoff = c.cfg.MinBackoff
		}

		retryCount++
		if c.cfg.MaxReconnects > 0 && retryCount > c.cfg.MaxReconnects {
			log.Error().
				Int("max_reconnects", c.cfg.MaxReconnects).
				Msg("Home Assistant: max reconnects exceeded, terminating")
			return ErrMaxReconnectsExceeded
		}

		log.Warn().
			Err(err).
			Dur("backoff", currentBackoff).
			Int("retry", retryCount).
			Int("max_reconnects", c.cfg.MaxReconnects).
			Msg("Home Assistant disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(currentBackoff):
		}

		// Calculate next backoff with multiplier, capped at max
		nextBackoff := time.Duration(float64(currentBackoff) * c.cfg.Multiplier)
		if nextBackoff > c.cfg.MaxBackoff {
			nextBackoff = c.cfg.MaxBackoff
		}
		currentBackoff = nextBackoff
	}
}

// connect runs one session. connected reports whether it got past
// authentication and subscription.
func (c *Client) connect(ctx context.Context) (connected bool, err error) {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	// Unblock reads when ctx is cancelled
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	if err := c.authenticate(conn); err != nil {
		return false, err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer c.disconnect()

	subscribeID, statesID := c.allocID(), c.allocID()
	if err := c.write(command{ID: subscribeID, Type: typeSubscribe, EventType: eventStateChanged}); err != nil {
		return false, err
	}
	if err := c.write(command{ID: statesID, Type: typeGetStates}); err != nil {
		return false, err
	}

	log.Info().Str("url", c.cfg.URL).Msg("Connected to Home Assistant")
	c.publishConnectivity(true)
	defer c.publishConnectivity(false)

	for {
		var msg incoming
		if err := conn.ReadJSON(&msg); err != nil {
			return true, err
		}

		switch msg.Type {
		case typeEvent:
			if msg.Event != nil && msg.Event.EventType == eventStateChanged {
				c.handleStateChanged(msg.Event.Data)
			}

		case typeResult:
			switch msg.ID {
			case subscribeID:
				if !msg.Success {
					return true, fmt.Errorf("subscribe: %w", msg.err())
				}
			case statesID:
				c.handleStates(msg)
			default:
				c.resolve(msg)
			}

		default:
			log.Trace().Str("type", msg.Type).Msg("Unhandled Home Assistant message")
		}
	}
}

func (c *Client) authenticate(conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(c.cfg.Timeout))
	defer conn.SetReadDeadline(time.Time{})

	var msg incoming
	if err := conn.ReadJSON(&msg); err != nil {
		return fmt.Errorf("read auth_required: %w", err)
	}
	if msg.Type != typeAuthRequired {
		return fmt.Errorf("unexpected message %q before auth", msg.Type)
	}

	c.writeMu.Lock()
	err := conn.WriteJSON(authMessage{Type: typeAuth, AccessToken: c.cfg.Token})
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("write auth: %w", err)
	}

	if err := conn.ReadJSON(&msg); err != nil {
		return fmt.Errorf("read auth result: %w", err)
	}
	switch msg.Type {
	case typeAuthOK:
		log.Debug().Str("version", msg.Version).Msg("Authenticated with Home Assistant")
		return nil
	case typeAuthInvalid:
		return fmt.Errorf("%w: %s", ErrAuthFailed, msg.Message)
	}
	return fmt.Errorf("unexpected auth response %q", msg.Type)
}

func (c *Client) handleStates(msg incoming) {
	if !msg.Success {
		log.Error().Err(msg.err()).Msg("Failed to fetch initial states")
		return
	}

	var states []EntityState
	if err := json.Unmarshal(msg.Result, &states); err != nil {
		log.Error().Err(err).Msg("Failed to parse initial states")
		return
	}

	log.Debug().Int("entities", len(states)).Msg("Received initial states")
	for _, s := range states {
		c.publishState(s, true)
	}
}

func (c *Client) handleStateChanged(data stateChangeData) {
	if data.NewState == nil {
		// Entity removed
		c.publishState(EntityState{EntityID: data.EntityID, State: "unavailable"}, false)
		return
	}
	c.publishState(*data.NewState, false)
}

func (c *Client) publishState(s EntityState, initial bool) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeStateChanged,
		Data: map[string]any{
			"entity_id":  s.EntityID,
			"state":      s.State,
			"attributes": s.Attributes,
			"initial":    initial,
		},
	})
}

func (c *Client) publishConnectivity(connected bool) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeConnectivity,
		Data: map[string]any{
			"connected": connected,
		},
	})
}

// CallService issues a service call and waits for its result.
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.nextID++
	id := c.nextID
	ch := make(chan result, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	log.Info().
		Str("domain", domain).
		Str("service", service).
		Interface("data", data).
		Msg("Calling service")

	if err := c.write(command{ID: id, Type: typeCallService, Domain: domain, Service: service, ServiceData: data}); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	select {
	case res := <-ch:
		return res.err
	case <-ctx.Done():
		return fmt.Errorf("call %s.%s: %w", domain, service, ctx.Err())
	}
}

func (c *Client) allocID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	return c.nextID
}

func (c *Client) write(cmd command) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.cfg.Timeout))
	return conn.WriteJSON(cmd)
}

func (c *Client) resolve(msg incoming) {
	c.mu.Lock()
	ch, ok := c.pending[msg.ID]
	delete(c.pending, msg.ID)
	c.mu.Unlock()
	if !ok {
		return
	}

	res := result{raw: msg.Result}
	if !msg.Success {
		res.err = msg.err()
	}
	ch <- res
}

// disconnect drops the connection and fails every pending call.
func (c *Client) disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn = nil
	for id, ch := range c.pending {
		ch <- result{err: ErrNotConnected}
		delete(c.pending, id)
	}
}
