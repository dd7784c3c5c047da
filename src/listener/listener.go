package listener

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ordersync/src/bus"
	"ordersync/src/model"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"
)

// OrderFetcher reads single orders for created/retried events.
type OrderFetcher interface {
	FetchOne(ctx context.Context, id uint64) (model.Order, bool, error)
}

// Book is the cache surface the listener drives.
type Book interface {
	ApplyEvent(ev model.OrderEvent)
	FullSync(ctx context.Context) error
}

// State is the connection lifecycle of the listener.
type State uint8

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Listener keeps a persistent WebSocket subscription to the escrow
// contract's logs plus new block heads as a liveness heartbeat. Every
// disconnect tears the connection down completely and re-enters the sequence
// from scratch: new socket, new subscriptions, fresh contract constants,
// then a full sync. The attempt budget bounds a single outage; it resets
// whenever a generation connects. After the budget is exhausted the listener
// parks in Failed and leaves the last-known cache queryable.
type Listener struct {
	wsURL    string
	contract common.Address
	fetch    OrderFetcher
	book     Book
	events   *bus.Bus
	cfg      Config

	// resync re-reads the contract constants into the cache. Supplied by the
	// engine so the listener doesn't own the init sequence.
	resync func(ctx context.Context) error

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	writeMu sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup

	reqID       int
	subLogs     string
	subHeads    string
	lastHeadLog time.Time
}

func New(wsURL string, contract common.Address, fetch OrderFetcher, book Book, events *bus.Bus, resync func(ctx context.Context) error, cfg Config) *Listener {
	return &Listener{
		wsURL:    wsURL,
		contract: contract,
		fetch:    fetch,
		book:     book,
		events:   events,
		resync:   resync,
		cfg:      cfg,
		state:    Disconnected,
	}
}

// State returns the current connection state.
func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Listener) setState(s State) {
	l.mu.Lock()
	changed := l.state != s
	l.state = s
	l.mu.Unlock()

	if changed {
		logger.WithField("state", s.String()).Info("listener state changed")
		l.events.Publish(bus.EvConnStateChanged, s)
	}
}

// Start launches the connection loop.
func (l *Listener) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)
	go l.runLoop(ctx)
}

// Stop tears the listener down and waits for the loop to exit.
func (l *Listener) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	l.closeConn()
	l.wg.Wait()
	l.setState(Disconnected)
}

func (l *Listener) runLoop(ctx context.Context) {
	defer l.wg.Done()
	attempts := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		l.setState(Connecting)
		connected, err := l.connectAndServe(ctx)
		l.closeConn()

		if ctx.Err() != nil {
			return
		}
		if err == nil {
			// Clean close requested by the peer. Nothing to recover.
			l.setState(Disconnected)
			return
		}

		// The budget is per outage: a generation that made it to Connected
		// pays off all earlier attempts.
		if connected {
			attempts = 0
		}
		attempts++
		if attempts > l.cfg.MaxReconnectAttempts {
			logger.WithError(err).
				WithField("attempts", attempts-1).
				Error("reconnect budget exhausted, listener giving up")
			l.setState(Failed)
			return
		}

		delay := reconnectBackoff(attempts - 1)
		logger.WithError(err).
			WithField("attempt", attempts).
			WithField("delay", delay.String()).
			Warn("listener disconnected, reconnecting")
		l.setState(Reconnecting)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// connectAndServe runs one connection generation: dial, subscribe, resync,
// then pump messages until the socket dies. The bool reports whether the
// generation reached Connected; a nil error means the peer closed normally.
func (l *Listener) connectAndServe(ctx context.Context) (bool, error) {
	dialer := websocket.Dialer{HandshakeTimeout: l.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, l.wsURL, nil)
	if err != nil {
		return false, fmt.Errorf("dialing %s: %w", l.wsURL, err)
	}

	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()

	if err := l.subscribeAll(); err != nil {
		return false, err
	}
	l.setState(Connected)

	// Fresh generation: constants may have changed while we were away, and
	// anything emitted during the gap is unrecoverable except by resync.
	if l.resync != nil {
		if err := l.resync(ctx); err != nil {
			return true, fmt.Errorf("post-connect resync: %w", err)
		}
	}
	if err := l.book.FullSync(ctx); err != nil {
		return true, fmt.Errorf("post-connect full sync: %w", err)
	}

	// Keep-alive for this connection generation only.
	genCtx, cancelGen := context.WithCancel(ctx)
	defer cancelGen()
	go l.pingLoop(genCtx)

	for {
		conn.SetReadDeadline(time.Now().Add(l.cfg.ReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return true, nil
			}
			return true, err
		}
		l.handleMessage(ctx, msg)
	}
}

func (l *Listener) closeConn() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
	l.subLogs = ""
	l.subHeads = ""
}

func (l *Listener) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.ping()
		}
	}
}

func reconnectBackoff(retry int) time.Duration {
	const base = time.Second
	const max = 60 * time.Second
	if retry > 6 {
		return max
	}
	d := base * time.Duration(1<<retry)
	if d > max {
		return max
	}
	return d
}
