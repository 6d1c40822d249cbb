package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"planetsync/core"
)

// ErrLinkClosed is returned when sending on a closed link
var ErrLinkClosed = errors.New("session: link closed")

const (
	writeWait = 10 * time.Second
	inboxSize = 1024
)

// Link is the websocket connection to a relay for one world. It re-dials
// with exponential backoff when the connection drops and resumes the
// record stream from the replica's current length.
type Link struct {
	wsURL  string
	peer   string
	from   func() uint64
	logger *log.Logger

	mu   sync.Mutex // guards conn and writes
	conn *websocket.Conn

	inbox  chan core.Message
	closed chan struct{}
	once   sync.Once
}

// DialLink connects to the relay's websocket endpoint. from is asked for
// the resume index on every (re)connect.
func DialLink(ctx context.Context, relayURL, world, peer string, from func() uint64, logger *log.Logger) (*Link, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	wsURL, err := websocketURL(relayURL, world)
	if err != nil {
		return nil, err
	}
	l := &Link{
		wsURL:  wsURL,
		peer:   peer,
		from:   from,
		logger: logger,
		inbox:  make(chan core.Message, inboxSize),
		closed: make(chan struct{}),
	}
	conn, err := l.dial(ctx)
	if err != nil {
		return nil, err
	}
	l.conn = conn
	go l.run()
	return l, nil
}

func websocketURL(relayURL, world string) (string, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return "", fmt.Errorf("relay url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("relay url: unsupported scheme %q", u.Scheme)
	}
	u.Path = "/worlds/" + url.PathEscape(world) + "/ws"
	return u.String(), nil
}

func (l *Link) dial(ctx context.Context) (*websocket.Conn, error) {
	q := url.Values{}
	q.Set("peer", l.peer)
	q.Set("from", strconv.FormatUint(l.from(), 10))

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, l.wsURL+"?"+q.Encode(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, ErrWorldUnavailable
		}
		return nil, fmt.Errorf("dial %s: %w", l.wsURL, err)
	}
	return conn, nil
}

// run reads until the link is closed, reconnecting on failure
func (l *Link) run() {
	defer close(l.inbox)
	for {
		l.mu.Lock()
		conn := l.conn
		l.mu.Unlock()

		l.readLoop(conn)

		select {
		case <-l.closed:
			return
		default:
		}
		if err := l.reconnect(); err != nil {
			l.logger.Printf("giving up on relay: %v", err)
			return
		}
	}
}

func (l *Link) readLoop(conn *websocket.Conn) {
	for {
		var msg core.Message
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case <-l.closed:
			default:
				l.logger.Printf("relay read: %v", err)
			}
			return
		}
		select {
		case l.inbox <- msg:
		case <-l.closed:
			return
		}
	}
}

func (l *Link) reconnect() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-l.closed:
			cancel()
		case <-ctx.Done():
		}
	}()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0

	var fatal error
	err := backoff.RetryNotify(func() error {
		conn, err := l.dial(ctx)
		if errors.Is(err, ErrWorldUnavailable) {
			fatal = err
			return nil
		}
		if err != nil {
			return err
		}
		l.mu.Lock()
		defer l.mu.Unlock()
		select {
		case <-l.closed:
			conn.Close()
			fatal = ErrLinkClosed
			return nil
		default:
		}
		l.conn = conn
		return nil
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		l.logger.Printf("relay unreachable, retrying in %v: %v", wait, err)
	})
	if fatal != nil {
		return fatal
	}
	return err
}

// Messages delivers frames from the relay. It is closed when the link
// shuts down for good.
func (l *Link) Messages() <-chan core.Message {
	return l.inbox
}

func (l *Link) send(msg core.Message) error {
	select {
	case <-l.closed:
		return ErrLinkClosed
	default:
	}
	msg.Ver = core.ProtocolVersion
	msg.Peer = l.peer

	l.mu.Lock()
	defer l.mu.Unlock()
	l.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return l.conn.WriteJSON(msg)
}

// SendAppend forwards a locally issued record. There is no retry: if the
// write fails the record is lost.
func (l *Link) SendAppend(ctx context.Context, rec core.LogRecord) error {
	return l.send(core.Message{Type: core.MsgAppend, Record: &rec})
}

func (l *Link) SendPresence(ctx context.Context, cursor core.CursorEntry) error {
	return l.send(core.Message{Type: core.MsgPresence, Presence: &core.PresenceUpdate{Peer: l.peer, Cursor: cursor}})
}

// Resync drops the current connection so the link reconnects and the
// relay replays from the replica's length
func (l *Link) Resync() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conn.Close()
}

func (l *Link) Close() error {
	var err error
	l.once.Do(func() {
		close(l.closed)
		l.mu.Lock()
		defer l.mu.Unlock()
		l.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = l.conn.Close()
	})
	return err
}
