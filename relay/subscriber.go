package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"planetsync/core"
)

const writeWait = 10 * time.Second

// subscriber is one websocket peer of a world. Records are pulled from the
// world's replica by the writer goroutine starting at next; everything
// else goes through the bounded queue.
type subscriber struct {
	peer  string
	conn  *websocket.Conn
	world *World

	next      uint64 // writer goroutine only
	perFrame  int
	notify    chan struct{}
	queue     chan core.Message
	done      chan struct{}
	closeOnce sync.Once
}

func newSubscriber(world *World, conn *websocket.Conn, peer string, from uint64, queueSize, perFrame int) *subscriber {
	return &subscriber{
		peer:     peer,
		conn:     conn,
		world:    world,
		next:     from,
		perFrame: max(perFrame, 1),
		notify:   make(chan struct{}, 1),
		queue:    make(chan core.Message, max(queueSize, 1)),
		done:     make(chan struct{}),
	}
}

// wake tells the writer there may be new records
func (s *subscriber) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// enqueue reports false when the queue is full
func (s *subscriber) enqueue(msg core.Message) bool {
	select {
	case <-s.done:
		return true
	default:
	}
	select {
	case s.queue <- msg:
		return true
	default:
		return false
	}
}

func (s *subscriber) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

func (s *subscriber) write(msg core.Message) error {
	msg.Ver = core.ProtocolVersion
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(msg)
}

// writePump is the only goroutine writing to the connection
func (s *subscriber) writePump() {
	defer s.close()
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
			if err := s.flushRecords(); err != nil {
				return
			}
		case msg := <-s.queue:
			if err := s.write(msg); err != nil {
				return
			}
		}
	}
}

func (s *subscriber) flushRecords() error {
	for {
		total := s.world.Length()
		if s.next >= total {
			return nil
		}
		batch := s.world.replica.Slice(s.next, s.next+uint64(s.perFrame))
		if len(batch) == 0 {
			return nil
		}
		err := s.write(core.Message{
			Type:    core.MsgRecords,
			World:   s.world.id,
			From:    s.next,
			Total:   total,
			Records: batch,
		})
		if err != nil {
			return err
		}
		s.next += uint64(len(batch))
	}
}

// readPump handles frames from the peer until the connection drops
func (s *subscriber) readPump(ctx context.Context) {
	for {
		var msg core.Message
		if err := s.conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case core.MsgAppend:
			if msg.Record == nil {
				s.reject("append without record")
				continue
			}
			if _, err := s.world.Append(ctx, s.peer, *msg.Record); err != nil {
				if errors.Is(err, ErrInvalidEntry) {
					s.reject(err.Error())
					continue
				}
				s.world.logger.Printf("world %s: append from %s: %v", s.world.id, s.peer, err)
				s.reject("append failed")
			}
		case core.MsgPresence:
			if msg.Presence == nil {
				continue
			}
			if err := s.world.Publish(ctx, s.peer, msg.Presence.Cursor); err != nil {
				s.world.logger.Printf("world %s: presence from %s: %v", s.world.id, s.peer, err)
			}
		default:
			s.reject("unknown message type " + msg.Type)
		}
	}
}

func (s *subscriber) reject(reason string) {
	s.enqueue(core.Message{Type: core.MsgError, World: s.world.id, Error: reason})
}
