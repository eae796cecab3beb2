package wsgroup

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zeusync/coupler/internal/core/comm"
	"github.com/zeusync/coupler/internal/core/observability/log"
)

var (
	ErrUnknownMember       = errors.New("rank is not a member of this group")
	ErrAlreadyJoined       = errors.New("rank already joined")
	ErrFingerprintMismatch = errors.New("group fingerprint mismatch")
	ErrJoinRefused         = errors.New("join refused by hub")
	ErrUnexpectedFrame     = errors.New("unexpected frame")
)

type memberConn struct {
	rank    int
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (m *memberConn) send(f frame) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.conn.WriteJSON(f)
}

// Hub matches collective calls of a fixed membership. It holds no timeouts:
// a member that never sends its part of a collective leaves the others
// waiting until their connections drop.
type Hub struct {
	ranks       []int
	members     map[int]struct{}
	fingerprint uint64
	session     uuid.UUID
	upgrader    websocket.Upgrader
	logger      log.Log

	mu       sync.Mutex
	conns    map[int]*memberConn
	joined   map[int]struct{}
	calls    map[uint64]*comm.Collective
	done     chan struct{}
	doneOnce sync.Once
}

// NewHub serves a group made of the given ranks.
func NewHub(ranks []int, logger log.Log) (*Hub, error) {
	if len(ranks) == 0 {
		return nil, comm.ErrEmptyGroup
	}
	members := make(map[int]struct{}, len(ranks))
	for _, r := range ranks {
		if r < 0 {
			return nil, fmt.Errorf("%w: %d", comm.ErrInvalidRank, r)
		}
		if _, dup := members[r]; dup {
			return nil, fmt.Errorf("%w: %d", comm.ErrDuplicateRank, r)
		}
		members[r] = struct{}{}
	}
	if logger == nil {
		logger = log.Provide()
	}
	h := &Hub{
		ranks:       slices.Clone(ranks),
		members:     members,
		fingerprint: Fingerprint(ranks),
		session:     uuid.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns:  make(map[int]*memberConn),
		joined: make(map[int]struct{}),
		calls:  make(map[uint64]*comm.Collective),
		done:   make(chan struct{}),
	}
	h.logger = logger.With(log.String("session", h.session.String()))
	return h, nil
}

func (h *Hub) Session() uuid.UUID { return h.session }

// Done is closed once every member has joined and then disconnected.
func (h *Hub) Done() <-chan struct{} { return h.done }

// Connected returns the number of members currently attached.
func (h *Hub) Connected() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", log.Error(err))
		return
	}
	defer conn.Close()

	var join frame
	if err := conn.ReadJSON(&join); err != nil {
		h.logger.Warn("read join failed", log.Error(err))
		return
	}
	mc := &memberConn{rank: join.Rank, conn: conn}
	if join.Type != frameJoin {
		_ = mc.send(frame{Type: frameError, Error: ErrUnexpectedFrame.Error()})
		return
	}
	if err := h.register(mc, join.Fingerprint); err != nil {
		h.logger.Warn("join refused", log.Int("rank", join.Rank), log.Error(err))
		_ = mc.send(frame{Type: frameError, Error: err.Error()})
		return
	}
	defer h.unregister(mc.rank)

	if err := mc.send(frame{Type: frameJoined, Rank: mc.rank, Size: len(h.ranks), Session: h.session.String()}); err != nil {
		h.logger.Warn("send joined failed", log.Int("rank", mc.rank), log.Error(err))
		return
	}
	h.logger.Debug("member joined", log.Int("rank", mc.rank))

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("member connection lost", log.Int("rank", mc.rank), log.Error(err))
			}
			return
		}
		if f.Type != frameCollective {
			h.logger.Warn("ignoring frame", log.Int("rank", mc.rank), log.String("type", string(f.Type)))
			continue
		}
		h.contribute(mc.rank, f)
	}
}

func (h *Hub) register(mc *memberConn, fingerprint uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.members[mc.rank]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownMember, mc.rank)
	}
	if fingerprint != h.fingerprint {
		return ErrFingerprintMismatch
	}
	if _, ok := h.conns[mc.rank]; ok {
		return fmt.Errorf("%w: %d", ErrAlreadyJoined, mc.rank)
	}
	h.conns[mc.rank] = mc
	h.joined[mc.rank] = struct{}{}
	return nil
}

func (h *Hub) unregister(rank int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, rank)
	if len(h.conns) == 0 && len(h.joined) == len(h.ranks) {
		h.doneOnce.Do(func() { close(h.done) })
	}
}

func (h *Hub) isMember(rank int) bool {
	_, ok := h.members[rank]
	return ok
}

func (h *Hub) contribute(rank int, f frame) {
	h.mu.Lock()
	c, ok := h.calls[f.Seq]
	if !ok {
		c = comm.NewCollective(f.Kind, f.Op, f.Root, len(h.ranks), h.isMember)
		h.calls[f.Seq] = c
	}
	c.Contribute(f.Kind, f.Op, f.Root, f.Values)
	if !c.Complete() {
		h.mu.Unlock()
		return
	}
	delete(h.calls, f.Seq)
	conns := make([]*memberConn, 0, len(h.conns))
	for _, mc := range h.conns {
		conns = append(conns, mc)
	}
	h.mu.Unlock()

	for _, mc := range conns {
		reply := frame{Type: frameResult, Rank: mc.rank, Seq: f.Seq}
		values, err := c.ResultFor(mc.rank)
		if err != nil {
			reply.Type = frameError
			reply.Error = err.Error()
		} else if values != nil {
			reply.Values = values
			reply.HasValues = true
		}
		if err := mc.send(reply); err != nil {
			h.logger.Warn("send result failed", log.Int("rank", mc.rank), log.Uint64("seq", f.Seq), log.Error(err))
		}
	}
}
