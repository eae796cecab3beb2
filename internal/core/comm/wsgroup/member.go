package wsgroup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zeusync/coupler/internal/core/comm"
)

var _ comm.Group = (*Member)(nil)

const closeTimeout = time.Second

// Member is one rank of a hub-backed group. Like every comm.Group it must
// be driven by a single goroutine, apart from Close.
type Member struct {
	conn    *websocket.Conn
	rank    int
	size    int
	session string

	mu     sync.Mutex
	seq    uint64
	closed bool
}

// Dial joins the hub at url as rank. ranks is the full membership the
// caller expects; it must match the hub's.
func Dial(ctx context.Context, url string, rank int, ranks []int) (*Member, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial hub: %w", err)
	}

	if err := conn.WriteJSON(frame{Type: frameJoin, Rank: rank, Fingerprint: Fingerprint(ranks)}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send join: %w", err)
	}
	var reply frame
	if err := conn.ReadJSON(&reply); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read join reply: %w", err)
	}
	switch reply.Type {
	case frameJoined:
	case frameError:
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %s", ErrJoinRefused, reply.Error)
	default:
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedFrame, reply.Type)
	}

	return &Member{
		conn:    conn,
		rank:    rank,
		size:    reply.Size,
		session: reply.Session,
	}, nil
}

func (m *Member) Rank() int { return m.rank }

func (m *Member) Size() int { return m.size }

// Session is the hub session this member joined.
func (m *Member) Session() string { return m.session }

func (m *Member) Reduce(values []int64, op comm.Op, root int) ([]int64, error) {
	return m.collective(comm.KindReduce, values, op, root)
}

func (m *Member) AllReduce(values []int64, op comm.Op) ([]int64, error) {
	return m.collective(comm.KindAllReduce, values, op, 0)
}

func (m *Member) collective(kind comm.Kind, values []int64, op comm.Op, root int) ([]int64, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, comm.ErrGroupClosed
	}
	m.seq++
	seq := m.seq
	m.mu.Unlock()

	req := frame{Type: frameCollective, Rank: m.rank, Seq: seq, Kind: kind, Op: op, Root: root, Values: values}
	if err := m.conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("send collective %d: %w", seq, err)
	}

	var reply frame
	if err := m.conn.ReadJSON(&reply); err != nil {
		return nil, fmt.Errorf("read collective %d: %w", seq, err)
	}
	if reply.Seq != seq {
		return nil, fmt.Errorf("%w: seq %d, want %d", ErrUnexpectedFrame, reply.Seq, seq)
	}
	switch reply.Type {
	case frameResult:
		if !reply.HasValues {
			return nil, nil
		}
		if reply.Values == nil {
			return []int64{}, nil
		}
		return reply.Values, nil
	case frameError:
		return nil, remoteError(reply.Error)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedFrame, reply.Type)
	}
}

var knownErrors = []error{
	comm.ErrCollectiveMismatch,
	comm.ErrInvalidRoot,
	comm.ErrInvalidOp,
}

func remoteError(msg string) error {
	for _, known := range knownErrors {
		if known.Error() == msg {
			return known
		}
	}
	return errors.New(msg)
}

// Close leaves the group. It may be called while another goroutine is
// blocked in a collective, which then fails.
func (m *Member) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	// WriteControl may run concurrently with a WriteJSON in collective.
	_ = m.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeTimeout))
	return m.conn.Close()
}
