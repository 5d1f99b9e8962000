package icmpsock

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/draymonix/pathlens/internal/icmpwire"
)

// ErrDemuxClosed is returned by Await when the Demux's receive loop has been
// stopped while a caller was still waiting on a reply.
var ErrDemuxClosed = errors.New("icmpsock: demux closed")

// recvPollInterval bounds how long a single Recv call blocks before the
// demux loop rechecks whether it's been asked to shut down, keeping
// shutdown latency within the package's wake-up target.
const recvPollInterval = 100 * time.Millisecond

// Delivery pairs a parsed reply with the address it arrived from.
// icmpwire.Reply carries no peer field -- only Socket.Recv knows the
// sender's address -- so Demux attaches it here.
type Delivery struct {
	Reply icmpwire.Reply
	Peer  net.IP
}

// Demux runs a single receive loop over a shared Socket and routes each
// parsed reply to whichever caller is waiting on its echoed sequence
// number. Without it, concurrent probes calling Recv directly on the same
// socket race for datagrams and can steal replies meant for each other.
type Demux struct {
	sock Socket
	id   uint16

	mu      sync.Mutex
	waiters map[uint16]chan Delivery

	closeOnce sync.Once
	done      chan struct{}
}

// NewDemux starts a Demux's background receive loop for the ICMP
// identifier id; replies carrying a different EchoID are ignored, since
// they belong to some other flow sharing the same host. Close stops the
// loop.
func NewDemux(sock Socket, id uint16) *Demux {
	d := &Demux{
		sock:    sock,
		id:      id,
		waiters: make(map[uint16]chan Delivery),
		done:    make(chan struct{}),
	}
	go d.loop()
	return d
}

// Await blocks until a reply for seq arrives, ctx is cancelled, deadline
// passes, or the Demux is closed.
func (d *Demux) Await(ctx context.Context, seq uint16, deadline time.Time) (Delivery, error) {
	ch := make(chan Delivery, 1)

	d.mu.Lock()
	d.waiters[seq] = ch
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		delete(d.waiters, seq)
		d.mu.Unlock()
	}()

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case delivery := <-ch:
		return delivery, nil
	case <-timer.C:
		return Delivery{}, context.DeadlineExceeded
	case <-ctx.Done():
		return Delivery{}, ctx.Err()
	case <-d.done:
		return Delivery{}, ErrDemuxClosed
	}
}

// Close stops the receive loop. Any Await calls still pending return
// ErrDemuxClosed.
func (d *Demux) Close() {
	d.closeOnce.Do(func() { close(d.done) })
}

func (d *Demux) loop() {
	buf := make([]byte, 1500)
	for {
		select {
		case <-d.done:
			return
		default:
		}

		n, peer, err := d.sock.Recv(buf, time.Now().Add(recvPollInterval))
		if err != nil {
			// Either the poll interval lapsed with nothing to read, or a
			// transient read error -- either way, loop back around and
			// recheck for shutdown.
			continue
		}

		reply, err := icmpwire.Parse(buf[:n])
		if err != nil {
			continue
		}
		if reply.EchoID != d.id {
			continue
		}

		d.mu.Lock()
		ch, ok := d.waiters[reply.EchoSeq]
		if ok {
			delete(d.waiters, reply.EchoSeq)
		}
		d.mu.Unlock()

		if ok {
			ch <- Delivery{Reply: reply, Peer: peer}
		}
	}
}
