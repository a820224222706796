package sink

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"sync"
	"time"

	"github.com/kevmo314/go-v4l2"
	"github.com/pion/rtp"
)

const (
	rtpHeaderLen = 12
	// VideoClockRate is the RTP timestamp rate for video payloads.
	VideoClockRate = 90000
)

// RTPOptions configures an RTP sink.
type RTPOptions struct {
	PayloadType uint8
	// MTU bounds each datagram, RTP header included.
	MTU  int
	SSRC uint32 // zero picks a random one
}

// RTP sends every frame as a run of RTP packets sharing one timestamp, the
// last one carrying the marker bit. Payloads are sent as captured, without
// any codec specific packetization.
type RTP struct {
	mu    sync.Mutex
	conn  net.Conn
	opts  RTPOptions
	seq   rtp.Sequencer
	epoch time.Time
	owned bool
}

// DialRTP opens a UDP socket to addr.
func DialRTP(addr string, opts RTPOptions) (*RTP, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial rtp %s: %w", addr, err)
	}
	s, err := NewRTP(conn, opts)
	if err != nil {
		conn.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewRTP sends packets on conn. conn is not closed by Close.
func NewRTP(conn net.Conn, opts RTPOptions) (*RTP, error) {
	if opts.MTU <= rtpHeaderLen {
		return nil, fmt.Errorf("rtp mtu %d leaves no room for payload", opts.MTU)
	}
	if opts.SSRC == 0 {
		var b [4]byte
		if _, err := rand.Read(b[:]); err != nil {
			return nil, fmt.Errorf("rtp ssrc: %w", err)
		}
		opts.SSRC = binary.BigEndian.Uint32(b[:])
	}
	return &RTP{
		conn: conn,
		opts: opts,
		seq:  rtp.NewRandomSequencer(),
	}, nil
}

// SSRC returns the synchronization source of the stream.
func (s *RTP) SSRC() uint32 { return s.opts.SSRC }

// timestamp maps the frame's capture time onto the 90 kHz clock, counted
// from the first frame.
func (s *RTP) timestamp(f v4l2.Frame) uint32 {
	t := f.Timestamp
	if t.IsZero() {
		t = time.Now()
	}
	if s.epoch.IsZero() {
		s.epoch = t
	}
	d := t.Sub(s.epoch)
	if d < 0 {
		d = 0
	}
	return uint32(uint64(math.Round(d.Seconds() * VideoClockRate)))
}

func (s *RTP) Handle(f v4l2.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return net.ErrClosed
	}

	ts := s.timestamp(f)
	chunk := s.opts.MTU - rtpHeaderLen
	data := f.Data
	for first := true; first || len(data) > 0; first = false {
		n := min(chunk, len(data))
		pkt := rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         n == len(data),
				PayloadType:    s.opts.PayloadType,
				SequenceNumber: s.seq.NextSequenceNumber(),
				Timestamp:      ts,
				SSRC:           s.opts.SSRC,
			},
			Payload: data[:n],
		}
		raw, err := pkt.Marshal()
		if err != nil {
			return fmt.Errorf("rtp marshal: %w", err)
		}
		if _, err := s.conn.Write(raw); err != nil {
			return fmt.Errorf("rtp send frame %d: %w", f.Sequence, err)
		}
		data = data[n:]
	}
	return nil
}

func (s *RTP) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn := s.conn
	s.conn = nil
	if !s.owned || conn == nil {
		return nil
	}
	return conn.Close()
}
