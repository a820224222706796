package v4l2

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"syscall"
	"unsafe"
)

// minBuffers is the fewest buffers streaming can run with.
const minBuffers = 2

// BufferPool holds the frame memory exchanged with the driver, organised by
// one of three strategies fixed at setup.
type BufferPool struct {
	sess   *Session
	drv    Driver
	log    *slog.Logger
	format Format
	strat  strategy

	mu       sync.Mutex
	ctrl     *StreamController
	released bool
}

// strategy is implemented by readStrategy, mmapStrategy and
// userPtrStrategy only.
type strategy interface {
	method() IOMethod
	count() int
	region(i int) []byte

	// enqueueAll hands every buffer to the driver and reports how many
	// were accepted.
	enqueueAll(d Driver) (int, error)
	dequeue(d Driver) (dequeued, error)
	requeue(d Driver, dq dequeued) error
	release(d Driver, log *slog.Logger) error
}

// dequeued is a filled buffer on loan from the driver.
type dequeued struct {
	index int
	buf   Buffer
	data  []byte
}

func newBufferPool(s *Session, method IOMethod) (*BufferPool, error) {
	p := &BufferPool{
		sess:   s,
		drv:    s.drv,
		log:    s.log.With("io", method.String()),
		format: s.format,
	}

	var err error
	switch method {
	case IORead:
		p.strat, err = newReadStrategy(s.allocator, s.format.SizeImage)
	case IOMMap:
		p.strat, err = newMMapStrategy(s.drv, s.bufferCount, p.log)
	case IOUserPtr:
		p.strat, err = newUserPtrStrategy(s.drv, s.allocator, s.bufferCount, s.format.SizeImage, p.log)
	default:
		err = newError("new buffer pool", KindConfiguration, fmt.Errorf("%w: %v", ErrUnsupportedMode, method))
	}
	if err != nil {
		return nil, err
	}
	p.log.Debug("buffer pool ready", "buffers", p.strat.count(), "size", s.format.SizeImage)
	return p, nil
}

// Method returns the strategy the pool was set up with.
func (p *BufferPool) Method() IOMethod { return p.strat.method() }

// BufferCount returns the number of buffers actually obtained.
func (p *BufferPool) BufferCount() int { return p.strat.count() }

// Format returns the format the buffers were sized for.
func (p *BufferPool) Format() Format { return p.format }

// Region returns the memory of buffer i. The slice must not be retained
// past Release.
func (p *BufferPool) Region(i int) []byte {
	if i < 0 || i >= p.strat.count() {
		return nil
	}
	return p.strat.region(i)
}

func (p *BufferPool) attach(c *StreamController) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return newError("new stream controller", KindConfiguration, ErrReleased)
	}
	if p.ctrl != nil {
		return newError("new stream controller", KindConfiguration, ErrControllerExists)
	}
	p.ctrl = c
	return nil
}

// Release returns every buffer to its origin. It fails with ErrBuffersBusy
// while the driver may still own buffers, that is while the controller is
// prepared or streaming. A second Release returns ErrReleased.
func (p *BufferPool) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	const op = "release buffers"
	if p.released {
		return newError(op, KindConfiguration, ErrReleased)
	}
	if p.ctrl != nil {
		if st := p.ctrl.State(); st == StateBuffersPrepared || st == StateStreaming {
			return newError(op, KindConfiguration, fmt.Errorf("%w: stream is %s", ErrBuffersBusy, st))
		}
	}

	p.released = true
	err := p.strat.release(p.drv, p.log)
	p.sess.detach(p)
	p.log.Debug("buffer pool released")
	if err != nil {
		return newError(op, KindResource, err)
	}
	return nil
}

// Released reports whether Release has completed.
func (p *BufferPool) Released() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

// teardown stops the controller if needed and releases the pool. Buffers
// stay allocated if the stream cannot be stopped.
func (p *BufferPool) teardown() error {
	p.mu.Lock()
	ctrl := p.ctrl
	p.mu.Unlock()

	if ctrl != nil {
		if err := ctrl.Stop(); err != nil {
			return err
		}
	}
	if err := p.Release(); err != nil && !errors.Is(err, ErrReleased) {
		return err
	}
	return nil
}

// clampedData returns the filled part of region.
func clampedData(region []byte, used uint32) []byte {
	if int(used) > len(region) {
		return region
	}
	return region[:used]
}

type readStrategy struct {
	alloc    Allocator
	buf      []byte
	sequence uint32
}

func newReadStrategy(alloc Allocator, size uint32) (*readStrategy, error) {
	buf, err := alloc.Alloc(int(size))
	if err != nil {
		return nil, newError("allocate read buffer", KindResource, wrapErrno(ErrAllocationFailed, err))
	}
	return &readStrategy{alloc: alloc, buf: buf}, nil
}

func (r *readStrategy) method() IOMethod               { return IORead }
func (r *readStrategy) count() int                     { return 1 }
func (r *readStrategy) region(int) []byte              { return r.buf }
func (r *readStrategy) enqueueAll(Driver) (int, error) { return 0, nil }
func (r *readStrategy) requeue(Driver, dequeued) error { return nil }

func (r *readStrategy) dequeue(d Driver) (dequeued, error) {
	n, err := d.Read(r.buf)
	if err != nil {
		return dequeued{}, err
	}
	if n < 0 {
		n = 0
	}
	seq := r.sequence
	r.sequence++
	return dequeued{
		buf:  Buffer{BytesUsed: uint32(n), Length: uint32(len(r.buf)), Sequence: seq},
		data: r.buf[:n],
	}, nil
}

func (r *readStrategy) release(Driver, *slog.Logger) error {
	err := r.alloc.Free(r.buf)
	r.buf = nil
	return err
}

// mappedRegion is kernel buffer memory mapped into the process. It is
// unmapped at most once.
type mappedRegion struct {
	data     []byte
	unmapped bool
}

func (m *mappedRegion) unmap(d Driver) error {
	if m.unmapped {
		return nil
	}
	m.unmapped = true
	err := d.Unmap(m.data)
	m.data = nil
	return err
}

type mmapStrategy struct {
	bufs    []Buffer
	regions []*mappedRegion
}

func newMMapStrategy(d Driver, want uint32, log *slog.Logger) (*mmapStrategy, error) {
	const op = "request mmap buffers"
	granted, err := d.RequestBuffers(want, MemoryMMap)
	if err != nil {
		if errors.Is(err, syscall.EINVAL) {
			return nil, newError(op, KindConfiguration, wrapErrno(ErrUnsupportedMode, err))
		}
		return nil, newError(op, KindResource, wrapErrno(ErrAllocationFailed, err))
	}
	if granted < minBuffers {
		if _, err := d.RequestBuffers(0, MemoryMMap); err != nil {
			log.Debug("free kernel buffers", "error", err)
		}
		return nil, newError(op, KindResource, fmt.Errorf("%w: got %d, need %d", ErrInsufficientBuffers, granted, minBuffers))
	}
	if granted != want {
		log.Debug("driver adjusted buffer count", "requested", want, "granted", granted)
	}

	m := &mmapStrategy{}
	for i := uint32(0); i < granted; i++ {
		b, err := d.QueryBuffer(i, MemoryMMap)
		if err == nil {
			var data []byte
			data, err = d.Map(b.Offset, b.Length)
			if err == nil {
				m.bufs = append(m.bufs, b)
				m.regions = append(m.regions, &mappedRegion{data: data})
				continue
			}
		}
		cleanup := m.release(d, log)
		return nil, newError("map buffer", KindResource, errors.Join(wrapErrno(ErrMapFailed, err), cleanup))
	}
	return m, nil
}

func (m *mmapStrategy) method() IOMethod    { return IOMMap }
func (m *mmapStrategy) count() int          { return len(m.regions) }
func (m *mmapStrategy) region(i int) []byte { return m.regions[i].data }

func (m *mmapStrategy) enqueueAll(d Driver) (int, error) {
	for i, b := range m.bufs {
		if err := d.Queue(Buffer{Index: b.Index, Memory: MemoryMMap, Offset: b.Offset, Length: b.Length}); err != nil {
			return i, err
		}
	}
	return len(m.bufs), nil
}

func (m *mmapStrategy) dequeue(d Driver) (dequeued, error) {
	b, err := d.Dequeue(MemoryMMap)
	if err != nil {
		return dequeued{}, err
	}
	if int(b.Index) >= len(m.regions) {
		return dequeued{}, newError("dequeue", KindProtocol,
			fmt.Errorf("%w: index %d of %d", ErrUnknownBuffer, b.Index, len(m.regions)))
	}
	return dequeued{
		index: int(b.Index),
		buf:   b,
		data:  clampedData(m.regions[b.Index].data, b.BytesUsed),
	}, nil
}

func (m *mmapStrategy) requeue(d Driver, dq dequeued) error {
	b := m.bufs[dq.index]
	return d.Queue(Buffer{Index: b.Index, Memory: MemoryMMap, Offset: b.Offset, Length: b.Length})
}

func (m *mmapStrategy) release(d Driver, log *slog.Logger) error {
	var errs []error
	for i, r := range m.regions {
		if err := r.unmap(d); err != nil {
			errs = append(errs, fmt.Errorf("unmap buffer %d: %w", i, err))
		}
	}
	if _, err := d.RequestBuffers(0, MemoryMMap); err != nil {
		log.Debug("free kernel buffers", "error", err)
	}
	return errors.Join(errs...)
}

type userPtrStrategy struct {
	alloc   Allocator
	regions [][]byte
}

func regionAddr(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}

func newUserPtrStrategy(d Driver, alloc Allocator, want, size uint32, log *slog.Logger) (*userPtrStrategy, error) {
	const op = "request user pointer buffers"
	if _, err := d.RequestBuffers(want, MemoryUserPtr); err != nil {
		if errors.Is(err, syscall.EINVAL) {
			return nil, newError(op, KindConfiguration, wrapErrno(ErrUnsupportedMode, err))
		}
		return nil, newError(op, KindResource, wrapErrno(ErrAllocationFailed, err))
	}

	u := &userPtrStrategy{alloc: alloc}
	for i := uint32(0); i < want; i++ {
		region, err := alloc.Alloc(int(size))
		if err != nil {
			cleanup := u.release(d, log)
			return nil, newError("allocate buffer", KindResource, errors.Join(wrapErrno(ErrAllocationFailed, err), cleanup))
		}
		u.regions = append(u.regions, region)
	}
	return u, nil
}

func (u *userPtrStrategy) method() IOMethod    { return IOUserPtr }
func (u *userPtrStrategy) count() int          { return len(u.regions) }
func (u *userPtrStrategy) region(i int) []byte { return u.regions[i] }

func (u *userPtrStrategy) buffer(i int) Buffer {
	return Buffer{
		Index:   uint32(i),
		Memory:  MemoryUserPtr,
		UserPtr: regionAddr(u.regions[i]),
		Length:  uint32(len(u.regions[i])),
	}
}

func (u *userPtrStrategy) enqueueAll(d Driver) (int, error) {
	for i := range u.regions {
		if err := d.Queue(u.buffer(i)); err != nil {
			return i, err
		}
	}
	return len(u.regions), nil
}

// dequeue identifies the returned buffer by its exact address and length.
func (u *userPtrStrategy) dequeue(d Driver) (dequeued, error) {
	b, err := d.Dequeue(MemoryUserPtr)
	if err != nil {
		return dequeued{}, err
	}
	for i, r := range u.regions {
		if regionAddr(r) == b.UserPtr && uint32(len(r)) == b.Length {
			return dequeued{index: i, buf: b, data: clampedData(r, b.BytesUsed)}, nil
		}
	}
	return dequeued{}, newError("dequeue", KindProtocol,
		fmt.Errorf("%w: ptr %#x len %d", ErrUnknownBuffer, b.UserPtr, b.Length))
}

func (u *userPtrStrategy) requeue(d Driver, dq dequeued) error {
	return d.Queue(u.buffer(dq.index))
}

func (u *userPtrStrategy) release(d Driver, log *slog.Logger) error {
	var errs []error
	for i, r := range u.regions {
		if err := u.alloc.Free(r); err != nil {
			errs = append(errs, fmt.Errorf("free buffer %d: %w", i, err))
		}
	}
	u.regions = nil
	if _, err := d.RequestBuffers(0, MemoryUserPtr); err != nil {
		log.Debug("free kernel buffers", "error", err)
	}
	return errors.Join(errs...)
}
