package v4l2

import (
	"context"
	"fmt"
	"syscall"
	"time"
)

// waitStep scripts one Wait call. The zero value reports ready.
type waitStep struct {
	timeout bool
	err     error
}

// dqStep scripts one Dequeue or Read call. The zero value delivers the
// oldest queued buffer completely filled.
type dqStep struct {
	err    error
	used   uint32
	mutate func(*Buffer)
}

// mockDriver is a scriptable in-memory Driver. It records every call in
// calls so tests can assert ordering.
type mockDriver struct {
	caps    Capability
	capsErr error

	format    Format
	getFmtErr error
	setFmtErr error
	adjust    func(Format) Format

	cropCap    CropCapability
	cropCapErr error
	setCropErr error
	crop       *Rect

	formats    []FormatDescription
	sizes      []FrameSize
	intervals  []FrameInterval
	enumErr    error
	enumErrIdx int

	reqbufsErr  error
	grant       uint32
	grantSet    bool
	reqbufsSeen []uint32
	queryErrIdx int
	mapErrIdx   int
	unmapErr    error
	maps        int
	unmaps      int

	queued       []Buffer
	queueCalls   int
	queueErrAt   int
	queueErr     error
	dqScript     []dqStep
	waitScript   []waitStep
	streamOnErr  error
	streamOffErr error
	streaming    bool

	closeErr error
	closed   int

	calls []string
}

func newMockDriver() *mockDriver {
	return &mockDriver{
		caps: Capability{
			Driver:       "mock",
			Card:         "Mock Camera",
			BusInfo:      "platform:mock",
			Version:      0x00060800,
			Capabilities: CapVideoCapture | CapStreaming | CapReadWrite,
		},
		format: Format{
			Width:        640,
			Height:       480,
			PixelFormat:  PixelFmtYUYV,
			Field:        FieldNone,
			BytesPerLine: 1280,
			SizeImage:    614400,
		},
		queryErrIdx: -1,
		mapErrIdx:   -1,
		enumErrIdx:  -1,
	}
}

func (m *mockDriver) record(format string, args ...any) {
	m.calls = append(m.calls, fmt.Sprintf(format, args...))
}

func (m *mockDriver) QueryCapability() (Capability, error) {
	m.record("querycap")
	return m.caps, m.capsErr
}

func (m *mockDriver) GetFormat() (Format, error) {
	m.record("g_fmt")
	if m.getFmtErr != nil {
		return Format{}, m.getFmtErr
	}
	return m.format, nil
}

func (m *mockDriver) SetFormat(f Format) (Format, error) {
	m.record("s_fmt")
	if m.setFmtErr != nil {
		return Format{}, m.setFmtErr
	}
	if m.adjust != nil {
		f = m.adjust(f)
	}
	m.format = f
	return f, nil
}

func (m *mockDriver) CropCapability() (CropCapability, error) {
	m.record("cropcap")
	return m.cropCap, m.cropCapErr
}

func (m *mockDriver) SetCrop(r Rect) error {
	m.record("s_crop")
	if m.setCropErr != nil {
		return m.setCropErr
	}
	m.crop = &r
	return nil
}

func enumAt[T any](items []T, index uint32, errIdx int, err error) (T, error) {
	var zero T
	if errIdx >= 0 && int(index) == errIdx {
		return zero, err
	}
	if int(index) >= len(items) {
		return zero, syscall.EINVAL
	}
	return items[index], nil
}

func (m *mockDriver) EnumFormat(index uint32) (FormatDescription, error) {
	return enumAt(m.formats, index, m.enumErrIdx, m.enumErr)
}

func (m *mockDriver) EnumFrameSize(pf FourCC, index uint32) (FrameSize, error) {
	return enumAt(m.sizes, index, m.enumErrIdx, m.enumErr)
}

func (m *mockDriver) EnumFrameInterval(pf FourCC, width, height, index uint32) (FrameInterval, error) {
	return enumAt(m.intervals, index, m.enumErrIdx, m.enumErr)
}

func (m *mockDriver) RequestBuffers(count uint32, mem Memory) (uint32, error) {
	m.record("reqbufs %d", count)
	m.reqbufsSeen = append(m.reqbufsSeen, count)
	if count == 0 {
		m.queued = nil
		return 0, nil
	}
	if m.reqbufsErr != nil {
		return 0, m.reqbufsErr
	}
	if m.grantSet {
		return m.grant, nil
	}
	return count, nil
}

func (m *mockDriver) QueryBuffer(index uint32, mem Memory) (Buffer, error) {
	m.record("querybuf %d", index)
	if int(index) == m.queryErrIdx {
		return Buffer{}, syscall.EINVAL
	}
	return Buffer{
		Index:  index,
		Memory: mem,
		Length: m.format.SizeImage,
		Offset: index * 0x100000,
	}, nil
}

func (m *mockDriver) Map(offset, length uint32) ([]byte, error) {
	if m.maps == m.mapErrIdx {
		return nil, syscall.ENOMEM
	}
	m.maps++
	return make([]byte, length), nil
}

func (m *mockDriver) Unmap(region []byte) error {
	m.unmaps++
	return m.unmapErr
}

func (m *mockDriver) Queue(b Buffer) error {
	m.queueCalls++
	m.record("qbuf %d", b.Index)
	if m.queueErrAt > 0 && m.queueCalls == m.queueErrAt {
		return m.queueErr
	}
	m.queued = append(m.queued, b)
	return nil
}

func (m *mockDriver) nextStep() dqStep {
	if len(m.dqScript) == 0 {
		return dqStep{}
	}
	step := m.dqScript[0]
	m.dqScript = m.dqScript[1:]
	return step
}

func (m *mockDriver) Dequeue(mem Memory) (Buffer, error) {
	step := m.nextStep()
	if step.err != nil {
		return Buffer{}, step.err
	}
	if len(m.queued) == 0 {
		return Buffer{}, syscall.EAGAIN
	}
	b := m.queued[0]
	m.queued = m.queued[1:]
	b.BytesUsed = b.Length
	if step.used != 0 {
		b.BytesUsed = step.used
	}
	b.Timestamp = time.Unix(1700000000, 0)
	if step.mutate != nil {
		step.mutate(&b)
	}
	m.record("dqbuf %d", b.Index)
	return b, nil
}

func (m *mockDriver) StreamOn() error {
	m.record("streamon")
	if m.streamOnErr != nil {
		return m.streamOnErr
	}
	m.streaming = true
	return nil
}

func (m *mockDriver) StreamOff() error {
	m.record("streamoff")
	if m.streamOffErr != nil {
		return m.streamOffErr
	}
	m.streaming = false
	m.queued = nil
	return nil
}

func (m *mockDriver) Read(p []byte) (int, error) {
	step := m.nextStep()
	if step.err != nil {
		return 0, step.err
	}
	n := len(p)
	if step.used != 0 && int(step.used) < n {
		n = int(step.used)
	}
	for i := range p[:n] {
		p[i] = byte(i)
	}
	m.record("read %d", n)
	return n, nil
}

func (m *mockDriver) Wait(ctx context.Context, timeout time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if len(m.waitScript) == 0 {
		return true, nil
	}
	step := m.waitScript[0]
	m.waitScript = m.waitScript[1:]
	if step.err != nil {
		return false, step.err
	}
	return !step.timeout, nil
}

func (m *mockDriver) Close() error {
	m.record("close")
	m.closed++
	return m.closeErr
}

// countingAllocator tracks outstanding allocations.
type countingAllocator struct {
	failAt int
	allocs int
	frees  int
}

func (a *countingAllocator) Alloc(size int) ([]byte, error) {
	if a.failAt > 0 && a.allocs+1 == a.failAt {
		return nil, syscall.ENOMEM
	}
	a.allocs++
	return make([]byte, size), nil
}

func (a *countingAllocator) Free([]byte) error {
	a.frees++
	return nil
}

// streamingSession returns a session over drv that is streaming with
// method, ready for a capture loop.
func streamingSession(drv *mockDriver, method IOMethod, opts ...Option) (*Session, *StreamController, error) {
	s := NewSession(drv, opts...)
	if _, err := s.NegotiateFormat(nil); err != nil {
		return nil, nil, err
	}
	pool, err := s.NewBufferPool(method)
	if err != nil {
		return nil, nil, err
	}
	ctrl, err := NewStreamController(pool)
	if err != nil {
		return nil, nil, err
	}
	if err := ctrl.Prepare(); err != nil {
		return nil, nil, err
	}
	if err := ctrl.Start(); err != nil {
		return nil, nil, err
	}
	return s, ctrl, nil
}
