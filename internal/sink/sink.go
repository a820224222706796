// Package sink holds the frame consumers the capture command can attach to a
// pipeline.
package sink

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/kevmo314/go-v4l2"
)

// Sink consumes frames. Frame data is only valid during Handle.
type Sink interface {
	Handle(f v4l2.Frame) error
	Close() error
}

// Handler adapts a Sink to a capture loop.
func Handler(s Sink) v4l2.FrameHandler {
	return s.Handle
}

// Writer copies every frame's payload to an io.Writer, back to back with no
// framing.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (s *Writer) Handle(f v4l2.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(f.Data); err != nil {
		return fmt.Errorf("write frame %d: %w", f.Sequence, err)
	}
	return nil
}

// Close flushes w if it is buffered. w itself is not closed.
func (s *Writer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.w.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// multi fans every frame out to all of its sinks.
type multi []Sink

// Multi returns a Sink delivering each frame to every s in order. A failing
// sink does not stop delivery to the others; the errors are joined.
func Multi(sinks ...Sink) Sink {
	var m multi
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	return m
}

func (m multi) Handle(f v4l2.Frame) error {
	var errs []error
	for _, s := range m {
		if err := s.Handle(f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every frame.
var Discard Sink = discard{}

type discard struct{}

func (discard) Handle(v4l2.Frame) error { return nil }
func (discard) Close() error            { return nil }
