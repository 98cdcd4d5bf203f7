package cli

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
)

// ErrInputCancelled is returned when a prompt is abandoned by its context.
var ErrInputCancelled = errors.New("input canceled")

// LineReader hands trimmed operator input to prompts one line at a time.
// A single goroutine scans the input, so a line typed after a prompt was
// canceled is kept for the next prompt.
type LineReader struct {
	src   io.Reader
	lines chan string
	err   error
	once  sync.Once
}

// NewLineReader creates a reader over src. Nothing is read until the first
// call to ReadLine.
func NewLineReader(src io.Reader) *LineReader {
	return &LineReader{src: src, lines: make(chan string)}
}

func (r *LineReader) scan() {
	go func() {
		scanner := bufio.NewScanner(r.src)
		for scanner.Scan() {
			r.lines <- strings.TrimSpace(scanner.Text())
		}
		r.err = scanner.Err()
		close(r.lines)
	}()
}

// ReadLine waits for the next line. It returns io.EOF once the input is
// exhausted and ErrInputCancelled when ctx ends first.
func (r *LineReader) ReadLine(ctx context.Context) (string, error) {
	if ctx.Err() != nil {
		return "", ErrInputCancelled
	}
	r.once.Do(r.scan)

	select {
	case <-ctx.Done():
		return "", ErrInputCancelled
	case line, ok := <-r.lines:
		if !ok {
			if r.err != nil {
				return "", r.err
			}
			return "", io.EOF
		}
		return line, nil
	}
}
