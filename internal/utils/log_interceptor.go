// Package utils provides small helpers shared by the cardsync commands.
package utils

import (
	"bytes"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// LogInterceptor prefixes every complete line written to it with a sequence
// number and a timestamp before passing it on to target. Partial lines are
// held back until their newline arrives or Close is called.
type LogInterceptor struct {
	target  io.Writer
	seq     atomic.Uint64
	mu      sync.Mutex
	pending bytes.Buffer
}

func NewLogInterceptor(target io.Writer) *LogInterceptor {
	return &LogInterceptor{target: target}
}

func (i *LogInterceptor) writeLine(line []byte) error {
	prefix := slog.Uint64("line", i.seq.Add(1)).String() + " " +
		slog.String("time", time.Now().Format(time.RFC3339)).String() + " "
	if _, err := io.WriteString(i.target, prefix); err != nil {
		return err
	}
	_, err := i.target.Write(line)
	return err
}

// Write reports len(p) on success so slog handlers do not treat the prefix as a short write.
func (i *LogInterceptor) Write(p []byte) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.pending.Write(p)
	for {
		idx := bytes.IndexByte(i.pending.Bytes(), '\n')
		if idx < 0 {
			break
		}
		line := i.pending.Next(idx + 1)
		if err := i.writeLine(line); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// Close flushes a trailing partial line, if any.
func (i *LogInterceptor) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.pending.Len() == 0 {
		return nil
	}
	line := append(i.pending.Bytes(), '\n')
	i.pending.Reset()
	return i.writeLine(line)
}
