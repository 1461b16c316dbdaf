package node

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/peerpull/go-peerpull/common/types"
)

// maxEventLine bounds a single encoded availability event.
const maxEventLine = 64 * 1024

// ReadEvents feeds newline delimited JSON availability events from r into the
// node until r is exhausted or ctx is cancelled. Lines that can't be decoded
// or are rejected are logged and skipped.
func (app *App) ReadEvents(ctx context.Context, r io.Reader) error {
	lines := make(chan []byte)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 4096), maxEventLine)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			select {
			case lines <- bytes.Clone(line):
			case <-ctx.Done():
				return
			}
		}
		errc <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-errc:
					if err != nil {
						return fmt.Errorf("read events: %w", err)
					}
				default:
				}
				return nil
			}
			var ev types.AvailabilityEvent
			if err := json.Unmarshal(line, &ev); err != nil {
				app.logger.Warn("skipping malformed availability event", zap.Error(err))
				continue
			}
			if err := app.PeerAvailabilityChanged(ev); err != nil {
				app.logger.Warn("availability event rejected",
					zap.Stringer("connection_type", ev.ConnectionType),
					zap.Bool("available", ev.Available),
					zap.Error(err),
				)
			}
		}
	}
}
