package fileutils

import (
	"context"
	"time"
)

// WatchFile polls a file every interval and emits an event when its
// contents change. The returned channel is closed when ctx is done.
func WatchFile(ctx context.Context, path string, interval time.Duration, onErr func(err error)) (<-chan struct{}, error) {
	ch := make(chan struct{})

	lastHash, err := ComputeFileHash(path)
	if err != nil {
		return nil, err
	}

	go func() {
		defer close(ch)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				newHash, err := ComputeFileHash(path)
				if err != nil {
					onErr(err)
					continue
				}
				if lastHash == newHash {
					continue
				}
				lastHash = newHash
				select {
				case ch <- struct{}{}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return ch, nil
}
