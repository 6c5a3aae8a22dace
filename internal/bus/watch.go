package bus

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watch tails the inbox, delivering each newly published message on the
// returned channel until ctx is cancelled. Partial writes are invisible to
// watchers because Publish renames a hidden temp file into place; only the
// rename produces a Create event for a visible .json name.
func (b *Bus) Watch(ctx context.Context) (<-chan Message, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(b.dir); err != nil {
		fsw.Close()
		return nil, err
	}

	out := make(chan Message, 16)
	go func() {
		defer fsw.Close()
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				name := filepath.Base(ev.Name)
				if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
					continue
				}
				msg, err := b.readMessage(name)
				if err != nil {
					b.logger.Warn("malformed notification ignored", "file", name, "error", err)
					continue
				}
				select {
				case out <- msg:
				default:
					// Slow consumer; drop rather than block the watcher.
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				b.logger.Error("inbox watcher error", "error", err)
			}
		}
	}()
	return out, nil
}
