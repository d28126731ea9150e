package sites

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "signbot/pkg/logx"
)

// Watch reloads the registry whenever its file changes, until ctx is done.
func (r *Registry) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(r.path)); err != nil {
		return err
	}
	base := filepath.Base(r.path)

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(300*time.Millisecond, func() {
				if err := r.Reload(); err != nil {
					r.log.Warn("site registry reload failed", logx.Err(err))
				}
			})
			mu.Unlock()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.log.Warn("site registry watch error", logx.Err(err))
		}
	}
}
