package profile

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch starts an fsnotify watcher on the store's metadata index so a
// profile created by another process sharing the same base directory (e.g.
// a one-off CLI invocation against a running daemon's data directory)
// becomes visible here without a restart. Debounce pattern adapted from
// the challenge-selectors hot-reload watcher: coalesce rapid writes before
// reloading. The returned stop func tears the watcher down.
func (s *Store) Watch() (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(s.baseDir); err != nil {
		watcher.Close()
		return nil, err
	}

	stopCh := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		const debounceDelay = 100 * time.Millisecond
		var timer *time.Timer
		var debouncing bool

		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != s.indexPath() {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if debouncing {
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(debounceDelay)
				} else {
					debouncing = true
					timer = time.AfterFunc(debounceDelay, func() {
						s.mu.Lock()
						if err := s.loadIndex(); err != nil {
							s.log.Warn().Err(err).Msg("profile index reload failed, keeping previous index")
						}
						s.mu.Unlock()
						debouncing = false
					})
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.log.Warn().Err(err).Msg("profile index watcher error")
			case <-stopCh:
				if timer != nil {
					timer.Stop()
				}
				return
			}
		}
	}()

	return func() {
		close(stopCh)
		watcher.Close()
		wg.Wait()
	}, nil
}
