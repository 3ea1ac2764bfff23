package reflection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/slighter12/rojo-bridge-go/logger"
)

// DefaultURL serves the live API dump together with the defaults dump.
const DefaultURL = "https://reflection.rbx-api.xyz/v1/all"

const reloadDebounce = 50 * time.Millisecond

// Decode reads a reflection document.
func Decode(r io.Reader) (*Dump, error) {
	var d Dump
	if err := json.NewDecoder(r).Decode(&d); err != nil {
		return nil, fmt.Errorf("decode reflection dump: %w", err)
	}
	return &d, nil
}

// Fetch downloads the reflection document from url. A nil client uses
// http.DefaultClient; the deadline comes from ctx.
func Fetch(ctx context.Context, client *http.Client, url string) (*Dump, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build reflection request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch reflection dump: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch reflection dump: unexpected status %d", resp.StatusCode)
	}
	return Decode(resp.Body)
}

// LoadFile reads the reflection document stored at path.
func LoadFile(path string) (*Dump, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open reflection file: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Holder publishes the current index. Readers always see a complete index;
// a reload replaces it in one step.
type Holder struct {
	current atomic.Pointer[Index]
}

func NewHolder(idx *Index) *Holder {
	h := &Holder{}
	h.Store(idx)
	return h
}

// Index returns the current index, or an empty one if none was stored.
func (h *Holder) Index() *Index {
	if idx := h.current.Load(); idx != nil {
		return idx
	}
	return emptyIndex
}

func (h *Holder) Store(idx *Index) {
	if idx == nil {
		idx = emptyIndex
	}
	h.current.Store(idx)
}

var emptyIndex = NewIndex(Schema{}, Schema{})

// Reload replaces the current index with the contents of path. On failure the
// previous index stays in place.
func (h *Holder) Reload(path string) error {
	d, err := LoadFile(path)
	if err != nil {
		return err
	}
	idx := FromDump(d)
	h.Store(idx)
	logger.Info("Reflection index reloaded", "path", path, "classes", idx.Len(), "version", string(idx.Version()))
	for _, w := range idx.Warnings() {
		logger.Debug("Reflection entry skipped", "detail", w)
	}
	return nil
}

// Watch reloads the index whenever path is written or replaced. The watch is
// installed before Watch returns; the returned stop func ends it and waits for
// the watcher goroutine. Watch also ends when ctx is done.
func (h *Holder) Watch(ctx context.Context, path string) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create reflection watcher: %w", err)
	}
	// Watch the directory: editors often replace files instead of writing in place.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch reflection file: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer watcher.Close()
		h.watchLoop(ctx, watcher, path)
	}()

	return func() {
		cancel()
		wg.Wait()
	}, nil
}

func (h *Holder) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string) {
	target := filepath.Clean(path)
	var (
		mu       sync.Mutex
		debounce *time.Timer
	)
	defer func() {
		mu.Lock()
		if debounce != nil {
			debounce.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			mu.Lock()
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				if ctx.Err() != nil {
					return
				}
				if err := h.Reload(path); err != nil {
					logger.Warn("Reflection reload failed, keeping previous index", "path", path, "error", err)
				}
			})
			mu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			if !errors.Is(err, fsnotify.ErrEventOverflow) {
				logger.Warn("Reflection watcher error", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
