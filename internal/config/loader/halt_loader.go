package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"backsim/internal/engine"
	"backsim/internal/logger"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// haltFile 是停牌日历文件的原始结构。日期写成 2006-01-02，
// 区间按自然日闭区间理解。
type haltFile struct {
	Halts          map[string][]haltEntry `yaml:"halts"`
	SpecialSymbols []string               `yaml:"special_symbols"`
}

type haltEntry struct {
	Start  string `yaml:"start"`
	End    string `yaml:"end"`
	Reason string `yaml:"reason"`
}

// HaltSnapshot 是一次加载的完整结果。
type HaltSnapshot struct {
	Version        int
	LoadedAt       time.Time
	Windows        map[string][]engine.HaltWindow
	SpecialSymbols map[string]bool
}

// ChangeListener 在日历变更时被调用。
type ChangeListener func(HaltSnapshot)

// HaltLoader 从 YAML 文件加载停牌日历与特别处理名单，并监听热更新。
type HaltLoader struct {
	path    string
	watcher *fsnotify.Watcher

	mu        sync.RWMutex
	snapshot  HaltSnapshot
	listeners []ChangeListener
}

// NewHaltLoader 读取日历文件并开始监听 FS 事件。
func NewHaltLoader(path string) (*HaltLoader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("halt loader requires path")
	}
	l := &HaltLoader{path: path}
	if err := l.reload(); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("halt watcher failed: %w", err)
	}
	// 监听目录而不是文件：编辑器保存常见的 rename+create 会让文件级
	// watch 失效。
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("halt watcher add failed: %w", err)
	}
	l.watcher = watcher
	go l.watchLoop()
	return l, nil
}

// Snapshot 返回当前日历快照（深拷贝）。
func (l *HaltLoader) Snapshot() HaltSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneSnapshot(l.snapshot)
}

// Subscribe 注册监听器，并立即收到一次完整快照。
func (l *HaltLoader) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	snap := cloneSnapshot(l.snapshot)
	l.mu.Unlock()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("halt listener panic: %v", r)
			}
		}()
		fn(snap)
	}()
}

// Close 停止监听。
func (l *HaltLoader) Close() error {
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}

func (l *HaltLoader) watchLoop() {
	base := filepath.Base(l.path)
	for {
		select {
		case evt, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(evt.Name) != base {
				continue
			}
			if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) && !evt.Has(fsnotify.Rename) {
				continue
			}
			if err := l.reload(); err != nil {
				logger.Errorf("停牌日历重载失败 (%s): %v", evt.Name, err)
				continue
			}
			l.notify()
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("停牌日历监听错误: %v", err)
		}
	}
}

func (l *HaltLoader) notify() {
	l.mu.RLock()
	snap := cloneSnapshot(l.snapshot)
	listeners := append([]ChangeListener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		if fn == nil {
			continue
		}
		go func(cb ChangeListener) {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("halt listener panic: %v", r)
				}
			}()
			cb(snap)
		}(fn)
	}
}

func (l *HaltLoader) reload() error {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("read halt calendar failed: %w", err)
	}
	var file haltFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse halt calendar failed: %w", err)
	}
	windows := make(map[string][]engine.HaltWindow, len(file.Halts))
	for symbol, entries := range file.Halts {
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		if symbol == "" {
			continue
		}
		for _, entry := range entries {
			w, err := entry.toWindow()
			if err != nil {
				return fmt.Errorf("halt calendar %s: %w", symbol, err)
			}
			windows[symbol] = append(windows[symbol], w)
		}
	}
	special := make(map[string]bool, len(file.SpecialSymbols))
	for _, sym := range file.SpecialSymbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym != "" {
			special[sym] = true
		}
	}
	l.mu.Lock()
	l.snapshot = HaltSnapshot{
		Version:        l.snapshot.Version + 1,
		LoadedAt:       time.Now(),
		Windows:        windows,
		SpecialSymbols: special,
	}
	l.mu.Unlock()
	logger.Infof("停牌日历已加载：%d 个标的，%d 个特别处理标的（%s）",
		len(windows), len(special), filepath.Base(l.path))
	return nil
}

func (e haltEntry) toWindow() (engine.HaltWindow, error) {
	start, err := parseCalendarTime(e.Start)
	if err != nil {
		return engine.HaltWindow{}, fmt.Errorf("bad start %q: %w", e.Start, err)
	}
	end, endDateOnly, err := parseCalendarEnd(e.End)
	if err != nil {
		return engine.HaltWindow{}, fmt.Errorf("bad end %q: %w", e.End, err)
	}
	if endDateOnly {
		// 纯日期按全天停牌处理
		end = end.Add(24*time.Hour - time.Millisecond)
	}
	if end.Before(start) {
		return engine.HaltWindow{}, fmt.Errorf("end before start: %s .. %s", e.Start, e.End)
	}
	return engine.HaltWindow{Start: start, End: end}, nil
}

func parseCalendarTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported time format")
}

func parseCalendarEnd(s string) (time.Time, bool, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), true, nil
	}
	t, err := parseCalendarTime(s)
	return t, false, err
}

func cloneSnapshot(src HaltSnapshot) HaltSnapshot {
	out := HaltSnapshot{
		Version:        src.Version,
		LoadedAt:       src.LoadedAt,
		Windows:        make(map[string][]engine.HaltWindow, len(src.Windows)),
		SpecialSymbols: make(map[string]bool, len(src.SpecialSymbols)),
	}
	for symbol, windows := range src.Windows {
		out.Windows[symbol] = append([]engine.HaltWindow(nil), windows...)
	}
	for symbol := range src.SpecialSymbols {
		out.SpecialSymbols[symbol] = true
	}
	return out
}
