package tui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// logStore is a bounded in-memory line buffer shared by the debug tab
// and the Writer hook the daemon logger tees into.
type logStore struct {
	mu       sync.Mutex
	lines    []string
	maxLines int
	dirty    bool
}

var store = &logStore{maxLines: 1000}

func (s *logStore) append(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lines = append(s.lines, line)
	if len(s.lines) > s.maxLines {
		s.lines = s.lines[len(s.lines)-s.maxLines:]
	}
	s.dirty = true
}

// snapshot returns the buffered text and line count when the store has
// changed since the last call, or ok=false when it has not.
func (s *logStore) snapshot() (text string, count int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		return "", len(s.lines), false
	}
	s.dirty = false
	return strings.Join(s.lines, "\n"), len(s.lines), true
}

func (s *logStore) clear() {
	s.mu.Lock()
	s.lines = nil
	s.dirty = true
	s.mu.Unlock()
}

// Logf appends a timestamped message to the debug tab.
// Safe to call from any goroutine.
func Logf(format string, args ...interface{}) {
	ts := time.Now().Format("15:04:05.000")
	store.append(fmt.Sprintf("[gray]%s[-] %s", ts, fmt.Sprintf(format, args...)))
}

// LogErrorf appends an error message to the debug tab.
func LogErrorf(format string, args ...interface{}) {
	Logf("[red]ERROR:[-] "+format, args...)
}

// logWriter adapts the store to io.Writer so a console-encoded zap core
// can tee daemon log lines into the debug tab.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line != "" {
			store.append(tview.Escape(line))
		}
	}
	return len(p), nil
}

// LogWriter returns a writer that appends each line written to the
// debug tab's buffer.
func LogWriter() io.Writer {
	return logWriter{}
}

// DebugTab tails the in-memory debug log.
type DebugTab struct {
	app       *App
	flex      *tview.Flex
	logView   *tview.TextView
	statusBar *tview.TextView
}

// NewDebugTab creates the debug tab.
func NewDebugTab(app *App) *DebugTab {
	t := &DebugTab{app: app}
	t.setupUI()
	return t
}

func (t *DebugTab) setupUI() {
	t.logView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	t.logView.SetBorder(true).SetTitle(" Debug Log ")

	t.logView.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Rune() {
		case 'c':
			store.clear()
			t.logView.SetText("")
			return nil
		case 'g':
			t.logView.ScrollToBeginning()
			return nil
		case 'G':
			t.logView.ScrollToEnd()
			return nil
		}
		return event
	})

	t.statusBar = tview.NewTextView().SetDynamicColors(true)

	t.flex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(t.logView, 0, 1, true).
		AddItem(t.statusBar, 1, 0, false)
}

// GetPrimitive returns the tab's root primitive.
func (t *DebugTab) GetPrimitive() tview.Primitive {
	return t.flex
}

// GetFocusable returns the element that should receive focus.
func (t *DebugTab) GetFocusable() tview.Primitive {
	return t.logView
}

// Refresh redraws the log tail. Must run on the UI goroutine.
func (t *DebugTab) Refresh() {
	text, count, changed := store.snapshot()
	if changed {
		t.logView.SetText(text)
		t.logView.ScrollToEnd()
	}
	t.statusBar.SetText(fmt.Sprintf(" %d log lines (max %d)", count, store.maxLines))
}
