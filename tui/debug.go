package tui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"simlink/logging"
)

// DebugTab displays log messages from the engine and sinks.
type DebugTab struct {
	app        *App
	flex       *tview.Flex
	logView    *tview.TextView
	statusBar  *tview.TextView
	buttonBar  *tview.TextView
	messages   []string
	mu         sync.Mutex
	maxLines   int
	fileLogger *logging.FileLogger
}

// Global debug logger instance
var (
	debugLogger   *DebugTab
	debugLoggerMu sync.RWMutex
)

// NewDebugTab creates a new debug tab.
func NewDebugTab(app *App) *DebugTab {
	t := &DebugTab{
		app:      app,
		maxLines: 1000,
		messages: make([]string, 0),
	}
	t.setupUI()

	debugLoggerMu.Lock()
	debugLogger = t
	debugLoggerMu.Unlock()
	return t
}

func (t *DebugTab) setupUI() {
	t.buttonBar = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	t.updateButtonBar()

	t.logView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetTextColor(CurrentTheme.Text)
	t.logView.SetBorder(true).SetTitle(" Debug Log ").SetBorderColor(CurrentTheme.Border).SetTitleColor(CurrentTheme.Accent)

	t.logView.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Rune() {
		case 'c':
			t.Clear()
			return nil
		case 'G':
			t.logView.ScrollToEnd()
			return nil
		case 'g':
			t.logView.ScrollToBeginning()
			return nil
		}
		return event
	})

	t.statusBar = tview.NewTextView().
		SetDynamicColors(true).
		SetTextColor(CurrentTheme.Text)
	t.updateStatusBar()

	t.flex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(t.buttonBar, 1, 0, false).
		AddItem(t.logView, 0, 1, true).
		AddItem(t.statusBar, 1, 0, false)
}

// Log adds a message to the debug log.
// This is safe to call from any goroutine.
// Uses TryLock to avoid blocking - messages may be dropped if contended.
func (t *DebugTab) Log(format string, args ...interface{}) {
	formattedMsg := fmt.Sprintf(format, args...)

	// File output is written even when the buffer lock is contended
	if t.fileLogger != nil {
		t.fileLogger.Log("%s", stripColorTags(formattedMsg))
	}

	if !t.mu.TryLock() {
		return
	}
	defer t.mu.Unlock()

	timestamp := time.Now().Format("15:04:05.000")
	msg := fmt.Sprintf("%s%s%s %s", CurrentTheme.TagTextDim, timestamp, CurrentTheme.TagReset, formattedMsg)
	t.messages = append(t.messages, msg)

	if len(t.messages) > t.maxLines {
		t.messages = t.messages[len(t.messages)-t.maxLines:]
	}
}

// SetFileLogger sets a file logger for writing debug messages to disk.
// Messages are written to the file in addition to the debug buffer.
func (t *DebugTab) SetFileLogger(logger *logging.FileLogger) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fileLogger = logger
}

// stripColorTags removes tview color tags like [red], [green], [-], etc.
func stripColorTags(s string) string {
	result := make([]byte, 0, len(s))
	inTag := false
	for i := 0; i < len(s); i++ {
		if s[i] == '[' {
			inTag = true
			continue
		}
		if s[i] == ']' && inTag {
			inTag = false
			continue
		}
		if !inTag {
			result = append(result, s[i])
		}
	}
	return string(result)
}

// LogError adds an error message to the debug log.
func (t *DebugTab) LogError(format string, args ...interface{}) {
	th := CurrentTheme
	t.Log(th.TagError+"ERROR:"+th.TagReset+" "+format, args...)
}

// LogProvider adds a sampling loop message to the debug log.
func (t *DebugTab) LogProvider(format string, args ...interface{}) {
	th := CurrentTheme
	t.Log(th.TagPrimary+"PROVIDER:"+th.TagReset+" "+format, args...)
}

func (t *DebugTab) buildText() string {
	var b strings.Builder
	for _, msg := range t.messages {
		b.WriteString(msg)
		b.WriteByte('\n')
	}
	return b.String()
}

// Clear clears the debug log.
func (t *DebugTab) Clear() {
	t.mu.Lock()
	t.messages = make([]string, 0)
	t.logView.SetText("")
	t.mu.Unlock()
	t.updateStatusBar()
}

// GetPrimitive returns the main primitive for this tab.
func (t *DebugTab) GetPrimitive() tview.Primitive {
	return t.flex
}

// GetFocusable returns the element that should receive focus.
func (t *DebugTab) GetFocusable() tview.Primitive {
	return t.logView
}

// Refresh updates the debug tab.
// Must be called from QueueUpdateDraw or main goroutine.
func (t *DebugTab) Refresh() {
	if !t.mu.TryLock() {
		return
	}
	text := t.buildText()
	msgCount := len(t.messages)
	t.mu.Unlock()

	if msgCount > 0 {
		t.logView.SetText(text)
		t.logView.ScrollToEnd()
	}
	t.statusBar.SetText(fmt.Sprintf(" %d log lines (max %d)", msgCount, t.maxLines))
}

func currentDebugLogger() *DebugTab {
	debugLoggerMu.RLock()
	defer debugLoggerMu.RUnlock()
	return debugLogger
}

// DebugLog logs a message to the debug tab if it exists. It satisfies
// logging.LogFunc and is handed to the engine.
func DebugLog(format string, args ...interface{}) {
	if l := currentDebugLogger(); l != nil {
		l.Log(format, args...)
	}
}

// DebugLogError logs an error to the debug tab if it exists.
func DebugLogError(format string, args ...interface{}) {
	if l := currentDebugLogger(); l != nil {
		l.LogError(format, args...)
	}
}

// SetDebugFileLogger sets a file logger for the global debug logger.
func SetDebugFileLogger(logger *logging.FileLogger) {
	if l := currentDebugLogger(); l != nil {
		l.SetFileLogger(logger)
	}
}

var _ logging.LogFunc = DebugLog

func (t *DebugTab) updateStatusBar() {
	t.mu.Lock()
	lineCount := len(t.messages)
	t.mu.Unlock()
	t.statusBar.SetText(fmt.Sprintf(" %d log lines (max %d)", lineCount, t.maxLines))
}

func (t *DebugTab) updateButtonBar() {
	th := CurrentTheme
	buttonText := " " + th.TagHotkey + "c" + th.TagActionText + "lear  " +
		th.TagHotkey + "g" + th.TagActionText + " top  " +
		th.TagHotkey + "G" + th.TagActionText + " bottom  " +
		th.TagHotkey + "↑↓" + th.TagActionText + " scroll  " +
		th.TagActionText + "│  " +
		th.TagHotkey + "?" + th.TagActionText + " help  " +
		th.TagHotkey + "Shift+Tab" + th.TagActionText + " next tab " + th.TagReset
	t.buttonBar.SetText(buttonText)
}

// RefreshTheme updates theme-dependent UI elements.
func (t *DebugTab) RefreshTheme() {
	t.updateButtonBar()
	t.updateStatusBar()
	th := CurrentTheme
	t.logView.SetBorderColor(th.Border).SetTitleColor(th.Accent)
	t.logView.SetTextColor(th.Text)
	t.statusBar.SetTextColor(th.Text)
}
