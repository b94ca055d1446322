package tui

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"simlink/engine"
)

const defaultRefresh = 250 * time.Millisecond

// App is the main TUI application.
type App struct {
	app            *tview.Application
	pages          *tview.Pages
	tabs           *tview.TextView
	statusBar      *tview.TextView
	themeIndicator *tview.TextView

	telemetryTab *TelemetryTab
	sinksTab     *SinksTab
	debugTab     *DebugTab

	engine *engine.Engine
	subID  engine.SubscriberID

	currentTab int
	tabNames   []string

	stopChan chan struct{}
	onQuit   func()
}

// NewApp creates a new TUI application.
func NewApp(eng *engine.Engine) *App {
	return newApp(eng, tview.NewApplication())
}

// NewAppWithScreen creates a TUI application that draws on screen.
func NewAppWithScreen(eng *engine.Engine, screen tcell.Screen) *App {
	return newApp(eng, tview.NewApplication().SetScreen(screen))
}

func newApp(eng *engine.Engine, tv *tview.Application) *App {
	if theme := eng.GetConfig().UI.Theme; theme != "" {
		SetTheme(theme)
	}

	a := &App{
		app:      tv,
		engine:   eng,
		tabNames: []string{TabTelemetry, TabSinks, TabDebug},
		stopChan: make(chan struct{}),
	}
	a.setupUI()
	return a
}

// SetOnQuit sets a callback run after the user quits.
func (a *App) SetOnQuit(fn func()) {
	a.onQuit = fn
}

func (a *App) setupUI() {
	a.tabs = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)

	a.statusBar = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft).
		SetTextColor(CurrentTheme.Text)

	a.themeIndicator = tview.NewTextView().
		SetTextAlign(tview.AlignRight)
	a.updateThemeIndicator()

	a.pages = tview.NewPages()

	a.telemetryTab = NewTelemetryTab(a)
	a.sinksTab = NewSinksTab(a)
	a.debugTab = NewDebugTab(a)

	a.pages.AddPage(TabTelemetry, a.telemetryTab.GetPrimitive(), true, true)
	a.pages.AddPage(TabSinks, a.sinksTab.GetPrimitive(), true, false)
	a.pages.AddPage(TabDebug, a.debugTab.GetPrimitive(), true, false)

	bottomBar := tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(a.statusBar, 0, 1, false).
		AddItem(a.themeIndicator, 24, 0, false)

	mainFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.tabs, 1, 0, false).
		AddItem(a.pages, 0, 1, true).
		AddItem(bottomBar, 1, 0, false)

	a.app.SetInputCapture(a.handleGlobalKeys)

	a.app.SetRoot(mainFlex, true)
	a.updateTabsDisplay()
	a.setStatus("Ready. Press ? for help.")
	a.focusCurrentTab()
}

func (a *App) isMainTab(page string) bool {
	for _, name := range a.tabNames {
		if name == page {
			return true
		}
	}
	return false
}

func (a *App) handleGlobalKeys(event *tcell.EventKey) *tcell.EventKey {
	if event == nil {
		return nil
	}

	// Modals and the filter field get every key
	frontPage, _ := a.pages.GetFrontPage()
	if !a.isMainTab(frontPage) {
		return event
	}
	if _, ok := a.app.GetFocus().(*tview.InputField); ok {
		return event
	}

	if event.Rune() == 'Q' {
		a.Shutdown()
		return nil
	}

	if event.Key() == tcell.KeyBacktab {
		a.nextTab()
		return nil
	}

	if event.Rune() == '?' {
		a.showHelp()
		return nil
	}

	if event.Key() == tcell.KeyF6 {
		themeName := NextTheme()
		a.updateTabsDisplay()
		a.updateThemeIndicator()
		a.refreshAllThemes()
		if err := a.engine.SetUITheme(themeName); err != nil {
			DebugLogError("Saving theme: %v", err)
		}
		a.app.Sync()
		return nil
	}

	switch event.Key() {
	case tcell.KeyF7:
		a.toggleWeb("REST API", a.engine.ToggleAPI)
		return nil
	case tcell.KeyF8:
		a.toggleWeb("Metrics endpoint", a.engine.ToggleMetrics)
		return nil
	}

	return event
}

// toggleWeb flips a web feature and reports the new state on the status bar.
func (a *App) toggleWeb(label string, toggle func() (bool, error)) {
	enabled, err := toggle()
	if err != nil {
		DebugLogError("Toggling %s: %v", label, err)
		return
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	a.setStatus(fmt.Sprintf("%s %s", label, state))
	DebugLog("%s %s", label, state)
}

func (a *App) nextTab() {
	a.switchToTab((a.currentTab + 1) % len(a.tabNames))
}

func (a *App) switchToTab(index int) {
	a.currentTab = index
	a.pages.SwitchToPage(a.tabNames[index])
	a.updateTabsDisplay()
	a.focusCurrentTab()
	a.refreshCurrentTab()
}

func (a *App) focusCurrentTab() {
	switch a.tabNames[a.currentTab] {
	case TabTelemetry:
		a.app.SetFocus(a.telemetryTab.GetFocusable())
	case TabSinks:
		a.app.SetFocus(a.sinksTab.GetFocusable())
	case TabDebug:
		a.app.SetFocus(a.debugTab.GetFocusable())
	}
}

func (a *App) refreshCurrentTab() {
	switch a.tabNames[a.currentTab] {
	case TabTelemetry:
		a.telemetryTab.Refresh()
	case TabSinks:
		a.sinksTab.Refresh()
	case TabDebug:
		a.debugTab.Refresh()
	}
}

func (a *App) updateTabsDisplay() {
	th := CurrentTheme
	text := ""
	for i, name := range a.tabNames {
		if i > 0 {
			text += th.TagTextDim + "  │  " + th.TagReset
		}
		if i == a.currentTab {
			// TagAccent is "[#RRGGBB]", insert "::b" before the closing bracket
			colorTag := th.TagAccent[:len(th.TagAccent)-1] + "::b]"
			text += colorTag + name + "[-::-]"
		} else {
			text += th.TagTextDim + name + th.TagReset
		}
	}
	a.tabs.SetText(text)
	a.tabs.SetTextColor(th.Text)
}

func (a *App) setStatus(msg string) {
	a.statusBar.SetText(" " + msg)
}

func (a *App) updateThemeIndicator() {
	th := CurrentTheme
	a.themeIndicator.SetText("Theme (F6): " + GetThemeName() + " ")
	a.themeIndicator.SetTextColor(th.TextDim)
	a.statusBar.SetTextColor(th.Text)
}

func (a *App) showHelp() {
	const pageName = "help"

	textView := tview.NewTextView().
		SetText(HelpText).
		SetDynamicColors(true)
	textView.SetBorder(true).SetTitle(" Help ")

	textView.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape || event.Key() == tcell.KeyEnter || event.Rune() == '?' {
			a.closeModal(pageName)
			return nil
		}
		return event
	})

	a.showCenteredModal(pageName, textView, 45, 26)
}

func (a *App) showError(title, message string) {
	modal := tview.NewModal().
		SetText(title + "\n\n" + message).
		AddButtons([]string{"OK"}).
		SetDoneFunc(func(buttonIndex int, buttonLabel string) {
			a.closeModal("error")
		})

	a.pages.AddPage("error", modal, true, true)
}

// showCenteredModal displays content centered on the screen with focus.
func (a *App) showCenteredModal(pageName string, content tview.Primitive, width, height int) {
	modal := tview.NewFlex().
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().SetDirection(tview.FlexRow).
			AddItem(nil, 0, 1, false).
			AddItem(content, height, 1, true).
			AddItem(nil, 0, 1, false), width, 1, true).
		AddItem(nil, 0, 1, false)

	a.pages.AddPage(pageName, modal, true, true)
	a.app.SetFocus(content)
}

// closeModal removes a modal and restores focus to the current tab.
func (a *App) closeModal(pageName string) {
	a.pages.RemovePage(pageName)
	a.focusCurrentTab()
}

// Run starts the TUI application and blocks until it exits.
func (a *App) Run() error {
	a.subID = a.engine.Events.SubscribeTypes(a.onEvent,
		engine.EventProviderState, engine.EventSourceChanged,
		engine.EventMQTTStarted, engine.EventValkeyStarted, engine.EventKafkaConnected)

	a.telemetryTab.Refresh()
	a.sinksTab.Refresh()

	go a.periodicRefresh()

	return a.app.Run()
}

// onEvent logs engine events to the debug tab.
func (a *App) onEvent(ev engine.Event) {
	l := currentDebugLogger()
	if l == nil {
		return
	}
	switch p := ev.Payload.(type) {
	case engine.ProviderEvent:
		l.LogProvider("%s (tick %d)", p.Status.State, p.Status.Tick)
	case engine.ServiceEvent:
		l.Log("%s %s", ev.Type, p.Name)
	default:
		l.Log("%s", ev.Type)
	}
}

// periodicRefresh redraws the visible tab while no modal is open.
func (a *App) periodicRefresh() {
	interval := a.engine.GetConfig().UI.RefreshInterval
	if interval <= 0 {
		interval = defaultRefresh
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopChan:
			return
		case <-ticker.C:
			a.app.QueueUpdateDraw(func() {
				frontPage, _ := a.pages.GetFrontPage()
				if !a.isMainTab(frontPage) {
					return
				}
				a.refreshCurrentTab()
			})
		}
	}
}

// Shutdown stops the refresh loop and the TUI. The engine is left to the
// caller.
func (a *App) Shutdown() {
	select {
	case <-a.stopChan:
		return
	default:
		close(a.stopChan)
	}

	a.engine.Events.Unsubscribe(a.subID)
	a.app.Stop()

	if a.onQuit != nil {
		a.onQuit()
	}
}

// QueueUpdateDraw queues a function to run on the UI thread.
func (a *App) QueueUpdateDraw(f func()) {
	a.app.QueueUpdateDraw(f)
}

// refreshAllThemes applies the current theme to every tab.
func (a *App) refreshAllThemes() {
	a.telemetryTab.RefreshTheme()
	a.sinksTab.RefreshTheme()
	a.debugTab.RefreshTheme()
}
