package tui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"simlink/engine"
)

// SinksTab lists the MQTT, Valkey and Kafka publish targets.
type SinksTab struct {
	app       *App
	flex      *tview.Flex
	table     *tview.Table
	buttonBar *tview.TextView
	statusBar *tview.TextView

	rows []engine.SinkStatus
}

// NewSinksTab creates the sinks tab.
func NewSinksTab(app *App) *SinksTab {
	t := &SinksTab{app: app}
	t.setupUI()
	return t
}

func (t *SinksTab) setupUI() {
	th := CurrentTheme

	t.buttonBar = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	t.updateButtonBar()

	t.table = tview.NewTable().
		SetBorders(false).
		SetSelectable(true, false).
		SetFixed(1, 0)
	t.table.SetBorder(true).SetTitle(" Sinks ").SetBorderColor(th.Border).SetTitleColor(th.Accent)
	t.table.SetInputCapture(t.handleKeys)

	t.statusBar = tview.NewTextView().
		SetDynamicColors(true).
		SetTextColor(th.Text)

	t.flex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(t.buttonBar, 1, 0, false).
		AddItem(t.table, 0, 1, true).
		AddItem(t.statusBar, 1, 0, false)
}

func (t *SinksTab) handleKeys(event *tcell.EventKey) *tcell.EventKey {
	switch event.Rune() {
	case 'c':
		t.connectSelected()
		return nil
	case 'C':
		t.disconnectSelected()
		return nil
	}
	return event
}

// selected returns the sink under the cursor.
func (t *SinksTab) selected() (engine.SinkStatus, bool) {
	row, _ := t.table.GetSelection()
	if row < 1 || row > len(t.rows) {
		return engine.SinkStatus{}, false
	}
	return t.rows[row-1], true
}

func (t *SinksTab) connectSelected() {
	s, ok := t.selected()
	if !ok {
		return
	}
	eng := t.app.engine
	t.app.setStatus(fmt.Sprintf("Connecting %s %s...", s.Kind, s.Name))

	go func() {
		var err error
		switch s.Kind {
		case "mqtt":
			err = eng.StartMQTT(s.Name)
		case "valkey":
			err = eng.StartValkey(s.Name)
		case "kafka":
			err = eng.ConnectKafka(s.Name)
		}
		t.app.QueueUpdateDraw(func() {
			if err != nil {
				t.app.setStatus(fmt.Sprintf("%s %s: %v", s.Kind, s.Name, err))
			} else {
				t.app.setStatus(fmt.Sprintf("%s %s connected", s.Kind, s.Name))
			}
			t.Refresh()
		})
	}()
}

func (t *SinksTab) disconnectSelected() {
	s, ok := t.selected()
	if !ok {
		return
	}
	eng := t.app.engine
	switch s.Kind {
	case "mqtt":
		eng.StopMQTT(s.Name)
	case "valkey":
		eng.StopValkey(s.Name)
	case "kafka":
		eng.DisconnectKafka(s.Name)
	}
	t.app.setStatus(fmt.Sprintf("%s %s disconnected", s.Kind, s.Name))
	t.Refresh()
}

// Refresh rebuilds the table from the engine's sink list.
func (t *SinksTab) Refresh() {
	th := CurrentTheme
	t.rows = t.app.engine.SinkStatuses()

	t.table.Clear()
	for col, h := range []string{"", "Kind", "Name", "Address", "Enabled", "Error"} {
		t.table.SetCell(0, col, tview.NewTableCell(h).
			SetTextColor(th.Accent).
			SetSelectable(false))
	}

	running := 0
	for i, s := range t.rows {
		row := i + 1
		indicator := StatusIndicatorDisconnected
		if s.Running {
			indicator = StatusIndicatorRunning
			running++
		}
		enabled := "no"
		if s.Enabled {
			enabled = "yes"
		}
		t.table.SetCell(row, 0, tview.NewTableCell(indicator))
		t.table.SetCell(row, 1, tview.NewTableCell(s.Kind).SetTextColor(th.TextDim))
		t.table.SetCell(row, 2, tview.NewTableCell(s.Name).SetTextColor(th.Text).SetExpansion(1))
		t.table.SetCell(row, 3, tview.NewTableCell(s.Address).SetTextColor(th.Text).SetExpansion(2))
		t.table.SetCell(row, 4, tview.NewTableCell(enabled).SetTextColor(th.TextDim))
		t.table.SetCell(row, 5, tview.NewTableCell(s.Error).SetTextColor(tcell.ColorRed))
	}

	t.statusBar.SetText(fmt.Sprintf(" %d sinks, %d running", len(t.rows), running))
}

func (t *SinksTab) updateButtonBar() {
	th := CurrentTheme
	t.buttonBar.SetText(" " + th.TagHotkey + "c" + th.TagActionText + "onnect  " +
		th.TagHotkey + "C" + th.TagActionText + " disconnect  " +
		th.TagActionText + "│  " +
		th.TagHotkey + "?" + th.TagActionText + " help  " +
		th.TagHotkey + "Shift+Tab" + th.TagActionText + " next tab " + th.TagReset)
}

// GetPrimitive returns the main primitive for this tab.
func (t *SinksTab) GetPrimitive() tview.Primitive { return t.flex }

// GetFocusable returns the element that should receive focus.
func (t *SinksTab) GetFocusable() tview.Primitive { return t.table }

// RefreshTheme updates theme-dependent UI elements.
func (t *SinksTab) RefreshTheme() {
	th := CurrentTheme
	t.updateButtonBar()
	t.table.SetBorderColor(th.Border).SetTitleColor(th.Accent)
	t.statusBar.SetTextColor(th.Text)
}
