package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"simlink/provider"
	"simlink/telemetry"
)

// TelemetryTab shows the sampling loop state and the latest captured values.
type TelemetryTab struct {
	app       *App
	flex      *tview.Flex
	header    *tview.TextView
	filter    *tview.InputField
	table     *tview.Table
	buttonBar *tview.TextView
	statusBar *tview.TextView

	filterText string
}

// NewTelemetryTab creates the telemetry tab.
func NewTelemetryTab(app *App) *TelemetryTab {
	t := &TelemetryTab{app: app}
	t.setupUI()
	return t
}

func (t *TelemetryTab) setupUI() {
	th := CurrentTheme

	t.buttonBar = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	t.updateButtonBar()

	t.header = tview.NewTextView().
		SetDynamicColors(true).
		SetTextColor(th.Text)
	t.header.SetBorder(true).SetTitle(" Provider ").SetBorderColor(th.Border).SetTitleColor(th.Accent)

	t.filter = tview.NewInputField().
		SetLabel(" Filter: ").
		SetFieldWidth(30)
	t.filter.SetChangedFunc(func(text string) {
		t.filterText = strings.ToLower(strings.TrimSpace(text))
		t.Refresh()
	})
	t.filter.SetDoneFunc(func(tcell.Key) {
		t.app.app.SetFocus(t.table)
	})

	t.table = tview.NewTable().
		SetBorders(false).
		SetSelectable(true, false).
		SetFixed(1, 0)
	t.table.SetBorder(true).SetTitle(" Values ").SetBorderColor(th.Border).SetTitleColor(th.Accent)
	t.table.SetInputCapture(t.handleKeys)

	t.statusBar = tview.NewTextView().
		SetDynamicColors(true).
		SetTextColor(th.Text)

	t.flex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(t.buttonBar, 1, 0, false).
		AddItem(t.header, 5, 0, false).
		AddItem(t.filter, 1, 0, false).
		AddItem(t.table, 0, 1, true).
		AddItem(t.statusBar, 1, 0, false)
}

func (t *TelemetryTab) handleKeys(event *tcell.EventKey) *tcell.EventKey {
	switch event.Rune() {
	case 's':
		t.toggleProvider()
		return nil
	case 'p':
		t.forcePublish()
		return nil
	case '/':
		t.app.app.SetFocus(t.filter)
		return nil
	}
	return event
}

func (t *TelemetryTab) toggleProvider() {
	eng := t.app.engine
	p := eng.GetProvider()
	if p != nil && p.IsActive() {
		eng.StopProvider()
		t.app.setStatus("Sampling stopped")
	} else if err := eng.StartProvider(); err != nil {
		t.app.showError("Start failed", err.Error())
		return
	} else {
		t.app.setStatus("Sampling started")
	}
	t.Refresh()
}

func (t *TelemetryTab) forcePublish() {
	if err := t.app.engine.ForcePublishAll(); err != nil {
		t.app.setStatus("Publish failed: " + err.Error())
		return
	}
	t.app.setStatus("Published latest sample to all sinks")
}

// stateIndicator returns the colored dot and label for a loop state.
func stateIndicator(s provider.ConnectionState) string {
	switch s {
	case provider.StateConnectedRunning:
		return StatusIndicatorRunning + " " + s.String()
	case provider.StateConnectedIdle:
		return StatusIndicatorIdle + " " + s.String()
	case provider.StateConnecting:
		return StatusIndicatorConnecting + " " + s.String()
	default:
		return StatusIndicatorDisconnected + " " + s.String()
	}
}

func (t *TelemetryTab) updateHeader() {
	th := CurrentTheme
	eng := t.app.engine
	p := eng.GetProvider()
	if p == nil {
		msg := "no source"
		if err := eng.ProviderError(); err != nil {
			msg = err.Error()
		}
		t.header.SetText(" " + StatusIndicatorDisconnected + " " + th.TagError + msg + th.TagReset)
		return
	}

	st := p.Status()
	active := "stopped"
	if p.IsActive() {
		active = "active"
	}
	lastSample := "never"
	if !st.Stats.LastSample.IsZero() {
		lastSample = time.Since(st.Stats.LastSample).Truncate(time.Millisecond).String() + " ago"
	}
	text := fmt.Sprintf(" %s  %ssource%s %s  %sloop%s %s  %s%d Hz%s\n",
		stateIndicator(st.State),
		th.TagTextDim, th.TagReset, st.Source,
		th.TagTextDim, th.TagReset, active,
		th.TagTextDim, p.Options().UpdateFrequency, th.TagReset)
	text += fmt.Sprintf(" %stick%s %d  %ssamples%s %d  %serrors%s %d  %sreconnects%s %d  %slast%s %s",
		th.TagTextDim, th.TagReset, st.Tick,
		th.TagTextDim, th.TagReset, st.Stats.Samples,
		th.TagTextDim, th.TagReset, st.Stats.Errors,
		th.TagTextDim, th.TagReset, st.Stats.Reconnects,
		th.TagTextDim, th.TagReset, lastSample)
	if st.Stats.LastError != nil {
		text += "\n " + th.TagError + st.Stats.LastError.Error() + th.TagReset
	}
	t.header.SetText(text)
}

// formatValue renders a value for a table cell, truncating long arrays.
func formatValue(v telemetry.Value) string {
	if v.IsArray() {
		arr := v.Array()
		const show = 6
		parts := make([]string, 0, show+1)
		for i, f := range arr {
			if i == show {
				parts = append(parts, fmt.Sprintf("... (%d)", len(arr)))
				break
			}
			parts = append(parts, fmt.Sprintf("%.3g", f))
		}
		return "[" + strings.Join(parts, " ") + "]"
	}
	if k := v.Kind(); k == telemetry.KindFloat || k == telemetry.KindFloatArrayElem {
		return fmt.Sprintf("%.3f", v.Float())
	}
	return v.String()
}

// Refresh redraws the header and the values table from the latest snapshot.
func (t *TelemetryTab) Refresh() {
	t.updateHeader()

	th := CurrentTheme
	t.table.Clear()
	for col, h := range []string{"Name", "Value", "Unit"} {
		t.table.SetCell(0, col, tview.NewTableCell(h).
			SetTextColor(th.Accent).
			SetSelectable(false).
			SetExpansion(1))
	}

	snap := t.app.engine.Latest()
	if snap == nil {
		t.statusBar.SetText(" waiting for first sample")
		return
	}

	row := 1
	for _, tv := range snap.Values {
		if t.filterText != "" && !strings.Contains(strings.ToLower(tv.Name), t.filterText) {
			continue
		}
		t.table.SetCell(row, 0, tview.NewTableCell(tv.Name).SetTextColor(th.Text))
		t.table.SetCell(row, 1, tview.NewTableCell(formatValue(tv.Value)).SetTextColor(th.Text).SetAlign(tview.AlignRight))
		t.table.SetCell(row, 2, tview.NewTableCell(tv.Unit).SetTextColor(th.TextDim))
		row++
	}
	for _, name := range snap.Missing {
		if t.filterText != "" && !strings.Contains(strings.ToLower(name), t.filterText) {
			continue
		}
		t.table.SetCell(row, 0, tview.NewTableCell(name).SetTextColor(th.TextDim))
		t.table.SetCell(row, 1, tview.NewTableCell("unknown").SetTextColor(tcell.ColorRed).SetAlign(tview.AlignRight))
		t.table.SetCell(row, 2, tview.NewTableCell(""))
		row++
	}

	t.statusBar.SetText(fmt.Sprintf(" tick %d  %d values  %d missing", snap.Tick, len(snap.Values), len(snap.Missing)))
}

func (t *TelemetryTab) updateButtonBar() {
	th := CurrentTheme
	t.buttonBar.SetText(" " + th.TagHotkey + "s" + th.TagActionText + "tart/stop  " +
		th.TagHotkey + "p" + th.TagActionText + "ublish  " +
		th.TagHotkey + "/" + th.TagActionText + " filter  " +
		th.TagActionText + "│  " +
		th.TagHotkey + "?" + th.TagActionText + " help  " +
		th.TagHotkey + "Shift+Tab" + th.TagActionText + " next tab " + th.TagReset)
}

// GetPrimitive returns the main primitive for this tab.
func (t *TelemetryTab) GetPrimitive() tview.Primitive { return t.flex }

// GetFocusable returns the element that should receive focus.
func (t *TelemetryTab) GetFocusable() tview.Primitive { return t.table }

// RefreshTheme updates theme-dependent UI elements.
func (t *TelemetryTab) RefreshTheme() {
	th := CurrentTheme
	t.updateButtonBar()
	t.header.SetBorderColor(th.Border).SetTitleColor(th.Accent)
	t.table.SetBorderColor(th.Border).SetTitleColor(th.Accent)
	t.header.SetTextColor(th.Text)
	t.statusBar.SetTextColor(th.Text)
}
