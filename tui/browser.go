package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"taglink/logix"
)

// BrowserTab shows the live values of the selected PLC's polled tags.
type BrowserTab struct {
	app       *App
	flex      *tview.Flex
	plcSelect *tview.DropDown
	filter    *tview.InputField
	table     *tview.Table
	buttonBar *tview.TextView

	selectedPLC string
	filterText  string
	plcNames    []string
}

// NewBrowserTab creates the tag browser tab.
func NewBrowserTab(app *App) *BrowserTab {
	t := &BrowserTab{app: app}
	t.setupUI()
	return t
}

func (t *BrowserTab) setupUI() {
	t.plcSelect = tview.NewDropDown().SetLabel("PLC: ")
	t.plcSelect.SetDoneFunc(func(key tcell.Key) {
		t.app.app.SetFocus(t.table)
	})

	t.filter = tview.NewInputField().
		SetLabel("Filter: ").
		SetFieldWidth(24).
		SetChangedFunc(func(text string) {
			t.filterText = text
			t.Refresh()
		})
	t.filter.SetDoneFunc(func(key tcell.Key) {
		t.app.app.SetFocus(t.table)
	})

	t.table = tview.NewTable().
		SetSelectable(true, false).
		SetFixed(1, 0)
	t.table.SetBorder(true).SetTitle(" Tags ")
	t.table.SetInputCapture(t.handleKeys)
	t.table.SetSelectedFunc(func(row, col int) {
		t.showTagDetails()
	})

	t.buttonBar = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	t.buttonBar.SetText(" [yellow]p[-]lc  [yellow]/[-]filter  [yellow]y[-]ank  [yellow]w[-]rite  [yellow]r[-]ead now ")

	topBar := tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(t.plcSelect, 0, 1, false).
		AddItem(t.filter, 34, 0, false)

	t.flex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(t.buttonBar, 1, 0, false).
		AddItem(topBar, 1, 0, false).
		AddItem(t.table, 0, 1, true)
}

func (t *BrowserTab) handleKeys(event *tcell.EventKey) *tcell.EventKey {
	switch event.Rune() {
	case 'p':
		t.app.app.SetFocus(t.plcSelect)
		return nil
	case '/':
		t.app.app.SetFocus(t.filter)
		return nil
	case 'y':
		t.yankSelected()
		return nil
	case 'w':
		t.showWriteDialog()
		return nil
	case 'r':
		t.readSelected()
		return nil
	}
	return event
}

// GetPrimitive returns the tab's root primitive.
func (t *BrowserTab) GetPrimitive() tview.Primitive {
	return t.flex
}

// GetFocusable returns the element that should receive focus.
func (t *BrowserTab) GetFocusable() tview.Primitive {
	return t.table
}

func (t *BrowserTab) selectedTag() string {
	row, _ := t.table.GetSelection()
	if row < 1 || row >= t.table.GetRowCount() {
		return ""
	}
	// The raw name rides in the cell reference; the display text is
	// escaped and array brackets would come back mangled.
	if name, ok := t.table.GetCell(row, 0).GetReference().(string); ok {
		return name
	}
	return ""
}

// Refresh rebuilds the PLC selector and the value table.
// Must run on the UI goroutine.
func (t *BrowserTab) Refresh() {
	names := make([]string, 0)
	for _, plc := range t.app.manager.ListPLCs() {
		names = append(names, plc.Config.Name)
	}
	sort.Strings(names)

	if !equalStrings(names, t.plcNames) {
		t.plcNames = names
		t.plcSelect.SetOptions(names, func(text string, index int) {
			t.selectedPLC = text
			t.Refresh()
		})
		if t.selectedPLC == "" && len(names) > 0 {
			t.selectedPLC = names[0]
			t.plcSelect.SetCurrentOption(0)
		}
	}

	row, _ := t.table.GetSelection()
	t.table.Clear()

	headers := []string{"Tag", "Type", "Value"}
	for col, h := range headers {
		t.table.SetCell(0, col, tview.NewTableCell("[::b]"+h).
			SetSelectable(false))
	}

	plc := t.app.manager.GetPLC(t.selectedPLC)
	if plc == nil {
		return
	}

	values := plc.GetValues()
	tagNames := make([]string, 0, len(values))
	for name := range values {
		if t.filterText != "" && !strings.Contains(strings.ToLower(name), strings.ToLower(t.filterText)) {
			continue
		}
		tagNames = append(tagNames, name)
	}
	sort.Strings(tagNames)

	for i, name := range tagNames {
		v := values[name]
		r := i + 1
		t.table.SetCell(r, 0, tview.NewTableCell(tview.Escape(name)).SetReference(name))
		if v == nil {
			t.table.SetCell(r, 1, tview.NewTableCell(""))
			t.table.SetCell(r, 2, tview.NewTableCell("[gray]pending[-]").SetExpansion(1))
			continue
		}
		t.table.SetCell(r, 1, tview.NewTableCell(v.TypeName()))
		if v.Error != nil {
			t.table.SetCell(r, 2, tview.NewTableCell("[red]"+tview.Escape(v.Error.Error())+"[-]").SetExpansion(1))
		} else {
			t.table.SetCell(r, 2, tview.NewTableCell(tview.Escape(formatValue(v.GoValue()))).SetExpansion(1))
		}
	}

	if row >= t.table.GetRowCount() {
		row = t.table.GetRowCount() - 1
	}
	if row >= 1 {
		t.table.Select(row, 0)
	}
}

func (t *BrowserTab) yankSelected() {
	tag := t.selectedTag()
	if tag == "" {
		return
	}
	row, _ := t.table.GetSelection()
	value := t.table.GetCell(row, 2).Text
	if err := clipboard.WriteAll(tag + "=" + value); err != nil {
		t.app.setStatus("Clipboard unavailable: " + err.Error())
		return
	}
	t.app.setStatus("Yanked " + tag)
}

func (t *BrowserTab) readSelected() {
	tag := t.selectedTag()
	if tag == "" || t.selectedPLC == "" {
		return
	}
	plcName := t.selectedPLC
	go func() {
		v, err := t.app.manager.ReadTag(plcName, tag)
		t.app.QueueUpdateDraw(func() {
			if err != nil {
				t.app.setStatus("Read failed: " + err.Error())
				return
			}
			if v != nil {
				t.app.setStatus(fmt.Sprintf("%s = %s", tag, formatValue(v.GoValue())))
			}
			t.Refresh()
		})
	}()
}

func (t *BrowserTab) showWriteDialog() {
	tag := t.selectedTag()
	if tag == "" || t.selectedPLC == "" {
		return
	}
	plcName := t.selectedPLC

	dataType := t.app.manager.GetTagType(plcName, tag)
	if dataType == 0 {
		t.app.showError("Write", "Tag type unknown; wait for a poll to complete.")
		return
	}

	const pageName = "write"
	form := tview.NewForm()
	form.AddInputField("Value ("+logix.TypeName(dataType)+")", "", 30, nil, nil)
	form.AddButton("Write", func() {
		text := form.GetFormItem(0).(*tview.InputField).GetText()
		data, err := logix.ParseValue(dataType, text)
		if err != nil {
			t.app.showError("Write", err.Error())
			return
		}
		value, err := logix.DecodeValue(dataType, data)
		if err != nil {
			t.app.showError("Write", err.Error())
			return
		}
		t.app.closeModal(pageName)
		go func() {
			err := t.app.manager.WriteTag(plcName, tag, value)
			t.app.QueueUpdateDraw(func() {
				if err != nil {
					Logf("write %s.%s: %v", plcName, tag, err)
					t.app.showError("Write failed", err.Error())
					return
				}
				t.app.setStatus(fmt.Sprintf("Wrote %s to %s", text, tag))
			})
		}()
	})
	form.AddButton("Cancel", func() {
		t.app.closeModal(pageName)
	})
	form.SetBorder(true).SetTitle(" Write " + tag + " ")
	form.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape {
			t.app.closeModal(pageName)
			return nil
		}
		return event
	})

	t.app.showCenteredModal(pageName, form, 52, 9)
}

func (t *BrowserTab) showTagDetails() {
	tag := t.selectedTag()
	if tag == "" {
		return
	}
	plc := t.app.manager.GetPLC(t.selectedPLC)
	if plc == nil {
		return
	}
	v := plc.GetValues()[tag]
	if v == nil {
		return
	}

	text := fmt.Sprintf("Tag:       %s\nType:      %s (0x%04X)\nElements:  %d\nRaw bytes: %d\n",
		tag, v.TypeName(), v.DataType, v.Count, len(v.Bytes))
	if v.Error != nil {
		text += "\n[red]" + tview.Escape(v.Error.Error()) + "[-]\n"
	} else {
		text += "\nValue:\n" + tview.Escape(formatValue(v.GoValue())) + "\n"
	}

	const pageName = "tagdetails"
	view := tview.NewTextView().SetText(text).SetDynamicColors(true)
	view.SetBorder(true).SetTitle(" " + tag + " ")
	view.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape || event.Key() == tcell.KeyEnter {
			t.app.closeModal(pageName)
			return nil
		}
		return event
	})
	t.app.showCenteredModal(pageName, view, 56, 16)
}

// formatValue renders a decoded tag value for display.
func formatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return fmt.Sprintf("% X", val)
	case float32:
		return fmt.Sprintf("%g", val)
	case float64:
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
