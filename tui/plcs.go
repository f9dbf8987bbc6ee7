package tui

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"taglink/logix"
	"taglink/plcman"
)

// PLCsTab shows every managed controller with its connection state.
type PLCsTab struct {
	app       *App
	flex      *tview.Flex
	table     *tview.Table
	buttonBar *tview.TextView
}

// NewPLCsTab creates the PLC status tab.
func NewPLCsTab(app *App) *PLCsTab {
	t := &PLCsTab{app: app}
	t.setupUI()
	return t
}

func (t *PLCsTab) setupUI() {
	t.table = tview.NewTable().
		SetSelectable(true, false).
		SetFixed(1, 0)
	t.table.SetBorder(true).SetTitle(" PLCs ")

	t.table.SetInputCapture(t.handleKeys)
	t.table.SetSelectedFunc(func(row, col int) {
		t.showInfoDialog()
	})

	t.buttonBar = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	t.buttonBar.SetText(" [yellow]c[-]onnect  dis[yellow]C[-]onnect  [yellow]i[-]nfo  [yellow]d[-]iscover ")

	t.flex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(t.buttonBar, 1, 0, false).
		AddItem(t.table, 0, 1, true)
}

func (t *PLCsTab) handleKeys(event *tcell.EventKey) *tcell.EventKey {
	switch event.Rune() {
	case 'c':
		t.connectSelected()
		return nil
	case 'C':
		t.disconnectSelected()
		return nil
	case 'i':
		t.showInfoDialog()
		return nil
	case 'd':
		t.discover()
		return nil
	}
	return event
}

func (t *PLCsTab) getSelectedPLCName() string {
	row, _ := t.table.GetSelection()
	if row < 1 || row >= t.table.GetRowCount() {
		return ""
	}
	return t.table.GetCell(row, 1).Text
}

// GetPrimitive returns the tab's root primitive.
func (t *PLCsTab) GetPrimitive() tview.Primitive {
	return t.flex
}

// GetFocusable returns the element that should receive focus.
func (t *PLCsTab) GetFocusable() tview.Primitive {
	return t.table
}

// Refresh redraws the table. Must run on the UI goroutine.
func (t *PLCsTab) Refresh() {
	row, _ := t.table.GetSelection()
	t.table.Clear()

	headers := []string{"", "Name", "Address", "Status", "Mode", "Device", "Last Poll", "Error"}
	for col, h := range headers {
		t.table.SetCell(0, col, tview.NewTableCell("[::b]"+h).
			SetSelectable(false))
	}

	for i, plc := range t.app.manager.ListPLCs() {
		status := plc.GetStatus()

		indicator := StatusIndicatorDisconnected
		switch status {
		case plcman.StatusConnected:
			indicator = StatusIndicatorConnected
		case plcman.StatusConnecting:
			indicator = StatusIndicatorConnecting
		case plcman.StatusError:
			indicator = StatusIndicatorError
		}

		device := ""
		if id := plc.GetIdentity(); id != nil {
			device = id.ProductName
		}

		health := plc.GetHealth()
		lastPoll := ""
		if !health.LastPoll.IsZero() {
			lastPoll = time.Since(health.LastPoll).Round(time.Second).String() + " ago"
		}

		errText := ""
		if err := plc.GetError(); err != nil {
			errText = "[red]" + tview.Escape(err.Error()) + "[-]"
		}

		r := i + 1
		t.table.SetCell(r, 0, tview.NewTableCell(indicator))
		t.table.SetCell(r, 1, tview.NewTableCell(plc.Config.Name))
		t.table.SetCell(r, 2, tview.NewTableCell(plc.Config.Address))
		t.table.SetCell(r, 3, tview.NewTableCell(status.String()))
		t.table.SetCell(r, 4, tview.NewTableCell(health.Mode))
		t.table.SetCell(r, 5, tview.NewTableCell(device))
		t.table.SetCell(r, 6, tview.NewTableCell(lastPoll))
		t.table.SetCell(r, 7, tview.NewTableCell(errText).SetExpansion(1))
	}

	if row >= t.table.GetRowCount() {
		row = t.table.GetRowCount() - 1
	}
	if row >= 1 {
		t.table.Select(row, 0)
	}
}

func (t *PLCsTab) connectSelected() {
	name := t.getSelectedPLCName()
	if name == "" {
		return
	}
	t.app.setStatus("Connecting to " + name + "...")
	go func() {
		err := t.app.manager.Connect(name)
		t.app.QueueUpdateDraw(func() {
			if err != nil {
				Logf("connect %s: %v", name, err)
				t.app.setStatus("Connect failed: " + err.Error())
			} else {
				t.app.setStatus("Connected to " + name)
			}
			t.Refresh()
		})
	}()
}

func (t *PLCsTab) disconnectSelected() {
	name := t.getSelectedPLCName()
	if name == "" {
		return
	}
	go func() {
		err := t.app.manager.Disconnect(name)
		t.app.QueueUpdateDraw(func() {
			if err != nil {
				t.app.setStatus("Disconnect failed: " + err.Error())
			} else {
				t.app.setStatus("Disconnected from " + name)
			}
			t.Refresh()
		})
	}()
}

func (t *PLCsTab) showInfoDialog() {
	name := t.getSelectedPLCName()
	if name == "" {
		return
	}
	plc := t.app.manager.GetPLC(name)
	if plc == nil {
		return
	}

	health := plc.GetHealth()
	text := fmt.Sprintf("Name:     %s\nAddress:  %s\nSlot:     %d\nStatus:   %s\nMode:     %s\n",
		plc.Config.Name, plc.Config.Address, plc.Config.Slot, health.Status, health.Mode)

	if id := plc.GetIdentity(); id != nil {
		text += fmt.Sprintf("\nVendor:   %s\nDevice:   %s\nProduct:  %s\nRevision: %s\nSerial:   %08X\n",
			id.VendorName(), id.DeviceTypeName(), id.ProductName, id.Revision, id.Serial)
	}

	if programs := plc.GetPrograms(); len(programs) > 0 {
		text += fmt.Sprintf("\nPrograms: %d\n", len(programs))
	}
	text += fmt.Sprintf("Tags:     %d known, %d polled\n", len(plc.GetTags()), len(plc.GetValues()))
	if health.Error != "" {
		text += "\n[red]" + tview.Escape(health.Error) + "[-]\n"
	}

	const pageName = "plcinfo"
	view := tview.NewTextView().SetText(text).SetDynamicColors(true)
	view.SetBorder(true).SetTitle(" " + name + " ")
	view.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape || event.Key() == tcell.KeyEnter {
			t.app.closeModal(pageName)
			return nil
		}
		return event
	})
	t.app.showCenteredModal(pageName, view, 50, 20)
}

func (t *PLCsTab) discover() {
	t.app.setStatus("Discovering controllers...")
	go func() {
		devices, err := logix.Discover("255.255.255.255", 3*time.Second)
		t.app.QueueUpdateDraw(func() {
			if err != nil {
				t.app.showError("Discovery failed", err.Error())
				return
			}
			t.app.setStatus(fmt.Sprintf("Discovery found %d device(s)", len(devices)))
			t.showDiscoveryResults(devices)
		})
	}()
}

func (t *PLCsTab) showDiscoveryResults(devices []logix.DeviceInfo) {
	text := ""
	if len(devices) == 0 {
		text = "No EtherNet/IP devices answered the broadcast."
	}
	for _, d := range devices {
		text += fmt.Sprintf("%s  %s\n    %s rev %s serial %08X\n\n",
			d.IP, d.ProductName, d.VendorName(), d.Revision, d.Serial)
	}

	const pageName = "discovery"
	view := tview.NewTextView().SetText(text)
	view.SetBorder(true).SetTitle(" Discovered Devices ")
	view.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape || event.Key() == tcell.KeyEnter {
			t.app.closeModal(pageName)
			return nil
		}
		return event
	})
	t.app.showCenteredModal(pageName, view, 56, 20)
}
