package tui

import (
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"taglink/config"
	"taglink/plcman"
)

// App is the terminal monitor application.
type App struct {
	app       *tview.Application
	pages     *tview.Pages
	tabs      *tview.TextView
	statusBar *tview.TextView

	plcsTab    *PLCsTab
	browserTab *BrowserTab
	debugTab   *DebugTab

	manager    *plcman.Manager
	config     *config.Config
	configPath string

	currentTab int
	tabNames   []string
	listenerID int

	stopChan chan struct{}
}

// NewApp creates the monitor application over an already-started PLC
// manager. The app does not own the manager; the caller stops it after
// Run returns.
func NewApp(cfg *config.Config, configPath string, manager *plcman.Manager) *App {
	a := &App{
		app:        tview.NewApplication(),
		config:     cfg,
		configPath: configPath,
		manager:    manager,
		tabNames:   []string{TabPLCs, TabBrowser, TabDebug},
		stopChan:   make(chan struct{}),
	}

	a.setupUI()
	return a
}

func (a *App) setupUI() {
	a.tabs = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)

	a.statusBar = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)

	a.pages = tview.NewPages()

	a.plcsTab = NewPLCsTab(a)
	a.browserTab = NewBrowserTab(a)
	a.debugTab = NewDebugTab(a)

	a.pages.AddPage(TabPLCs, a.plcsTab.GetPrimitive(), true, true)
	a.pages.AddPage(TabBrowser, a.browserTab.GetPrimitive(), true, false)
	a.pages.AddPage(TabDebug, a.debugTab.GetPrimitive(), true, false)

	mainFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.tabs, 1, 0, false).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetInputCapture(a.handleGlobalKeys)
	a.app.SetRoot(mainFlex, true)
	a.updateTabsDisplay()
	a.setStatus("Config: " + a.configPath + "  │  Press ? for help.")
	a.focusCurrentTab()
}

func (a *App) handleGlobalKeys(event *tcell.EventKey) *tcell.EventKey {
	if event == nil {
		return nil
	}

	// Anything that is not a main tab is a modal; let it handle keys.
	frontPage, _ := a.pages.GetFrontPage()
	if frontPage != TabPLCs && frontPage != TabBrowser && frontPage != TabDebug {
		return event
	}

	// Don't steal typed characters from input fields.
	if _, ok := a.app.GetFocus().(*tview.InputField); ok {
		return event
	}
	if _, ok := a.app.GetFocus().(*tview.DropDown); ok {
		return event
	}

	switch {
	case event.Rune() == 'Q':
		a.Stop()
		return nil
	case event.Key() == tcell.KeyBacktab:
		a.nextTab()
		return nil
	case event.Rune() == '?':
		a.showHelp()
		return nil
	}

	return event
}

func (a *App) nextTab() {
	a.switchToTab((a.currentTab + 1) % len(a.tabNames))
}

func (a *App) switchToTab(index int) {
	a.currentTab = index
	a.pages.SwitchToPage(a.tabNames[index])
	a.updateTabsDisplay()
	a.focusCurrentTab()
}

func (a *App) focusCurrentTab() {
	switch a.currentTab {
	case 0:
		a.app.SetFocus(a.plcsTab.GetFocusable())
	case 1:
		a.app.SetFocus(a.browserTab.GetFocusable())
	case 2:
		a.app.SetFocus(a.debugTab.GetFocusable())
	}
}

func (a *App) updateTabsDisplay() {
	text := ""
	for i, name := range a.tabNames {
		if i > 0 {
			text += "[gray]  │  [-]"
		}
		if i == a.currentTab {
			text += "[yellow::b]" + name + "[-::-]"
		} else {
			text += "[gray]" + name + "[-]"
		}
	}
	a.tabs.SetText(text)
}

func (a *App) setStatus(msg string) {
	a.statusBar.SetText(" " + msg)
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

	a.showCenteredModal(pageName, textView, 43, 32)
}

func (a *App) showError(title, message string) {
	modal := tview.NewModal().
		SetText(title + "\n\n" + message).
		AddButtons([]string{"OK"}).
		SetDoneFunc(func(buttonIndex int, buttonLabel string) {
			a.pages.RemovePage("error")
			a.focusCurrentTab()
		})

	a.pages.AddPage("error", modal, true, true)
}

// showCenteredModal displays content centered over the current tab.
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

func (a *App) closeModal(pageName string) {
	a.pages.RemovePage(pageName)
	a.focusCurrentTab()
}

// QueueUpdateDraw queues a function onto the UI goroutine.
func (a *App) QueueUpdateDraw(f func()) {
	a.app.QueueUpdateDraw(f)
}

// Run starts the monitor and blocks until the user quits.
func (a *App) Run() error {
	a.listenerID = a.manager.AddOnChangeListener(func() {
		a.app.QueueUpdateDraw(func() {
			a.plcsTab.Refresh()
			a.browserTab.Refresh()
		})
	})

	a.plcsTab.Refresh()
	a.browserTab.Refresh()

	go a.periodicRefresh()

	err := a.app.Run()
	a.manager.RemoveOnChangeListener(a.listenerID)
	return err
}

// periodicRefresh keeps the debug tail and the value table current even
// when no status change fires. The redraw cadence follows the poll rate
// so the screen never lags more than one poll behind.
func (a *App) periodicRefresh() {
	interval := a.config.PollRate
	if interval < time.Second {
		interval = time.Second
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
				switch frontPage {
				case TabDebug:
					a.debugTab.Refresh()
				case TabBrowser:
					a.browserTab.Refresh()
				case TabPLCs:
					a.plcsTab.Refresh()
				}
			})
		}
	}
}

// Stop halts the UI event loop.
func (a *App) Stop() {
	select {
	case <-a.stopChan:
	default:
		close(a.stopChan)
	}
	a.app.Stop()
}
