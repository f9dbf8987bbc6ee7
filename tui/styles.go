// Package tui provides the terminal monitor for taglink: live PLC
// status, a tag value browser, and a debug log tail.
package tui

// Status indicator strings
const (
	StatusIndicatorConnected    = "[green]●[-]"
	StatusIndicatorDisconnected = "[gray]○[-]"
	StatusIndicatorConnecting   = "[yellow]◐[-]"
	StatusIndicatorError        = "[red]●[-]"
)

// Tab labels
const (
	TabPLCs    = "PLCs"
	TabBrowser = "Tag Browser"
	TabDebug   = "Debug"
)

// Help text
const HelpText = `
 Keyboard Shortcuts
 ─────────────────────────────────────

 Navigation
   Shift+Tab    Switch tabs
   Enter        Select / Details
   Escape       Close dialog
   ?            Show this help

 PLCs Tab
   c            Connect selected
   C            Disconnect selected
   i            Show PLC info
   d            Discover controllers

 Tag Browser Tab
   p            Focus PLC selector
   /            Focus filter
   y            Yank tag=value to clipboard
   w            Write value to tag
   r            Read tag now

 Debug Tab
   c            Clear log
   g / G        Scroll to top / bottom

 Application
   Q            Quit
`
