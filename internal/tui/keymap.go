package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines all keyboard shortcuts. Letter keys are left to the scan
// input so barcodes and names can be typed.
type KeyMap struct {
	Submit      key.Binding
	SwitchMode  key.Binding
	ClearPatron key.Binding
	ToggleFines key.Binding
	Quit        key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Submit: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "scan"),
		),
		SwitchMode: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "lend/return"),
		),
		ClearPatron: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "next patron"),
		),
		ToggleFines: key.NewBinding(
			key.WithKeys("ctrl+f"),
			key.WithHelp("ctrl+f", "late fines: pay/defer"),
		),
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c", "ctrl+d"),
			key.WithHelp("ctrl+c", "quit"),
		),
	}
}

// ShortHelp returns the bindings shown in the footer.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Submit, k.SwitchMode, k.ClearPatron, k.ToggleFines, k.Quit}
}
