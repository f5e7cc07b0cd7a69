package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Stop key.Binding
	Yes  key.Binding
	No   key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Stop: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "stop recording"),
		),
		Yes: key.NewBinding(
			key.WithKeys("y", "enter"),
			key.WithHelp("y/enter", "confirm"),
		),
		No: key.NewBinding(
			key.WithKeys("n", "esc"),
			key.WithHelp("n/esc", "decline"),
		),
	}
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Stop}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Stop}, {k.Yes, k.No}}
}

// promptHelp is shown while a question is pending.
type promptHelp struct{ keys keyMap }

func (p promptHelp) ShortHelp() []key.Binding  { return []key.Binding{p.keys.Yes, p.keys.No} }
func (p promptHelp) FullHelp() [][]key.Binding { return [][]key.Binding{p.ShortHelp()} }
