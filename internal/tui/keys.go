package tui

import "github.com/charmbracelet/bubbles/key"

// browseKeys are the ledger browser's bindings. They double as the help
// bubble's key map.
type browseKeys struct {
	Up           key.Binding
	Down         key.Binding
	NextTab      key.Binding
	PrevTab      key.Binding
	Expand       key.Binding
	Back         key.Binding
	ManifestOnly key.Binding
	Retry        key.Binding
	Help         key.Binding
	Quit         key.Binding
}

func newBrowseKeys() browseKeys {
	return browseKeys{
		Up:           key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:         key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		NextTab:      key.NewBinding(key.WithKeys("tab", "right", "l"), key.WithHelp("tab", "next category")),
		PrevTab:      key.NewBinding(key.WithKeys("shift+tab", "left", "h"), key.WithHelp("shift+tab", "previous category")),
		Expand:       key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "all records")),
		Back:         key.NewBinding(key.WithKeys("esc", "backspace"), key.WithHelp("esc", "back")),
		ManifestOnly: key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "retry manifest only")),
		Retry:        key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "copy retry command")),
		Help:         key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Quit:         key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// ShortHelp implements help.KeyMap.
func (k browseKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.NextTab, k.Expand, k.ManifestOnly, k.Retry, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k browseKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.NextTab, k.PrevTab},
		{k.Expand, k.Back},
		{k.ManifestOnly, k.Retry},
		{k.Help, k.Quit},
	}
}
