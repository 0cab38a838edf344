package tui

import tea "github.com/charmbracelet/bubbletea"

// Mode is the input mode of the browser. Each mode has its own bindings.
type Mode string

const (
	ModeNormal Mode = "normal" // Browsing the log and the patch
	ModeFind   Mode = "find"   // Typing a find pattern (after /)
)

// Command is a named action triggered by a key binding.
type Command string

const (
	CmdDown         Command = "down"
	CmdUp           Command = "up"
	CmdPageDown     Command = "page_down"
	CmdPageUp       Command = "page_up"
	CmdTop          Command = "top"
	CmdBottom       Command = "bottom"
	CmdSwitchPane   Command = "switch_pane"
	CmdOpenPatch    Command = "open_patch"
	CmdEnterFind    Command = "enter_find"
	CmdFindNext     Command = "find_next"
	CmdFindPrev     Command = "find_prev"
	CmdCycleField   Command = "cycle_field"
	CmdCancel       Command = "cancel"
	CmdReload       Command = "reload"
	CmdQuit         Command = "quit"
	CmdExecuteFind  Command = "execute_find"
	CmdCancelFind   Command = "cancel_find"
	CmdForwardInput Command = "forward_input"
)

// KeyBinding maps one key to a command.
type KeyBinding struct {
	KeyType     tea.KeyType
	Rune        rune // only for tea.KeyRunes
	Command     Command
	Description string
}

func (b KeyBinding) matches(msg tea.KeyMsg) bool {
	if msg.Type != b.KeyType {
		return false
	}
	if b.KeyType == tea.KeyRunes {
		return len(msg.Runes) == 1 && msg.Runes[0] == b.Rune
	}
	return true
}

// Keymap holds the bindings of every mode.
type Keymap map[Mode][]KeyBinding

// DefaultKeymap returns the built-in bindings.
func DefaultKeymap() Keymap {
	return Keymap{
		ModeNormal: {
			{KeyType: tea.KeyRunes, Rune: 'j', Command: CmdDown, Description: "Next line"},
			{KeyType: tea.KeyDown, Command: CmdDown, Description: "Next line"},
			{KeyType: tea.KeyRunes, Rune: 'k', Command: CmdUp, Description: "Previous line"},
			{KeyType: tea.KeyUp, Command: CmdUp, Description: "Previous line"},
			{KeyType: tea.KeyCtrlF, Command: CmdPageDown, Description: "Page down"},
			{KeyType: tea.KeyPgDown, Command: CmdPageDown, Description: "Page down"},
			{KeyType: tea.KeyCtrlB, Command: CmdPageUp, Description: "Page up"},
			{KeyType: tea.KeyPgUp, Command: CmdPageUp, Description: "Page up"},
			{KeyType: tea.KeyRunes, Rune: 'g', Command: CmdTop, Description: "First line"},
			{KeyType: tea.KeyHome, Command: CmdTop, Description: "First line"},
			{KeyType: tea.KeyRunes, Rune: 'G', Command: CmdBottom, Description: "Last line"},
			{KeyType: tea.KeyEnd, Command: CmdBottom, Description: "Last line"},
			{KeyType: tea.KeyTab, Command: CmdSwitchPane, Description: "Switch pane"},
			{KeyType: tea.KeyEnter, Command: CmdOpenPatch, Description: "Focus patch"},
			{KeyType: tea.KeyRunes, Rune: '/', Command: CmdEnterFind, Description: "Find"},
			{KeyType: tea.KeyRunes, Rune: 'n', Command: CmdFindNext, Description: "Find next"},
			{KeyType: tea.KeyRunes, Rune: 'N', Command: CmdFindPrev, Description: "Find previous"},
			{KeyType: tea.KeyRunes, Rune: 'f', Command: CmdCycleField, Description: "Find in comments, paths or diff"},
			{KeyType: tea.KeyEsc, Command: CmdCancel, Description: "Cancel find or leave patch"},
			{KeyType: tea.KeyRunes, Rune: 'r', Command: CmdReload, Description: "Reload"},
			{KeyType: tea.KeyRunes, Rune: 'q', Command: CmdQuit, Description: "Quit"},
			{KeyType: tea.KeyCtrlC, Command: CmdQuit, Description: "Quit"},
		},
		ModeFind: {
			{KeyType: tea.KeyEnter, Command: CmdExecuteFind, Description: "Search"},
			{KeyType: tea.KeyEsc, Command: CmdCancelFind, Description: "Cancel"},
			{KeyType: tea.KeyCtrlC, Command: CmdCancelFind, Description: "Cancel"},
		},
	}
}

// Lookup returns the command bound to msg in mode. Unbound keys in find
// mode are forwarded to the text input.
func (k Keymap) Lookup(mode Mode, msg tea.KeyMsg) (Command, bool) {
	for _, b := range k[mode] {
		if b.matches(msg) {
			return b.Command, true
		}
	}
	if mode == ModeFind {
		return CmdForwardInput, true
	}
	return "", false
}
