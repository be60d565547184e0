// Package conversation holds the declarative conversation script: a title and
// a set of named paths, each an ordered list of typed items.
package conversation

import "github.com/LingByte/LingCall/pkg/constants"

// ItemType is the `type` discriminant of a conversation item.
type ItemType string

const (
	TypeRead           ItemType = "read"
	TypePrompt         ItemType = "prompt"
	TypeChoice         ItemType = "choice"
	TypeInformation    ItemType = "information"
	TypeFunction       ItemType = "function"
	TypeFunctionChoice ItemType = "function_choice"
	TypePath           ItemType = "path"
)

// Item is one action inside a path.
type Item interface {
	Type() ItemType
}

// Read speaks Text verbatim.
type Read struct {
	Text string
}

// Prompt asks the language model for a reply and speaks it.
type Prompt struct {
	Prompt string
}

// Choice asks the caller to pick one of Options, by voice or keypad.
type Choice struct {
	Choice  string
	Silent  bool
	Options []Option
}

// Information extracts one value from the caller and stores it under Title.
type Information struct {
	Title       string
	Description string
	Format      string
}

// Function invokes a registered hook and speaks its text result, if any.
type Function struct {
	Module   string
	Function string
}

// FunctionChoice invokes a registered hook and branches on its result.
type FunctionChoice struct {
	Module   string
	Function string
	Options  []Option
}

// Path jumps unconditionally to another named path.
type Path struct {
	Path string
}

// Option is one branch of a Choice or FunctionChoice. Items are owned by the
// option and never shared.
type Option struct {
	Label      string
	DialNumber string // empty when the option has no keypad digit
	Items      []Item
}

func (Read) Type() ItemType           { return TypeRead }
func (Prompt) Type() ItemType         { return TypePrompt }
func (Choice) Type() ItemType         { return TypeChoice }
func (Information) Type() ItemType    { return TypeInformation }
func (Function) Type() ItemType       { return TypeFunction }
func (FunctionChoice) Type() ItemType { return TypeFunctionChoice }
func (Path) Type() ItemType           { return TypePath }

// HookID identifies a hook as module.function
func (f Function) HookID() string { return f.Module + "." + f.Function }

// HookID identifies a hook as module.function
func (f FunctionChoice) HookID() string { return f.Module + "." + f.Function }

// Labels returns the option labels in declaration order.
func (c Choice) Labels() []string { return labels(c.Options) }

func labels(opts []Option) []string {
	out := make([]string, len(opts))
	for i, o := range opts {
		out[i] = o.Label
	}
	return out
}

// Model is an immutable, parsed conversation script. It is shared read-only
// by every session running it.
type Model struct {
	Title string
	Paths map[string][]Item
}

// Path returns the items of the named path.
func (m *Model) Path(name string) ([]Item, bool) {
	items, ok := m.Paths[name]
	return items, ok
}

// Entry returns the items of the entry path.
func (m *Model) Entry() []Item {
	return m.Paths[constants.PATH_ENTRY]
}

// Walk visits every item in the model, including items nested in options.
func (m *Model) Walk(fn func(path string, item Item)) {
	for name, items := range m.Paths {
		walkItems(name, items, fn)
	}
}

func walkItems(path string, items []Item, fn func(string, Item)) {
	for _, it := range items {
		fn(path, it)
		switch v := it.(type) {
		case Choice:
			for _, o := range v.Options {
				walkItems(path+"/"+o.Label, o.Items, fn)
			}
		case FunctionChoice:
			for _, o := range v.Options {
				walkItems(path+"/"+o.Label, o.Items, fn)
			}
		}
	}
}
