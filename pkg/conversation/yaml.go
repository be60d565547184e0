package conversation

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/LingByte/LingCall/pkg/constants"
	"gopkg.in/yaml.v3"
)

type rawModel struct {
	Title             string               `yaml:"title"`
	Paths             map[string]yaml.Node `yaml:"paths"`
	ConversationTitle string               `yaml:"conversation_title"`
	ConversationPaths map[string]yaml.Node `yaml:"conversation_paths"`
}

type rawItem struct {
	Type        string      `yaml:"type"`
	Text        string      `yaml:"text"`
	Prompt      string      `yaml:"prompt"`
	Choice      string      `yaml:"choice"`
	Silent      bool        `yaml:"silent"`
	Title       string      `yaml:"title"`
	Description string      `yaml:"description"`
	Format      string      `yaml:"format"`
	Module      string      `yaml:"module"`
	Function    string      `yaml:"function"`
	Path        string      `yaml:"path"`
	Options     []rawOption `yaml:"options"`
}

type rawOption struct {
	Option     string      `yaml:"option"`
	DialNumber string      `yaml:"dial_number"`
	Items      []yaml.Node `yaml:"items"`
}

// LoadFile reads and parses a conversation script from disk.
func LoadFile(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read conversation file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML conversation script and validates it. Any structural
// problem is returned as a *ConfigError.
func Parse(data []byte) (*Model, error) {
	var raw rawModel
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Index: -1, Message: fmt.Sprintf("invalid yaml: %v", err)}
	}

	title := raw.Title
	if title == "" {
		title = raw.ConversationTitle
	}
	paths := raw.Paths
	if len(paths) == 0 {
		paths = raw.ConversationPaths
	}

	if title == "" {
		return nil, &ConfigError{Index: -1, Field: "title", Message: "is required"}
	}
	if len(paths) == 0 {
		return nil, &ConfigError{Index: -1, Field: "paths", Message: "is required"}
	}

	m := &Model{Title: title, Paths: make(map[string][]Item, len(paths))}
	for name, node := range paths {
		node := node
		if node.Kind != yaml.SequenceNode {
			return nil, &ConfigError{Path: name, Index: -1, Message: fmt.Sprintf("path %q must be a list of items", name)}
		}
		items, err := decodeItems(name, node.Content)
		if err != nil {
			return nil, err
		}
		m.Paths[name] = items
	}

	for _, required := range []string{constants.PATH_ENTRY, constants.PATH_ABORTED} {
		if _, ok := m.Paths[required]; !ok {
			return nil, &ConfigError{Index: -1, Field: "paths", Message: fmt.Sprintf("missing mandatory path %q", required)}
		}
	}
	return m, nil
}

func decodeItems(path string, nodes []*yaml.Node) ([]Item, error) {
	items := make([]Item, 0, len(nodes))
	for i, n := range nodes {
		it, err := decodeItem(path, i, n)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, nil
}

func decodeItem(path string, index int, node *yaml.Node) (Item, error) {
	var r rawItem
	if err := node.Decode(&r); err != nil {
		return nil, &ConfigError{Path: path, Index: index, Message: err.Error()}
	}
	missing := func(field string) error {
		return &ConfigError{Path: path, Index: index, Field: field, Message: "is required for type " + r.Type}
	}

	switch ItemType(r.Type) {
	case TypeRead:
		if r.Text == "" {
			return nil, missing("text")
		}
		return Read{Text: r.Text}, nil

	case TypePrompt:
		if r.Prompt == "" {
			return nil, missing("prompt")
		}
		return Prompt{Prompt: r.Prompt}, nil

	case TypeChoice:
		if r.Choice == "" {
			return nil, missing("choice")
		}
		opts, err := decodeOptions(path, index, r.Options)
		if err != nil {
			return nil, err
		}
		return Choice{Choice: r.Choice, Silent: r.Silent, Options: opts}, nil

	case TypeInformation:
		switch {
		case r.Title == "":
			return nil, missing("title")
		case r.Description == "":
			return nil, missing("description")
		case r.Format == "":
			return nil, missing("format")
		}
		return Information{Title: r.Title, Description: r.Description, Format: r.Format}, nil

	case TypeFunction:
		if r.Module == "" {
			return nil, missing("module")
		}
		if r.Function == "" {
			return nil, missing("function")
		}
		return Function{Module: r.Module, Function: r.Function}, nil

	case TypeFunctionChoice:
		if r.Module == "" {
			return nil, missing("module")
		}
		if r.Function == "" {
			return nil, missing("function")
		}
		opts, err := decodeOptions(path, index, r.Options)
		if err != nil {
			return nil, err
		}
		return FunctionChoice{Module: r.Module, Function: r.Function, Options: opts}, nil

	case TypePath:
		if r.Path == "" {
			return nil, missing("path")
		}
		return Path{Path: r.Path}, nil

	case "":
		return nil, &ConfigError{Path: path, Index: index, Field: "type", Message: "is required"}
	default:
		return nil, &ConfigError{Path: path, Index: index, Field: "type", Message: fmt.Sprintf("unknown item type %q", r.Type)}
	}
}

func decodeOptions(path string, index int, raw []rawOption) ([]Option, error) {
	if len(raw) == 0 {
		return nil, &ConfigError{Path: path, Index: index, Field: "options", Message: "must contain at least one option"}
	}
	opts := make([]Option, 0, len(raw))
	seenDigits := map[string]bool{}
	for _, ro := range raw {
		if ro.Option == "" {
			return nil, &ConfigError{Path: path, Index: index, Field: "option", Message: "label is required"}
		}
		digit := strings.TrimSpace(ro.DialNumber)
		if digit != "" {
			if !isDTMFDigit(digit) {
				return nil, &ConfigError{Path: path, Index: index, Field: "dial_number", Message: fmt.Sprintf("%q is not a keypad digit", digit)}
			}
			if seenDigits[digit] {
				return nil, &ConfigError{Path: path, Index: index, Field: "dial_number", Message: fmt.Sprintf("digit %q used twice", digit)}
			}
			seenDigits[digit] = true
		}
		nodes := make([]*yaml.Node, len(ro.Items))
		for i := range ro.Items {
			nodes[i] = &ro.Items[i]
		}
		items, err := decodeItems(path+"/"+ro.Option, nodes)
		if err != nil {
			return nil, err
		}
		opts = append(opts, Option{Label: ro.Option, DialNumber: digit, Items: items})
	}
	return opts, nil
}

func isDTMFDigit(s string) bool {
	return len(s) == 1 && strings.ContainsAny(s, "0123456789*#ABCD")
}

// Marshal serialises the model back to YAML. Parsing the output yields a
// structurally equal model.
func Marshal(m *Model) ([]byte, error) {
	return yaml.Marshal(m)
}

// MarshalYAML implements yaml.Marshaler
func (m *Model) MarshalYAML() (interface{}, error) {
	paths := &yaml.Node{Kind: yaml.MappingNode}
	names := make([]string, 0, len(m.Paths))
	for name := range m.Paths {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		paths.Content = append(paths.Content, scalar(name), itemsNode(m.Paths[name]))
	}

	root := &yaml.Node{Kind: yaml.MappingNode}
	root.Content = append(root.Content,
		scalar("title"), scalar(m.Title),
		scalar("paths"), paths,
	)
	return root, nil
}

func itemsNode(items []Item) *yaml.Node {
	seq := &yaml.Node{Kind: yaml.SequenceNode}
	for _, it := range items {
		seq.Content = append(seq.Content, itemNode(it))
	}
	return seq
}

func itemNode(it Item) *yaml.Node {
	n := &yaml.Node{Kind: yaml.MappingNode}
	add := func(k string, v *yaml.Node) { n.Content = append(n.Content, scalar(k), v) }
	add("type", scalar(string(it.Type())))

	switch v := it.(type) {
	case Read:
		add("text", scalar(v.Text))
	case Prompt:
		add("prompt", scalar(v.Prompt))
	case Choice:
		add("choice", scalar(v.Choice))
		if v.Silent {
			add("silent", &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(true)})
		}
		add("options", optionsNode(v.Options))
	case Information:
		add("title", scalar(v.Title))
		add("description", scalar(v.Description))
		add("format", scalar(v.Format))
	case Function:
		add("module", scalar(v.Module))
		add("function", scalar(v.Function))
	case FunctionChoice:
		add("module", scalar(v.Module))
		add("function", scalar(v.Function))
		add("options", optionsNode(v.Options))
	case Path:
		add("path", scalar(v.Path))
	}
	return n
}

func optionsNode(opts []Option) *yaml.Node {
	seq := &yaml.Node{Kind: yaml.SequenceNode}
	for _, o := range opts {
		n := &yaml.Node{Kind: yaml.MappingNode}
		n.Content = append(n.Content, scalar("option"), scalar(o.Label))
		if o.DialNumber != "" {
			n.Content = append(n.Content, scalar("dial_number"), scalar(o.DialNumber))
		}
		n.Content = append(n.Content, scalar("items"), itemsNode(o.Items))
		seq.Content = append(seq.Content, n)
	}
	return seq
}

// scalar always emits a string node so labels such as "True" or "1" keep
// their literal form.
func scalar(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}
