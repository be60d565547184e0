package conversation

import "fmt"

// ConfigError reports a malformed conversation script. Path and Index locate
// the offending item; Index is -1 for model-level problems.
type ConfigError struct {
	Path    string
	Index   int
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Index < 0 {
		if e.Field == "" {
			return fmt.Sprintf("conversation config: %s", e.Message)
		}
		return fmt.Sprintf("conversation config: %s: %s", e.Field, e.Message)
	}
	if e.Field == "" {
		return fmt.Sprintf("conversation config: path %q item %d: %s", e.Path, e.Index, e.Message)
	}
	return fmt.Sprintf("conversation config: path %q item %d: field %q %s", e.Path, e.Index, e.Field, e.Message)
}
