package binding

import "strings"

// References returns every placeholder path found in value, descending into
// maps and lists. Templates that fail to parse are reported as errors
func References(value any) ([]string, error) {
	var res []string
	var walk func(any) error
	walk = func(v any) error {
		switch v := v.(type) {
		case string:
			if !HasPlaceholders(v) {
				return nil
			}
			t, err := Compile(v)
			if err != nil {
				return err
			}
			res = append(res, t.Paths()...)
		case map[string]any:
			for _, val := range v {
				if err := walk(val); err != nil {
					return err
				}
			}
		case []any:
			for _, val := range v {
				if err := walk(val); err != nil {
					return err
				}
			}
		case []string:
			for _, val := range v {
				if err := walk(val); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk(value); err != nil {
		return nil, err
	}
	return res, nil
}

// Root returns the top-level name of a dotted path
func Root(path string) string {
	root, _, _ := strings.Cut(path, ".")
	return root
}
