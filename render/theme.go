package render

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v2"
)

// Theme holds the hex colors used by the renderer. Every field must be a
// "#rrggbb" value; zero values in an override file fall back to the default.
type Theme struct {
	Directory      string `json:"directory" yaml:"directory"`
	Symlink        string `json:"symlink" yaml:"symlink"`
	Executable     string `json:"executable" yaml:"executable"`
	Hardlink       string `json:"hardlink" yaml:"hardlink"`
	Permissions    string `json:"permissions" yaml:"permissions"`
	Ownership      string `json:"ownership" yaml:"ownership"`
	TreeLines      string `json:"tree_lines" yaml:"tree_lines"`
	LayerSeparator string `json:"layer_separator" yaml:"layer_separator"`
}

// DefaultTheme returns the built-in color scheme.
func DefaultTheme() Theme {
	return Theme{
		Directory:      "#7daea3",
		Symlink:        "#89b482",
		Executable:     "#a9b665",
		Hardlink:       "#d3869b",
		Permissions:    "#928374",
		Ownership:      "#7c6f64",
		TreeLines:      "#665c54",
		LayerSeparator: "#d8a657",
	}
}

// ThemeFromJSON overlays an inline JSON document over the default theme.
// Unknown keys are rejected so typos do not pass silently.
func ThemeFromJSON(doc string) (Theme, error) {
	theme := DefaultTheme()

	dec := json.NewDecoder(strings.NewReader(doc))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&theme); err != nil {
		return Theme{}, fmt.Errorf("invalid theme JSON: %v", err)
	}

	if err := theme.validate(); err != nil {
		return Theme{}, err
	}
	return theme, nil
}

// LoadThemeFile overlays a YAML theme file over the default theme.
func LoadThemeFile(path string) (Theme, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Theme{}, fmt.Errorf("reading theme file: %v", err)
	}

	theme := DefaultTheme()
	if err := yaml.UnmarshalStrict(data, &theme); err != nil {
		return Theme{}, fmt.Errorf("invalid theme file %s: %v", path, err)
	}

	if err := theme.validate(); err != nil {
		return Theme{}, err
	}
	return theme, nil
}

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

func (t Theme) validate() error {
	fields := map[string]string{
		"directory":       t.Directory,
		"symlink":         t.Symlink,
		"executable":      t.Executable,
		"hardlink":        t.Hardlink,
		"permissions":     t.Permissions,
		"ownership":       t.Ownership,
		"tree_lines":      t.TreeLines,
		"layer_separator": t.LayerSeparator,
	}
	for name, value := range fields {
		if !hexColor.MatchString(value) {
			return fmt.Errorf("theme color %s: %q is not a #rrggbb value", name, value)
		}
	}
	return nil
}
