package loader

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadDefaultsFile reads a YAML file mapping arg name to its override
// value, for the CLI's -defaults flag: a way to set substitution-argument
// values without editing the launch file or passing them on the command
// line one at a time. Values are read as strings; a YAML document with
// non-string scalars (e.g. `rate: 10`) still works since every value is
// re-rendered through fmt.Sprintf, matching how an <arg value="10"/>
// attribute is itself just text before IsTruthy/strconv coerce it later.
func LoadDefaultsFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loader: reading defaults file %s: %w", path, err)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("loader: parsing defaults file %s: %w", path, err)
	}

	defaults := make(map[string]string, len(raw))
	for k, v := range raw {
		defaults[k] = fmt.Sprintf("%v", v)
	}
	return defaults, nil
}
