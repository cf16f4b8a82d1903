package strategy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Overrides is a YAML document mapping strategy name to a parameter
// override bag, e.g.:
//
//	sma_crossover:
//	  fast_period: 8
//	  slow_period: 21
//
// It is the file-based counterpart to the HTTP PUT
// /api/strategies/:name/params surface: an operator can ship tuned
// defaults alongside a deployment instead of calling the endpoint
// once per restart.
type Overrides map[string]Parameters

// LoadOverrides reads a YAML overrides file. A missing file is not an
// error — most deployments run with every strategy's compiled-in
// defaults.
func LoadOverrides(path string) (Overrides, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("strategy: reading overrides file %q: %w", path, err)
	}
	var out Overrides
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("strategy: parsing overrides file %q: %w", path, err)
	}
	return out, nil
}

// Apply pushes every override bag onto its matching registered
// strategy via UpdateParameters, which ignores (with a logged warning)
// keys the strategy's own schema doesn't recognize. Unknown strategy names are
// logged and skipped rather than failing startup.
func (o Overrides) Apply() {
	for name, params := range o {
		s, err := GetStrategy(name)
		if err != nil {
			log.Warnf("strategy: overrides file names unknown strategy %q, skipping", name)
			continue
		}
		updater, ok := s.(ParameterUpdater)
		if !ok {
			log.Warnf("strategy: %q does not support parameter updates, skipping overrides", name)
			continue
		}
		updater.UpdateParameters(params)
	}
}
