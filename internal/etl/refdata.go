package etl

import (
	_ "embed"

	"gopkg.in/yaml.v3"
)

//go:embed refdata/states.yaml
var statesYAML []byte

//go:embed refdata/macrosectors.yaml
var macroSectorsYAML []byte

// stateNames maps the 50 state codes plus DC to their full names; codes
// outside this table are dropped during load.
var stateNames = mustLoadRefMap(statesYAML)

// macroSectors maps 2-digit NAICS prefixes to macro-sector labels.
var macroSectors = mustLoadRefMap(macroSectorsYAML)

func mustLoadRefMap(data []byte) map[string]string {
	m := make(map[string]string)
	if err := yaml.Unmarshal(data, &m); err != nil {
		panic("etl: bad embedded reference data: " + err.Error())
	}
	return m
}

// StateName resolves a two-letter state code against the embedded table.
func StateName(code string) (string, bool) {
	name, ok := stateNames[code]
	return name, ok
}

// MacroSector maps a NAICS code to its macro-sector via the 2-digit
// prefix, falling back to "Other".
func MacroSector(naics string) string {
	if len(naics) < 2 {
		return "Other"
	}
	if macro, ok := macroSectors[naics[:2]]; ok {
		return macro
	}
	return "Other"
}
