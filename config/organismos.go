package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// defaultOrganismos are the public-health organization codes the tool
// was built to track.
var defaultOrganismos = []string{
	"1675210",
	"1820906",
	"1820922",
	"1723291",
	"1622793",
	"1593366",
	"1722523",
	"1593370",
	"1675231",
	"1890634",
	"1890637",
	"1890640",
	"1890619",
	"1717135",
	"1820918",
	"1820915",
	"1675218",
	"1890597",
	"1622818",
	"1890653",
	"1717137",
	"1975701",
	"1820914",
	"1820911",
	"1890644",
	"1890625",
	"1890618",
	"1890635",
	"1959810",
	"1959820",
	"1959828",
	"1959831",
	"1959829",
	"1959833",
	"1972213",
	"1959834",
	"1959832",
	"1959836",
	"7271",
}

// DefaultOrganismos returns a copy of the built-in organization codes.
func DefaultOrganismos() []string {
	codes := make([]string, len(defaultOrganismos))
	copy(codes, defaultOrganismos)
	return codes
}

// LoadOrganismosFile reads organization codes from a YAML file. The file
// may be a bare sequence of codes or a mapping with an "organismos" key.
func LoadOrganismosFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading organismos file: %w", err)
	}

	var list []string
	if err := yaml.Unmarshal(data, &list); err == nil {
		if codes := cleanCodes(list); len(codes) > 0 {
			return codes, nil
		}
	}

	var doc struct {
		Organismos []string `yaml:"organismos"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing organismos file %s: %w", path, err)
	}
	codes := cleanCodes(doc.Organismos)
	if len(codes) == 0 {
		return nil, fmt.Errorf("organismos file %s contains no codes", path)
	}
	return codes, nil
}

// SplitOrganismos parses a comma-separated list of codes from a flag.
func SplitOrganismos(value string) []string {
	return cleanCodes(strings.Split(value, ","))
}

// cleanCodes trims whitespace, drops empties and deduplicates while
// preserving first-seen order.
func cleanCodes(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	codes := make([]string, 0, len(raw))
	for _, code := range raw {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	return codes
}
