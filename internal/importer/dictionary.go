package importer

import (
	"errors"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pagesift/pagesift/internal/config"
)

// Dictionary holds per-platform vocabulary data loaded from a YAML file:
// alias tables and category lists that extend the built-in defaults. New
// source platforms contribute dictionary entries, not parse-stage branches.
type Dictionary struct {
	//nolint:tagliatelle // snake_case is intentional for YAML config files
	BrowserAliases map[string]string `yaml:"browser_aliases"`
	//nolint:tagliatelle
	OSAliases map[string]string `yaml:"os_aliases"`
	//nolint:tagliatelle
	DeviceTypes map[string]string `yaml:"device_types"`
	//nolint:tagliatelle
	SourceCategories map[string]string `yaml:"source_categories"`
	//nolint:tagliatelle
	MobileAppChannels map[string]string `yaml:"mobile_app_channels"`
}

// DefaultDictionaryPath is the default location of the import dictionary file.
const DefaultDictionaryPath = ".pagesift-import.yaml"

// DictionaryPathEnvVar overrides the dictionary file location.
const DictionaryPathEnvVar = "PAGESIFT_IMPORT_DICTIONARY"

// LoadDictionary loads vocabulary extensions from a YAML file.
//
// Behavior:
//   - Returns an empty dictionary (not an error) if the file doesn't exist -
//     extensions are optional, the built-in defaults always apply
//   - Returns an empty dictionary and logs a warning on invalid YAML
//   - Returns the populated dictionary on success
func LoadDictionary(path string) (*Dictionary, error) {
	dict := &Dictionary{}

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("Import dictionary not found, using built-in vocabulary",
				slog.String("path", path))

			return dict, nil
		}

		slog.Warn("Failed to read import dictionary, using built-in vocabulary",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return dict, nil
	}

	if len(data) == 0 {
		return dict, nil
	}

	if err := yaml.Unmarshal(data, dict); err != nil {
		slog.Warn("Failed to parse import dictionary, using built-in vocabulary",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return &Dictionary{}, nil
	}

	return dict, nil
}

// LoadDictionaryFromEnv loads the dictionary from the path in
// PAGESIFT_IMPORT_DICTIONARY, falling back to DefaultDictionaryPath.
func LoadDictionaryFromEnv() (*Dictionary, error) {
	return LoadDictionary(config.GetEnvStr(DictionaryPathEnvVar, DefaultDictionaryPath))
}

// Apply merges the dictionary into the package vocabulary tables. Called
// once at startup, before any mapper runs.
func (d *Dictionary) Apply() {
	for alias, canonical := range d.BrowserAliases {
		browserAliases[alias] = canonical
	}

	for alias, canonical := range d.OSAliases {
		osAliases[alias] = canonical
	}

	for term, canonical := range d.DeviceTypes {
		deviceTypes[term] = canonical
	}

	for source, category := range d.SourceCategories {
		sourceCategories[source] = sourceCategory(category)
	}

	for appID, channel := range d.MobileAppChannels {
		mobileAppChannels[appID] = channel
	}
}
