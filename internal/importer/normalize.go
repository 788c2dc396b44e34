package importer

import (
	"regexp"
	"strings"
)

// trailingVersionPattern strips version suffixes from vendor vocabularies:
// "Chrome Mobile 119" -> "Chrome Mobile".
var trailingVersionPattern = regexp.MustCompile(`\s+[\d.]+$`)

// browserAliases maps lower-cased source-platform browser names to the
// canonical vocabulary. Extended at startup by dictionary files.
var browserAliases = map[string]string{
	"samsung browser":   "Samsung Internet",
	"samsung internet":  "Samsung Internet",
	"chrome mobile":     "Chrome",
	"chrome mobile ios": "Chrome",
	"mobile safari":     "Safari",
	"microsoft edge":    "Edge",
	"edge mobile":       "Edge",
	"firefox mobile":    "Firefox",
	"opera mobile":      "Opera",
	"opera mini":        "Opera",
	"uc browser":        "UC Browser",
	"yandex browser":    "Yandex",
	"internet explorer": "IE",
}

// osAliases maps lower-cased source-platform OS names to the canonical
// vocabulary.
var osAliases = map[string]string{
	"mac":           "macOS",
	"mac os":        "macOS",
	"mac os x":      "macOS",
	"os x":          "macOS",
	"gnu/linux":     "Linux",
	"ubuntu":        "Linux",
	"debian":        "Linux",
	"fedora":        "Linux",
	"chrome os":     "Chrome OS",
	"windows phone": "Windows",
}

// deviceTypes maps source-platform device terms to the canonical set
// (Mobile, Tablet, Desktop).
var deviceTypes = map[string]string{
	"smartphone":    "Mobile",
	"phablet":       "Mobile",
	"mobile":        "Mobile",
	"phone":         "Mobile",
	"feature phone": "Mobile",
	"tablet":        "Tablet",
	"desktop":       "Desktop",
	"laptop":        "Desktop",
	"tv":            "Desktop",
	"console":       "Desktop",
	"car browser":   "Desktop",
}

// NormalizeBrowser strips trailing version numbers and maps known aliases
// into the canonical browser vocabulary. Unknown names pass through with
// only the version stripped.
func NormalizeBrowser(name string) string {
	stripped := strings.TrimSpace(trailingVersionPattern.ReplaceAllString(name, ""))
	if stripped == "" {
		return ""
	}

	if canonical, ok := browserAliases[strings.ToLower(stripped)]; ok {
		return canonical
	}

	return stripped
}

// NormalizeOS strips trailing version numbers and maps known aliases into
// the canonical operating system vocabulary.
func NormalizeOS(name string) string {
	stripped := strings.TrimSpace(trailingVersionPattern.ReplaceAllString(name, ""))
	if stripped == "" {
		return ""
	}

	if canonical, ok := osAliases[strings.ToLower(stripped)]; ok {
		return canonical
	}

	return stripped
}

// NormalizeDeviceType maps source-platform device terms to the canonical
// Mobile/Tablet/Desktop set. Unknown terms pass through title-cased as-is.
func NormalizeDeviceType(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return ""
	}

	if canonical, ok := deviceTypes[strings.ToLower(trimmed)]; ok {
		return canonical
	}

	return trimmed
}
