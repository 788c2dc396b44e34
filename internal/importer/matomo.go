package importer

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// matomoMapper maps one Matomo visit export row to N canonical events.
//
// A Matomo row is visit-grained: the ordered page actions of the visit are
// flattened into an indexed actionDetails_{n}_{field} column family. Each
// action with a URL and timestamp becomes its own canonical event; actions
// missing either are skipped without failing the visit. Matomo has no native
// session id, so one is synthesized from the visit id and the first action
// timestamp.
type matomoMapper struct{}

func init() {
	registerMapper(matomoMapper{})
}

var matomoSchema = mustLoadSchema("matomo.json")

func (matomoMapper) Platform() Platform {
	return PlatformMatomo
}

func (matomoMapper) EventTimestamp(record RawRecord) (string, bool) {
	// The visit's primary timestamp is its first action's timestamp.
	raw := strings.TrimSpace(record["actionDetails_0_timestamp"])
	if raw == "" {
		return "", false
	}

	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return "", false
	}

	return time.Unix(unix, 0).UTC().Format(TimestampFormat), true
}

func (m matomoMapper) Transform(records []RawRecord, siteID, importID string, onError RowErrorFunc) []CanonicalEvent {
	var events []CanonicalEvent

	for i, record := range records {
		visitEvents, err := m.transformVisit(record, siteID, importID)
		if err != nil {
			if onError != nil {
				onError(i, err.Error())
			}

			continue
		}

		events = append(events, visitEvents...)
	}

	return events
}

func (m matomoMapper) transformVisit(record RawRecord, siteID, importID string) ([]CanonicalEvent, error) {
	if message := validateRecord(matomoSchema, record); message != "" {
		return nil, fmt.Errorf("%s", message)
	}

	firstTimestamp, ok := m.EventTimestamp(record)
	if !ok {
		return nil, fmt.Errorf("visit %s has no usable action timestamp", record["idVisit"])
	}

	sessionID := record["idVisit"] + "-" + strings.TrimSpace(record["actionDetails_0_timestamp"])

	lat := parseFloat(record["latitude"])
	lon := parseFloat(record["longitude"])
	width, height := splitResolution(record["resolution"])

	// Campaign parameters synthesized from Matomo's campaign fields; merged
	// into each action URL's own querystring below.
	campaignParams := map[string]string{
		"utm_campaign": firstNonEmpty(record["campaignName"], campaignReferrerName(record)),
		"utm_source":   record["campaignSource"],
		"utm_medium":   record["campaignMedium"],
		"utm_term":     record["campaignKeyword"],
	}

	base := CanonicalEvent{
		SiteID:                 siteID,
		ImportID:               importID,
		SessionID:              sessionID,
		UserID:                 record["userId"],
		Timestamp:              firstTimestamp,
		Browser:                NormalizeBrowser(record["browserName"]),
		BrowserVersion:         record["browserVersion"],
		OperatingSystem:        NormalizeOS(record["operatingSystemName"]),
		OperatingSystemVersion: record["operatingSystemVersion"],
		Language:               record["languageCode"],
		Country:                strings.ToUpper(record["countryCode"]),
		Region:                 record["regionName"],
		City:                   record["city"],
		Lat:                    lat,
		Lon:                    lon,
		ScreenWidth:            width,
		ScreenHeight:           height,
		DeviceType:             NormalizeDeviceType(record["deviceType"]),
		Props:                  map[string]string{},
	}

	var events []CanonicalEvent

	for n := 0; ; n++ {
		prefix := fmt.Sprintf("actionDetails_%d_", n)
		if !hasActionFields(record, prefix) {
			break
		}

		event, ok := buildMatomoAction(record, prefix, base, campaignParams)
		if !ok {
			// Sub-actions missing a URL or timestamp contribute nothing.
			continue
		}

		events = append(events, event)
	}

	return events, nil
}

// hasActionFields reports whether any actionDetails field exists for the
// given index prefix, bounding the expansion loop.
func hasActionFields(record RawRecord, prefix string) bool {
	for _, field := range []string{"url", "timestamp", "pageTitle", "type"} {
		if _, ok := record[prefix+field]; ok {
			return true
		}
	}

	return false
}

func buildMatomoAction(record RawRecord, prefix string, base CanonicalEvent, campaignParams map[string]string) (CanonicalEvent, bool) {
	rawURL := strings.TrimSpace(record[prefix+"url"])
	rawTimestamp := strings.TrimSpace(record[prefix+"timestamp"])

	if rawURL == "" || rawTimestamp == "" {
		return CanonicalEvent{}, false
	}

	unix, err := strconv.ParseInt(rawTimestamp, 10, 64)
	if err != nil {
		return CanonicalEvent{}, false
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return CanonicalEvent{}, false
	}

	hostname := strings.ToLower(stripWWW(parsed.Host))

	querystring, params := mergeQueryParams(rawQuerystring(parsed), campaignParams)

	// Classify on the raw referrer so self-referrals land on Internal, then
	// collapse them to an empty stored referrer.
	referrer := strings.TrimSpace(record["referrerUrl"])
	channel := ClassifyChannel(referrer, querystring, hostname)

	if referrer != "" && domainOf(referrer) == hostname {
		referrer = ""
	}

	event := base
	event.Timestamp = time.Unix(unix, 0).UTC().Format(TimestampFormat)
	event.Hostname = hostname
	event.Pathname = parsed.Path
	event.Querystring = querystring
	event.URLParameters = params
	event.PageTitle = record[prefix+"pageTitle"]
	event.Referrer = referrer
	event.Channel = channel

	switch record[prefix+"type"] {
	case "event":
		event.Type = EventTypeCustom
		event.EventName = record[prefix+"eventName"]
	default:
		event.Type = EventTypePageview
	}

	return event, true
}

func rawQuerystring(u *url.URL) string {
	if u.RawQuery == "" {
		return ""
	}

	return "?" + u.RawQuery
}

// campaignReferrerName surfaces Matomo's campaign name when the visit's
// referrer type is a campaign; referrerName is overloaded otherwise.
func campaignReferrerName(record RawRecord) string {
	if record["referrerType"] == "campaign" {
		return record["referrerName"]
	}

	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}

	return ""
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}

	return f
}
