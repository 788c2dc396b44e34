package importer

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// umamiMapper maps one Umami CSV export row to one canonical event.
//
// Umami exports are already event-grained (one row per pageview or custom
// event) and carry timestamps as "yyyy-MM-dd HH:mm:ss" UTC, so the transform
// is mostly vocabulary normalization plus channel derivation.
type umamiMapper struct{}

func init() {
	registerMapper(umamiMapper{})
}

var umamiSchema = mustLoadSchema("umami.json")

func (umamiMapper) Platform() Platform {
	return PlatformUmami
}

// umamiTimestampFormats are the timestamp shapes seen in Umami exports,
// tried in order.
var umamiTimestampFormats = []string{
	TimestampFormat,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999",
}

func (umamiMapper) EventTimestamp(record RawRecord) (string, bool) {
	raw := strings.TrimSpace(record["created_at"])
	if raw == "" {
		return "", false
	}

	for _, format := range umamiTimestampFormats {
		if ts, err := time.ParseInLocation(format, raw, time.UTC); err == nil {
			return ts.UTC().Format(TimestampFormat), true
		}
	}

	return "", false
}

func (m umamiMapper) Transform(records []RawRecord, siteID, importID string, onError RowErrorFunc) []CanonicalEvent {
	events := make([]CanonicalEvent, 0, len(records))

	for i, record := range records {
		event, err := m.transformRow(record, siteID, importID)
		if err != nil {
			if onError != nil {
				onError(i, err.Error())
			}

			continue
		}

		events = append(events, event)
	}

	return events
}

func (m umamiMapper) transformRow(record RawRecord, siteID, importID string) (CanonicalEvent, error) {
	if message := validateRecord(umamiSchema, record); message != "" {
		return CanonicalEvent{}, fmt.Errorf("%s", message)
	}

	timestamp, ok := m.EventTimestamp(record)
	if !ok {
		return CanonicalEvent{}, fmt.Errorf("unparsable created_at %q", record["created_at"])
	}

	hostname := strings.ToLower(strings.TrimSpace(record["hostname"]))
	querystring := record["url_query"]

	// Classification sees the raw referrer so self-referrals can land on the
	// Internal channel; the stored referrer field collapses them to empty.
	rawReferrer := ""
	referrer := ""

	if domain := strings.ToLower(strings.TrimSpace(record["referrer_domain"])); domain != "" {
		rawReferrer = "https://" + domain + record["referrer_path"]
		if stripWWW(domain) != stripWWW(hostname) {
			referrer = rawReferrer
		}
	}

	width, height := splitResolution(record["screen"])

	eventType := EventTypePageview
	eventName := ""

	// Umami event_type: 1 = pageview, 2 = custom event.
	if record["event_type"] == "2" || strings.TrimSpace(record["event_name"]) != "" {
		eventType = EventTypeCustom
		eventName = strings.TrimSpace(record["event_name"])
	}

	return CanonicalEvent{
		SiteID:          siteID,
		ImportID:        importID,
		SessionID:       record["session_id"],
		UserID:          record["distinct_id"],
		Timestamp:       timestamp,
		Hostname:        hostname,
		Pathname:        record["url_path"],
		Querystring:     querystring,
		URLParameters:   parseQueryParams(querystring),
		PageTitle:       record["page_title"],
		Referrer:        referrer,
		Channel:         ClassifyChannel(rawReferrer, querystring, hostname),
		Browser:         NormalizeBrowser(record["browser"]),
		OperatingSystem: NormalizeOS(record["os"]),
		Language:        record["language"],
		Country:         strings.ToUpper(record["country"]),
		Region:          record["subdivision1"],
		City:            record["city"],
		ScreenWidth:     width,
		ScreenHeight:    height,
		DeviceType:      NormalizeDeviceType(record["device"]),
		Type:            eventType,
		EventName:       eventName,
		Props:           map[string]string{},
	}, nil
}

// splitResolution parses a "WxH" resolution string. Malformed input yields
// zero dimensions rather than an error; screen size is not a required field.
func splitResolution(resolution string) (int, int) {
	parts := strings.SplitN(strings.TrimSpace(resolution), "x", 2)
	if len(parts) != 2 {
		return 0, 0
	}

	width, werr := strconv.Atoi(parts[0])
	height, herr := strconv.Atoi(parts[1])

	if werr != nil || herr != nil {
		return 0, 0
	}

	return width, height
}

// mergeQueryParams merges synthesized campaign parameters into an existing
// querystring, keeping existing values on key collisions, and returns the
// merged querystring plus its lower-cased parameter map.
func mergeQueryParams(querystring string, extra map[string]string) (string, map[string]string) {
	params := parseQueryParams(querystring)

	for key, value := range extra {
		if value == "" {
			continue
		}

		lower := strings.ToLower(key)
		if _, exists := params[lower]; !exists {
			params[lower] = value
		}
	}

	if len(params) == 0 {
		return "", params
	}

	values := url.Values{}
	for key, value := range params {
		values.Set(key, value)
	}

	return "?" + values.Encode(), params
}
