package importer

import (
	"net/url"
	"regexp"
	"strings"
)

// Marketing channel names produced by ClassifyChannel.
const (
	ChannelDirect       = "Direct"
	ChannelInternal     = "Internal"
	ChannelCrossNetwork = "Cross-Network"
	ChannelPaidSearch   = "Paid Search"
	ChannelPaidSocial   = "Paid Social"
	ChannelPaidVideo    = "Paid Video"
	ChannelPaidShopping = "Paid Shopping"
	ChannelPaidUnknown  = "Paid Unknown"
	ChannelSearch       = "Organic Search"
	ChannelSocial       = "Organic Social"
	ChannelVideo        = "Organic Video"
	ChannelShopping     = "Organic Shopping"
	ChannelEmail        = "Email"
	ChannelSMS          = "SMS"
	ChannelNews         = "News"
	ChannelProductivity = "Productivity"
	ChannelAffiliate    = "Affiliate"
	ChannelReferral     = "Referral"
	ChannelDisplay      = "Display"
	ChannelAudio        = "Audio"
	ChannelPush         = "Push"
	ChannelInfluencer   = "Influencer"
	ChannelContent      = "Content"
	ChannelEvent        = "Event"
	ChannelUnknown      = "Unknown"
)

// sourceCategory buckets a traffic source (utm_source value or referring
// domain) into the vocabulary the cascade branches on.
type sourceCategory string

const (
	categoryNone         sourceCategory = ""
	categorySearch       sourceCategory = "search"
	categorySocial       sourceCategory = "social"
	categoryVideo        sourceCategory = "video"
	categoryShopping     sourceCategory = "shopping"
	categoryEmail        sourceCategory = "email"
	categorySMS          sourceCategory = "sms"
	categoryNews         sourceCategory = "news"
	categoryProductivity sourceCategory = "productivity"
)

// paidMediumPattern matches utm_medium values that indicate paid traffic
// (cpc, ppc, cpm, cpv, retargeting, paid-social, ...).
var paidMediumPattern = regexp.MustCompile(`^(.*cp.*|ppc|retargeting|paid.*)$`)

// clickIDParams are ad-platform click identifiers whose presence marks paid
// traffic even without a utm_medium.
var clickIDParams = []string{
	"gclid", "gclsrc", "wbraid", "gbraid", "dclid",
	"msclkid", "fbclid", "ttclid", "twclid", "li_fat_id", "epik", "qclid", "sccid", "irclickid",
}

// sourceCategories maps known utm_source values and referrer domains to a
// source category. Dictionary files may extend this at startup.
var sourceCategories = map[string]sourceCategory{
	// search engines
	"google": categorySearch, "bing": categorySearch, "yahoo": categorySearch,
	"duckduckgo": categorySearch, "baidu": categorySearch, "yandex": categorySearch,
	"ecosia": categorySearch, "brave": categorySearch, "qwant": categorySearch,
	"startpage": categorySearch, "naver": categorySearch, "seznam": categorySearch,
	"google.com": categorySearch, "bing.com": categorySearch, "search.yahoo.com": categorySearch,
	"duckduckgo.com": categorySearch, "baidu.com": categorySearch, "yandex.ru": categorySearch,
	"ecosia.org": categorySearch, "search.brave.com": categorySearch,

	// social networks
	"facebook": categorySocial, "instagram": categorySocial, "twitter": categorySocial,
	"x": categorySocial, "linkedin": categorySocial, "pinterest": categorySocial,
	"reddit": categorySocial, "tiktok": categorySocial, "threads": categorySocial,
	"mastodon": categorySocial, "bluesky": categorySocial, "snapchat": categorySocial,
	"quora": categorySocial, "discord": categorySocial, "telegram": categorySocial,
	"whatsapp": categorySocial, "wechat": categorySocial, "vk": categorySocial,
	"facebook.com": categorySocial, "m.facebook.com": categorySocial, "instagram.com": categorySocial,
	"twitter.com": categorySocial, "x.com": categorySocial, "t.co": categorySocial,
	"linkedin.com": categorySocial, "pinterest.com": categorySocial, "reddit.com": categorySocial,
	"old.reddit.com": categorySocial, "tiktok.com": categorySocial, "news.ycombinator.com": categorySocial,

	// video platforms
	"youtube": categoryVideo, "vimeo": categoryVideo, "twitch": categoryVideo,
	"dailymotion": categoryVideo, "wistia": categoryVideo,
	"youtube.com": categoryVideo, "m.youtube.com": categoryVideo, "youtu.be": categoryVideo,
	"vimeo.com": categoryVideo, "twitch.tv": categoryVideo,

	// shopping platforms
	"amazon": categoryShopping, "ebay": categoryShopping, "etsy": categoryShopping,
	"walmart": categoryShopping, "aliexpress": categoryShopping, "shopify": categoryShopping,
	"amazon.com": categoryShopping, "ebay.com": categoryShopping, "etsy.com": categoryShopping,

	// email providers
	"email": categoryEmail, "e-mail": categoryEmail, "newsletter": categoryEmail,
	"mailchimp": categoryEmail, "substack": categoryEmail, "mail.google.com": categoryEmail,

	// sms
	"sms": categorySMS, "mms": categorySMS,

	// news aggregators
	"news": categoryNews, "flipboard": categoryNews, "smartnews": categoryNews,
	"news.google.com": categoryNews, "flipboard.com": categoryNews,

	// productivity tools
	"notion": categoryProductivity, "slack": categoryProductivity, "teams": categoryProductivity,
	"asana": categoryProductivity, "trello": categoryProductivity, "monday": categoryProductivity,
	"notion.so": categoryProductivity, "slack.com": categoryProductivity,
	"teams.microsoft.com": categoryProductivity,
}

// mobileAppChannels maps known mobile app store/bundle identifiers appearing
// as utm_source to their category-specific channel.
var mobileAppChannels = map[string]string{
	"com.google.android.gm":                    ChannelEmail,
	"com.microsoft.office.outlook":             ChannelEmail,
	"com.slack":                                ChannelProductivity,
	"com.linkedin.android":                     ChannelSocial,
	"com.facebook.katana":                      ChannelSocial,
	"com.instagram.android":                    ChannelSocial,
	"com.twitter.android":                      ChannelSocial,
	"com.reddit.frontpage":                     ChannelSocial,
	"com.pinterest":                            ChannelSocial,
	"com.zhiliaoapp.musically":                 ChannelSocial,
	"com.google.android.youtube":               ChannelVideo,
	"com.amazon.mshop.android.shopping":        ChannelShopping,
	"com.google.android.apps.magazines":        ChannelNews,
	"flipboard.app":                            ChannelNews,
	"com.google.android.googlequicksearchbox": ChannelSearch,
}

// mediumChannels is the step-7 branch: utm_medium values with a dedicated
// channel when nothing stronger matched.
var mediumChannels = map[string]string{
	"affiliate":    ChannelAffiliate,
	"referral":     ChannelReferral,
	"app":          ChannelReferral,
	"link":         ChannelReferral,
	"display":      ChannelDisplay,
	"banner":       ChannelDisplay,
	"expandable":   ChannelDisplay,
	"interstitial": ChannelDisplay,
	"cpm":          ChannelDisplay,
	"audio":        ChannelAudio,
	"push":         ChannelPush,
	"mobile_push":  ChannelPush,
	"notification": ChannelPush,
	"influencer":   ChannelInfluencer,
	"content":      ChannelContent,
	"content-text": ChannelContent,
	"event":        ChannelEvent,
	"email":        ChannelEmail,
	"e-mail":       ChannelEmail,
	"e_mail":       ChannelEmail,
	"e mail":       ChannelEmail,
}

// organicChannels maps a source category to its organic channel.
var organicChannels = map[sourceCategory]string{
	categorySearch:       ChannelSearch,
	categorySocial:       ChannelSocial,
	categoryVideo:        ChannelVideo,
	categoryShopping:     ChannelShopping,
	categoryEmail:        ChannelEmail,
	categorySMS:          ChannelSMS,
	categoryNews:         ChannelNews,
	categoryProductivity: ChannelProductivity,
}

// paidChannels maps a source category to its paid channel.
var paidChannels = map[sourceCategory]string{
	categorySearch:   ChannelPaidSearch,
	categorySocial:   ChannelPaidSocial,
	categoryVideo:    ChannelPaidVideo,
	categoryShopping: ChannelPaidShopping,
}

// ClassifyChannel derives the marketing channel for a page visit from its
// referrer URL, its querystring (with or without leading "?") and the
// current site's hostname.
//
// The checks form a deliberately-ordered cascade, not a lookup table;
// downstream reporting depends on the exact precedence, so the order below
// must not be rearranged.
func ClassifyChannel(referrer, querystring, hostname string) string {
	params := parseQueryParams(querystring)

	source := strings.ToLower(params["utm_source"])
	medium := strings.ToLower(params["utm_medium"])
	campaign := strings.ToLower(params["utm_campaign"])

	referrerDomain := domainOf(referrer)
	siteDomain := stripWWW(strings.ToLower(hostname))
	selfReferral := referrerDomain != "" && referrerDomain == siteDomain && siteDomain != ""

	// (1) mobile-app utm_source with a known app category
	if channel, ok := mobileAppChannels[source]; ok {
		return channel
	}

	hasUTM := source != "" || medium != "" || campaign != ""
	paidSignal := hasClickID(params) || params["gad_source"] != "" || paidMediumPattern.MatchString(medium)

	// (2) no referrer and no campaign signals at all
	if !hasUTM && !hasClickID(params) && params["gad_source"] == "" {
		if selfReferral {
			return ChannelInternal
		}

		if referrerDomain == "" {
			return ChannelDirect
		}
	}

	// (3) Google cross-network campaigns
	if campaign == "cross-network" {
		return ChannelCrossNetwork
	}

	// (4) self or empty referrer with no medium and a direct-ish source
	if (referrerDomain == "" || selfReferral) && medium == "" &&
		(source == "" || source == "direct" || source == "(direct)") &&
		!hasClickID(params) && params["gad_source"] == "" {
		return ChannelDirect
	}

	sourceCat := categorize(source, referrerDomain)
	if sourceCat == categoryNone {
		sourceCat = categoryFromMedium(medium)
	}

	// (5) paid traffic
	if paidSignal {
		if channel, ok := paidChannels[sourceCat]; ok {
			return channel
		}

		switch medium {
		case "display", "banner", "cpm":
			return ChannelDisplay
		}

		return ChannelPaidUnknown
	}

	// (6) organic source category
	if channel, ok := organicChannels[sourceCat]; ok {
		return channel
	}

	// (7) medium with a dedicated channel
	if channel, ok := mediumChannels[medium]; ok {
		return channel
	}

	// (8) campaign-name keywords as a last resort
	if channel := channelFromCampaign(campaign); channel != "" {
		return channel
	}

	// (9) any other external referrer
	if referrerDomain != "" && !selfReferral {
		return ChannelReferral
	}

	// (10) nothing matched
	return ChannelUnknown
}

func hasClickID(params map[string]string) bool {
	for _, key := range clickIDParams {
		if params[key] != "" {
			return true
		}
	}

	return false
}

// categorize buckets the utm_source first, then the referring domain.
func categorize(source, referrerDomain string) sourceCategory {
	if source != "" {
		if cat, ok := sourceCategories[source]; ok {
			return cat
		}
	}

	if referrerDomain != "" {
		if cat, ok := sourceCategories[referrerDomain]; ok {
			return cat
		}
		// Try the registrable part: "blog.reddit.com" -> "reddit.com"
		if cat, ok := sourceCategories[registrableDomain(referrerDomain)]; ok {
			return cat
		}
	}

	return categoryNone
}

// categoryFromMedium recognizes medium values that name a category outright
// (utm_medium=social, utm_medium=video, ...).
func categoryFromMedium(medium string) sourceCategory {
	switch medium {
	case "social", "social-network", "social-media", "sm", "social network", "social media":
		return categorySocial
	case "video":
		return categoryVideo
	case "shopping":
		return categoryShopping
	case "sms":
		return categorySMS
	case "newsletter":
		return categoryEmail
	default:
		return categoryNone
	}
}

func channelFromCampaign(campaign string) string {
	if campaign == "" {
		return ""
	}

	switch {
	case strings.Contains(campaign, "video"):
		return ChannelVideo
	case strings.Contains(campaign, "shop"):
		return ChannelShopping
	case strings.Contains(campaign, "influencer"), strings.Contains(campaign, "ambassador"):
		return ChannelInfluencer
	case strings.Contains(campaign, "event"):
		return ChannelEvent
	case strings.Contains(campaign, "social"):
		return ChannelSocial
	default:
		return ""
	}
}

// parseQueryParams parses a querystring (leading "?" optional) into a map
// with lower-cased keys. Malformed input yields whatever url.ParseQuery
// could salvage; classification fails soft, never hard.
func parseQueryParams(querystring string) map[string]string {
	trimmed := strings.TrimPrefix(querystring, "?")
	if trimmed == "" {
		return map[string]string{}
	}

	values, err := url.ParseQuery(trimmed)
	if err != nil && len(values) == 0 {
		return map[string]string{}
	}

	params := make(map[string]string, len(values))
	for key, vals := range values {
		if len(vals) > 0 {
			params[strings.ToLower(key)] = vals[0]
		}
	}

	return params
}

// domainOf extracts the lower-cased host of a referrer URL, stripping any
// leading "www.". Bare domains without a scheme are accepted.
func domainOf(referrer string) string {
	if referrer == "" {
		return ""
	}

	parsed, err := url.Parse(referrer)
	if err != nil {
		return ""
	}

	host := parsed.Host
	if host == "" && !strings.Contains(referrer, "/") {
		host = referrer
	}

	return stripWWW(strings.ToLower(host))
}

func stripWWW(host string) string {
	return strings.TrimPrefix(host, "www.")
}

// registrableDomain keeps the last two labels of a host: "blog.reddit.com"
// becomes "reddit.com". Good enough for the category tables above.
func registrableDomain(host string) string {
	parts := strings.Split(host, ".")
	if len(parts) <= 2 {
		return host
	}

	return strings.Join(parts[len(parts)-2:], ".")
}
