package importer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyChannel(t *testing.T) {
	tests := []struct {
		name        string
		referrer    string
		querystring string
		hostname    string
		want        string
	}{
		{
			name: "no referrer and no params is direct",
			want: ChannelDirect,
		},
		{
			name:     "self referral is internal",
			referrer: "https://example.com/",
			hostname: "example.com",
			want:     ChannelInternal,
		},
		{
			name:     "self referral with www prefix is internal",
			referrer: "https://www.example.com/pricing",
			hostname: "example.com",
			want:     ChannelInternal,
		},
		{
			name:        "google cpc is paid search",
			querystring: "?utm_source=google&utm_medium=cpc",
			want:        ChannelPaidSearch,
		},
		{
			name:        "social medium without source is organic social",
			querystring: "?utm_medium=social",
			want:        ChannelSocial,
		},
		{
			name:     "unknown external referrer is referral",
			referrer: "https://other.com/",
			want:     ChannelReferral,
		},
		{
			name:        "mobile app source wins over everything",
			referrer:    "https://google.com/",
			querystring: "?utm_source=com.slack&utm_medium=cpc",
			want:        ChannelProductivity,
		},
		{
			name:        "cross-network campaign",
			querystring: "?utm_campaign=cross-network&utm_source=google",
			want:        ChannelCrossNetwork,
		},
		{
			name:        "explicit direct source",
			querystring: "?utm_source=(direct)",
			want:        ChannelDirect,
		},
		{
			name:        "click id alone is paid unknown",
			querystring: "?gclid=abc123",
			want:        ChannelPaidUnknown,
		},
		{
			name:        "click id with search referrer is paid search",
			referrer:    "https://www.google.com/",
			querystring: "?gclid=abc123",
			want:        ChannelPaidSearch,
		},
		{
			name:        "gad_source marks paid",
			referrer:    "https://youtube.com/",
			querystring: "?gad_source=1",
			want:        ChannelPaidVideo,
		},
		{
			name:        "paid social via medium pattern",
			referrer:    "https://facebook.com/",
			querystring: "?utm_medium=paid-social",
			want:        ChannelPaidSocial,
		},
		{
			name:        "paid signal with display medium and unknown source",
			querystring: "?utm_source=adnetwork&utm_medium=cpm",
			want:        ChannelDisplay,
		},
		{
			name:     "search engine referrer without params is organic search",
			referrer: "https://www.bing.com/search",
			want:     ChannelSearch,
		},
		{
			name:     "subdomain falls back to registrable domain",
			referrer: "https://old.reddit.com/r/golang",
			want:     ChannelSocial,
		},
		{
			name:        "newsletter medium maps to email",
			querystring: "?utm_medium=newsletter",
			want:        ChannelEmail,
		},
		{
			name:        "affiliate medium",
			querystring: "?utm_source=partner&utm_medium=affiliate",
			want:        ChannelAffiliate,
		},
		{
			name:        "push medium",
			querystring: "?utm_medium=notification",
			want:        ChannelPush,
		},
		{
			name:        "campaign keyword fallback",
			querystring: "?utm_medium=partnership&utm_campaign=summer_video_launch",
			want:        ChannelVideo,
		},
		{
			name:        "unmatched params with external referrer fall back to referral",
			referrer:    "https://partner.example.org/",
			querystring: "?utm_term=shoes",
			want:        ChannelReferral,
		},
		{
			name:        "unmatched params without referrer are unknown",
			querystring: "?utm_source=mystery&utm_medium=mystery",
			want:        ChannelUnknown,
		},
		{
			name:        "querystring without leading question mark",
			querystring: "utm_source=google&utm_medium=cpc",
			want:        ChannelPaidSearch,
		},
		{
			name:        "malformed querystring fails soft",
			querystring: "?utm_source=google&%zz=1&utm_medium=organic",
			hostname:    "example.com",
			want:        ChannelSearch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyChannel(tt.referrer, tt.querystring, tt.hostname)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDomainOf(t *testing.T) {
	assert.Equal(t, "example.com", domainOf("https://www.example.com/path?q=1"))
	assert.Equal(t, "example.com", domainOf("example.com"))
	assert.Equal(t, "", domainOf(""))
	assert.Equal(t, "", domainOf("not a url/with spaces"))
}

func TestRegistrableDomain(t *testing.T) {
	assert.Equal(t, "reddit.com", registrableDomain("blog.reddit.com"))
	assert.Equal(t, "reddit.com", registrableDomain("reddit.com"))
	assert.Equal(t, "localhost", registrableDomain("localhost"))
}
