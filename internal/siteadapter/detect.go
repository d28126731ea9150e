package siteadapter

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Elements that only render for an authenticated member.
const loggedInSelector = `a[href*="logout"], a[data-url*="logout"], a[onclick*="logout"], a[lay-on*="logout"],` +
	` a[href*="mybonus"], a[href*="usercp"], a[lay-href*="usercp"],` +
	` form[action*="logout"], div[class="user-info-side"], a#myitem`

var (
	challengeTitles    = []string{"just a moment...", "ddos-guard"}
	challengeSelectors = `#cf-challenge-running, .ray_id, .attack-box, #cf-please-wait, #challenge-spinner,` +
		` #trk_jschal_js, #turnstile-wrapper, #challenge-form, #cf-browser-verification`
	challengeMarkers = []string{"cf-browser-verification", "cf_chl_opt", "challenge-platform", "Checking your browser"}
)

// PageState is what the generic adapter needs to know about a fetched page.
type PageState struct {
	LoggedIn  bool
	Challenge bool
}

// Inspect parses html once and reports the login and anti-bot signals. A page
// with a password field is never considered logged in.
func Inspect(html string) PageState {
	if strings.TrimSpace(html) == "" {
		return PageState{}
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return PageState{Challenge: markerChallenge(html)}
	}
	st := PageState{Challenge: underChallenge(doc, html)}
	if doc.Find(`input[type="password"]`).Length() > 0 {
		return st
	}
	st.LoggedIn = doc.Find(loggedInSelector).Length() > 0
	return st
}

func underChallenge(doc *goquery.Document, html string) bool {
	title := strings.ToLower(strings.TrimSpace(doc.Find("title").First().Text()))
	for _, t := range challengeTitles {
		if title == t {
			return true
		}
	}
	if doc.Find(challengeSelectors).Length() > 0 {
		return true
	}
	return markerChallenge(html)
}

func markerChallenge(html string) bool {
	for _, m := range challengeMarkers {
		if strings.Contains(html, m) {
			return true
		}
	}
	return false
}
