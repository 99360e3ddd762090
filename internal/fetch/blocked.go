package fetch

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DetectBlocked looks for the captcha and robot-check interstitials served
// by the supported sites. It returns a short reason when one is found.
func DetectBlocked(body []byte) (string, bool) {
	if len(body) == 0 {
		return "", false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", false
	}

	title := strings.ToLower(strings.TrimSpace(doc.Find("title").First().Text()))
	switch {
	case strings.Contains(title, "robot check"):
		return "robot check title", true
	case strings.Contains(title, "robot or human"):
		return "robot or human title", true
	}

	if doc.Find(`form[action*="validateCaptcha"]`).Length() > 0 {
		return "captcha form", true
	}
	if doc.Find(`#px-captcha, [id^="px-captcha"]`).Length() > 0 {
		return "press-and-hold captcha", true
	}
	if doc.Find(`iframe[src*="captcha"], div.g-recaptcha`).Length() > 0 {
		return "captcha widget", true
	}
	return "", false
}
