// Package upstream holds what the dispatcher and the prober share when
// talking to the postal tracking endpoints.
package upstream

import "net/http"

const (
	UserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	Accept         = "application/json, text/plain, */*"
	AcceptLanguage = "ar-EG,ar;q=0.9,en-US;q=0.8,en;q=0.7"
)

// SetBrowserHeaders makes the request look like it comes from a browser.
// The upstream rejects bare client defaults.
func SetBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", Accept)
	req.Header.Set("Accept-Language", AcceptLanguage)
}
