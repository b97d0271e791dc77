package extractor

import (
	"bytes"
	"net/http"

	"github.com/corpuscore/acquire/internal/models"
)

// classification pairs the terminal URLStatus and optional BlockReason
// assigned to one outcome of the cascade.
type classification struct {
	Status models.URLStatus
	Reason models.BlockReason
}

// paywallBodyMarkers and antiBotBodyMarkers are the body substrings
// spec.md §4.3's taxonomy table names verbatim for splitting a 403.
var paywallBodyMarkers = [][]byte{[]byte("subscribe"), []byte("sign in")}
var antiBotBodyMarkers = [][]byte{[]byte("captcha")}

// antiBotHeaders are response headers whose presence indicates an
// anti-bot layer rather than a paywall, e.g. Cloudflare's cf-ray.
var antiBotHeaders = []string{"Cf-Ray", "X-Sucuri-Id"}

// classifyHTTPStatus implements spec.md §4.3's failure taxonomy table
// for the fetch stage. body and headers are the already-fetched 403
// response, used to split that single status code into the two
// outcomes the table distinguishes; both may be nil/empty for any
// other status.
func classifyHTTPStatus(code int, body []byte, headers http.Header) classification {
	switch {
	case code == http.StatusTooManyRequests:
		return classification{models.StatusErrorNetwork, models.BlockReasonRateLimited}
	case code == http.StatusForbidden:
		return classify403(body, headers)
	case code == http.StatusNotFound || code == http.StatusGone:
		return classification{models.StatusDead, models.BlockReasonDeleted}
	case code >= 500:
		return classification{models.StatusErrorNetwork, models.BlockReasonTransport}
	case code >= 400:
		return classification{models.StatusErrorNetwork, models.BlockReasonTransport}
	default:
		return classification{models.StatusSuccess, models.BlockReasonNone}
	}
}

// classify403 splits an HTTP 403 into paywall_suspected/paywall (a
// login-redirect or "subscribe"/"sign in" marker in the body) or
// error_network/bot_detection (an anti-bot header like cf-ray, or a
// CAPTCHA marker in the body), per spec.md §4.3. An anti-bot signal
// takes priority, since a CAPTCHA page can itself contain "sign in".
func classify403(body []byte, headers http.Header) classification {
	for _, h := range antiBotHeaders {
		if headers != nil && headers.Get(h) != "" {
			return classification{models.StatusErrorNetwork, models.BlockReasonBotDetection}
		}
	}
	lower := bytes.ToLower(body)
	for _, marker := range antiBotBodyMarkers {
		if bytes.Contains(lower, marker) {
			return classification{models.StatusErrorNetwork, models.BlockReasonBotDetection}
		}
	}
	for _, marker := range paywallBodyMarkers {
		if bytes.Contains(lower, marker) {
			return classification{models.StatusPaywallSuspected, models.BlockReasonPaywall}
		}
	}
	return classification{models.StatusPaywallSuspected, models.BlockReasonPaywall}
}

// classifyShortBody implements the "short, JS-shell-looking page" branch
// of the taxonomy: a 200 response whose extracted text falls under the
// configured floor is treated as either a soft paywall or a JS-rendered
// shell the secondary extractor also could not read, distinguished by
// the presence of a paywall marker in the raw HTML.
func classifyShortBody(hasPaywallMarker bool) classification {
	if hasPaywallMarker {
		return classification{models.StatusPaywallSuspected, models.BlockReasonSoftPaywall}
	}
	return classification{models.StatusErrorParse, models.BlockReasonUnknownParse}
}

// classifyNetworkError covers dial/timeout/TLS failures that never
// produced an HTTP response at all.
func classifyNetworkError() classification {
	return classification{models.StatusErrorNetwork, models.BlockReasonTransport}
}
