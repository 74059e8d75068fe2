package clients

import (
	"net/http"
	"strings"
	"time"

	"github.com/stellar/go-stellar-sdk/clients/horizonclient"
)

const appName = "datex"

// NewHorizonClient creates a Horizon client for request/response calls.
// The timeout bounds every request.
func NewHorizonClient(horizonURL string, timeout time.Duration) *horizonclient.Client {
	return &horizonclient.Client{
		HorizonURL: normalizeURL(horizonURL),
		HTTP:       &http.Client{Timeout: timeout},
		AppName:    appName,
	}
}

// NewHorizonStreamClient creates a Horizon client for long-lived event streams.
// It has no overall timeout, streams are bounded by their context.
func NewHorizonStreamClient(horizonURL string) *horizonclient.Client {
	return &horizonclient.Client{
		HorizonURL: normalizeURL(horizonURL),
		HTTP:       &http.Client{},
		AppName:    appName,
	}
}

func normalizeURL(u string) string {
	if !strings.HasSuffix(u, "/") {
		return u + "/"
	}
	return u
}
