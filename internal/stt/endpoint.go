package stt

import (
	"context"
	"net"
	"net/url"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
)

// PickEndpoint probes the local speech endpoint with a short TCP dial and
// falls back to the cloud URL when it is not reachable.
func PickEndpoint(ctx context.Context, localURL, cloudURL string, timeout time.Duration) string {
	if localURL == "" {
		return cloudURL
	}
	host, err := wsHostPort(localURL)
	if err != nil {
		goapp.Log.Warn().Err(err).Str("url", localURL).Msg("bad local URL, using cloud")
		return cloudURL
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		goapp.Log.Info().Str("local", localURL).Str("cloud", cloudURL).Msg("local endpoint not reachable, using cloud")
		return cloudURL
	}
	_ = conn.Close()
	goapp.Log.Info().Str("url", localURL).Msg("using local endpoint")
	return localURL
}

func wsHostPort(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "wss" || u.Scheme == "https" {
			port = "443"
		}
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}
