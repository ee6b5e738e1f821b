package connectivity

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Prober derives reachability by polling an HTTP health endpoint.
// Any 2xx answer counts as connected.
type Prober struct {
	*Manual

	URL      string
	Interval time.Duration
	Client   *http.Client
	Logger   zerolog.Logger
}

// NewProber creates a prober that starts offline until the first check
func NewProber(url string, interval time.Duration, logger zerolog.Logger) *Prober {
	return &Prober{
		Manual:   NewManual(Offline),
		URL:      url,
		Interval: interval,
		Client:   &http.Client{Timeout: 3 * time.Second},
		Logger:   logger.With().Str("component", "connectivity").Logger(),
	}
}

// Check probes once and updates the status
func (p *Prober) Check(ctx context.Context) Status {
	s := Offline
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err == nil {
		resp, err := p.Client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				s = Online
			}
		}
	}

	if ctx.Err() != nil {
		return p.Current()
	}
	if p.Set(s) {
		p.Logger.Info().Bool("connected", s.Connected).Msg("connectivity changed")
	}
	return s
}

// Run probes immediately and then every Interval until ctx is cancelled
func (p *Prober) Run(ctx context.Context) {
	interval := p.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.Check(ctx)
	for {
		select {
		case <-ticker.C:
			p.Check(ctx)
		case <-ctx.Done():
			return
		}
	}
}
