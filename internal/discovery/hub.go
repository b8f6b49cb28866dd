package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bleedingxiko/ghoststream/internal/config"
	"github.com/bleedingxiko/ghoststream/internal/version"
)

// registrationTimeout bounds one registration POST.
const registrationTimeout = 10 * time.Second

// hubRegistration is the payload POSTed to the coordinator.
type hubRegistration struct {
	Name          string        `json:"name"`
	URL           string        `json:"url"`
	Advertisement Advertisement `json:"capabilities"`
}

// HubRegistrar periodically registers the service with a configured
// coordinator (GhostHub) so it shows up without mDNS.
type HubRegistrar struct {
	cfg     config.DiscoveryConfig
	baseURL string // our externally reachable base URL
	ad      Advertisement
	client  *http.Client
	logger  *slog.Logger
}

// NewHubRegistrar creates a coordinator registrar.
func NewHubRegistrar(cfg config.DiscoveryConfig, baseURL string, ad Advertisement, logger *slog.Logger) *HubRegistrar {
	return &HubRegistrar{
		cfg:     cfg,
		baseURL: baseURL,
		ad:      ad,
		client:  &http.Client{Timeout: registrationTimeout},
		logger:  logger.With(slog.String("component", "hub_registrar")),
	}
}

// Run registers immediately and then on the configured interval until
// the context is cancelled. No coordinator configured means no-op.
func (r *HubRegistrar) Run(ctx context.Context) {
	if r.cfg.HubURL == "" || !r.cfg.AutoRegister {
		return
	}

	interval := r.cfg.RegisterInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	r.register(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.register(ctx)
		}
	}
}

// register POSTs the advertisement; failures are logged and retried on
// the next tick.
func (r *HubRegistrar) register(ctx context.Context) {
	payload := hubRegistration{
		Name:          r.cfg.ServiceName,
		URL:           r.baseURL,
		Advertisement: r.ad,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return
	}

	endpoint := strings.TrimRight(r.cfg.HubURL, "/") + "/api/transcoders/register"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Warn("coordinator registration failed",
			slog.String("hub", r.cfg.HubURL),
			slog.String("error", err.Error()),
		)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		r.logger.Warn("coordinator rejected registration",
			slog.String("hub", r.cfg.HubURL),
			slog.String("status", fmt.Sprintf("%d", resp.StatusCode)),
		)
		return
	}

	r.logger.Debug("registered with coordinator", slog.String("hub", r.cfg.HubURL))
}
