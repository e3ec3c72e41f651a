package netstate

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Poller feeds an Observer by probing a URL. Any HTTP response counts as
// online; a transport failure counts as offline.
type Poller struct {
	observer *Observer
	url      string
	interval time.Duration
	client   *http.Client
	logger   *zap.Logger
}

// NewPoller creates a Poller. A non-positive timeout uses five seconds.
func NewPoller(observer *Observer, url string, interval, timeout time.Duration, logger *zap.Logger) *Poller {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		observer: observer,
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Probe checks reachability once and updates the observer.
func (p *Poller) Probe(ctx context.Context) State {
	state := p.check(ctx)
	p.observer.Update(state)
	return state
}

// Run probes every interval until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}

func (p *Poller) check(ctx context.Context) State {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		p.logger.Error("Failed to build probe request", zap.String("url", p.url), zap.Error(err))
		return State{}
	}
	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Debug("Probe failed", zap.String("url", p.url), zap.Error(err))
		}
		return State{}
	}
	resp.Body.Close()
	return State{IsConnected: true, IsInternetReachable: true}
}
