package skills

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	st "github.com/showwin/speedtest-go/speedtest"
)

type SpeedConfig struct {
	// ServerCount is how many of the closest servers get pinged.
	ServerCount int
	// MaxConnections is passed to speedtest-go.
	MaxConnections int
}

type SpeedResult struct {
	DownloadMbps float64
	UploadMbps   float64
	Ping         time.Duration
	ISP          string
	Server       string
	Country      string
	Duration     time.Duration
}

// Summary renders the result the way it is spoken back.
func (r *SpeedResult) Summary(title string) string {
	return fmt.Sprintf("Download speed is %.1f megabits per second, upload speed is %.1f megabits per second, "+
		"and latency is %d milliseconds %s. Tested against %s in %s over %s.",
		r.DownloadMbps, r.UploadMbps, r.Ping.Milliseconds(), title, r.Server, r.Country, r.ISP)
}

// SpeedTester measures bandwidth with speedtest.net servers.
type SpeedTester struct {
	cfg SpeedConfig
}

func NewSpeedTester(cfg SpeedConfig) *SpeedTester {
	if cfg.ServerCount <= 0 {
		cfg.ServerCount = 5
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 4
	}
	return &SpeedTester{cfg: cfg}
}

// Run picks the lowest-latency server among the closest candidates and
// measures download and upload against it.
func (t *SpeedTester) Run(ctx context.Context) (*SpeedResult, error) {
	start := time.Now()
	hc, tr := newSpeedClient(t.cfg.MaxConnections)
	defer tr.CloseIdleConnections()

	// A dedicated client; the package-level helpers keep global state.
	stc := st.New(st.WithUserConfig(&st.UserConfig{MaxConnections: t.cfg.MaxConnections}), st.WithDoer(hc))
	defer stc.Reset()

	user, err := stc.FetchUserInfoContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch user info: %w", err)
	}
	servers, err := stc.FetchServerListContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch server list: %w", err)
	}
	if a := servers.Available(); a != nil {
		servers = *a
	}
	if len(servers) == 0 {
		return nil, errors.New("no servers available")
	}

	sort.Slice(servers, func(i, j int) bool { return servers[i].Distance < servers[j].Distance })
	candidates := servers[:min(t.cfg.ServerCount, len(servers))]

	best := fastest(ctx, candidates)
	if best == nil {
		return nil, errors.New("all latency tests failed")
	}
	if err := best.DownloadTestContext(ctx); err != nil {
		return nil, fmt.Errorf("download test: %w", err)
	}
	if err := best.UploadTestContext(ctx); err != nil {
		return nil, fmt.Errorf("upload test: %w", err)
	}

	return &SpeedResult{
		DownloadMbps: best.DLSpeed.Mbps(),
		UploadMbps:   best.ULSpeed.Mbps(),
		Ping:         best.Latency,
		ISP:          user.Isp,
		Server:       best.Sponsor,
		Country:      best.Country,
		Duration:     time.Since(start),
	}, nil
}

// fastest pings every candidate concurrently and returns the lowest latency one.
func fastest(ctx context.Context, servers []*st.Server) *st.Server {
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		pinged []*st.Server
	)
	for _, s := range servers {
		wg.Add(1)
		go func(s *st.Server) {
			defer wg.Done()
			if err := s.PingTestContext(ctx, nil); err != nil || s.Latency <= 0 {
				return
			}
			mu.Lock()
			pinged = append(pinged, s)
			mu.Unlock()
		}(s)
	}
	wg.Wait()
	return lowestLatency(pinged)
}

func lowestLatency(servers []*st.Server) *st.Server {
	var best *st.Server
	for _, s := range servers {
		if best == nil || s.Latency < best.Latency {
			best = s
		}
	}
	return best
}

func newSpeedClient(perHost int) (*http.Client, *http.Transport) {
	d := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         d.DialContext,
		MaxIdleConns:        64,
		MaxIdleConnsPerHost: max(2, perHost),
		IdleConnTimeout:     10 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	return &http.Client{Transport: tr}, tr
}
