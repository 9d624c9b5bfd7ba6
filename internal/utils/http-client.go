package utils

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/time/rate"
)

type HTTPClientConfig struct {
	Timeout        time.Duration
	KATimeout      time.Duration
	ProxyURL       string
	ProxyUsername  string
	ProxyPassword  string
	UserAgent      string
	Headers        map[string]string
	RateLimit      int64 // bytes per second, 0 means unlimited
	EnableHTTP2    bool
	HighThreadMode bool // advanced socket options for high concurrency
}

type KumoHTTPClient struct {
	client     *http.Client
	noRedirect *http.Client
	config     HTTPClientConfig
	limiter    *rate.Limiter
}

func NewKumoHTTPClient(cfg HTTPClientConfig) *KumoHTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.KATimeout == 0 {
		cfg.KATimeout = 60 * time.Second
	}
	transport := &http.Transport{
		IdleConnTimeout:     cfg.KATimeout,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		DisableCompression:  true,
		MaxConnsPerHost:     0,
	}
	if cfg.HighThreadMode {
		transport.DialContext = (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
			DualStack: true,
			Control: func(network, address string, c syscall.RawConn) error {
				return c.Control(func(fd uintptr) {
					setSocketOptions(fd)
				})
			},
		}).DialContext
	}
	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err == nil {
			if cfg.ProxyUsername != "" {
				if cfg.ProxyPassword != "" {
					proxyURL.User = url.UserPassword(cfg.ProxyUsername, cfg.ProxyPassword)
				} else {
					proxyURL.User = url.User(cfg.ProxyUsername)
				}
			}
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}
	if cfg.EnableHTTP2 {
		http2.ConfigureTransport(transport)
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 32*1024 {
			burst = 32 * 1024
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return &KumoHTTPClient{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		noRedirect: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		config:  cfg,
		limiter: limiter,
	}
}

func (k *KumoHTTPClient) SetHeader(key, value string) {
	if k.config.Headers == nil {
		k.config.Headers = make(map[string]string)
	}
	k.config.Headers[key] = value
}

func (k *KumoHTTPClient) Do(req *http.Request) (*http.Response, error) {
	k.applyHeaders(req)
	return k.client.Do(req)
}

// DoNoRedirect issues the request without following redirects so callers can
// inspect Location headers themselves.
func (k *KumoHTTPClient) DoNoRedirect(req *http.Request) (*http.Response, error) {
	k.applyHeaders(req)
	return k.noRedirect.Do(req)
}

func (k *KumoHTTPClient) applyHeaders(req *http.Request) {
	if k.config.UserAgent != "" {
		req.Header.Set("User-Agent", k.config.UserAgent)
	} else {
		req.Header.Set("User-Agent", "Kumo-CLI")
	}
	for key, value := range k.config.Headers {
		req.Header.Set(key, value)
	}
}

// LimitBody wraps a response body with the client's rate limiter. Returns the
// body unchanged when no limit is configured.
func (k *KumoHTTPClient) LimitBody(ctx context.Context, body io.ReadCloser) io.ReadCloser {
	if k.limiter == nil {
		return body
	}
	return &limitedReadCloser{body: body, limiter: k.limiter, ctx: ctx}
}

type limitedReadCloser struct {
	body    io.ReadCloser
	limiter *rate.Limiter
	ctx     context.Context
}

func (l *limitedReadCloser) Read(p []byte) (int, error) {
	if len(p) > l.limiter.Burst() {
		p = p[:l.limiter.Burst()]
	}
	n, err := l.body.Read(p)
	if n > 0 {
		if werr := l.limiter.WaitN(l.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}

func (l *limitedReadCloser) Close() error {
	return l.body.Close()
}
