// Package ambient fetches the outdoor temperature from a wttr.in style
// weather service.
package ambient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/ipmifanctl/internal/errors"
	"codeberg.org/mutker/ipmifanctl/internal/logger"
)

const (
	DefaultURL       = "https://wttr.in"
	DefaultLocateURL = "https://ipinfo.io"
	DefaultCity      = "Moscow"
	DefaultTimeout   = 10 * time.Second

	// Readings outside this range are treated as garbage from the service.
	minPlausible = -90.0
	maxPlausible = 60.0

	maxBody = 4096
)

type Config struct {
	URL       string
	City      string
	Locate    bool
	LocateURL string
	Timeout   time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
	log  logger.Logger

	mu   sync.RWMutex
	city string
	last float64
	ok   bool
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

func WithLogger(l logger.Logger) Option {
	return func(cl *Client) { cl.log = l }
}

func New(cfg Config, opts ...Option) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.LocateURL == "" {
		cfg.LocateURL = DefaultLocateURL
	}
	if cfg.City == "" {
		cfg.City = DefaultCity
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	c := &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  logger.Default(),
		city: cfg.City,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Locate resolves the city from the host's public address when enabled.
// Failures keep the configured city.
func (c *Client) Locate(ctx context.Context) string {
	if !c.cfg.Locate {
		return c.City()
	}

	city, err := c.locate(ctx)
	if err != nil {
		c.log.Warn().
			Err(err).
			Str("fallback", c.cfg.City).
			Msg("Failed to locate city, using configured city")
		return c.City()
	}

	c.mu.Lock()
	c.city = city
	c.mu.Unlock()

	c.log.Info().Str("city", city).Msg("City located")
	return city
}

// City returns the city used for weather queries.
func (c *Client) City() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.city
}

// Last returns the most recent successful reading.
func (c *Client) Last() (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last, c.ok
}

// Temperature returns the current outdoor temperature in °C.
func (c *Client) Temperature(ctx context.Context) (float64, error) {
	errFactory := errors.New()

	endpoint := strings.TrimSuffix(c.cfg.URL, "/") + "/" + url.PathEscape(c.City()) + "?format=%25t"
	body, err := c.get(ctx, endpoint)
	if err != nil {
		return 0, err
	}

	celsius, err := ParseTemperature(string(body))
	if err != nil {
		return 0, err
	}
	if celsius < minPlausible || celsius > maxPlausible {
		return 0, errFactory.WithData(ErrOutOfRange, celsius)
	}

	c.mu.Lock()
	c.last, c.ok = celsius, true
	c.mu.Unlock()

	return celsius, nil
}

// ParseTemperature parses wttr.in's "%t" format, e.g. "+10°C" or "-3°C".
func ParseTemperature(s string) (float64, error) {
	v := strings.TrimSpace(s)
	v = strings.TrimSuffix(v, "°C")
	v = strings.TrimPrefix(strings.TrimSpace(v), "+")

	celsius, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, errors.New().Wrap(ErrParseFailed, fmt.Errorf("%q: %w", s, err))
	}

	return celsius, nil
}

func (c *Client) locate(ctx context.Context) (string, error) {
	errFactory := errors.New()

	body, err := c.get(ctx, c.cfg.LocateURL)
	if err != nil {
		return "", errFactory.Wrap(ErrLocationFailed, err)
	}

	var info struct {
		City string `json:"city"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return "", errFactory.Wrap(ErrLocationFailed, err)
	}
	if info.City == "" {
		return "", errFactory.WithMessage(ErrLocationFailed, "no city in location response")
	}

	return info.City, nil
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	errFactory := errors.New()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, errFactory.Wrap(ErrRequestFailed, err)
	}
	// wttr.in serves plain text to curl-like agents.
	req.Header.Set("User-Agent", "curl/8.0 ipmifanctl")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errFactory.Wrap(ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errFactory.WithData(ErrBadStatus, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, errFactory.Wrap(ErrRequestFailed, err)
	}

	return body, nil
}
