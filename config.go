package trafficlight

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/goccy/go-yaml"
)

const (
	DefaultCycleMin     = 4000 * time.Millisecond
	DefaultCycleMax     = 6000 * time.Millisecond
	DefaultPollInterval = time.Millisecond
	DefaultHookTimeout  = 5 * time.Second
)

const (
	ModePoll  = "poll"
	ModeTimer = "timer"
)

type Config struct {
	Name  string        `yaml:"name"`
	Cycle *CycleConfig  `yaml:"cycle"`
	Hooks []*HookConfig `yaml:"hooks"`
}

type CycleConfig struct {
	Min          time.Duration `yaml:"min"`
	Max          time.Duration `yaml:"max"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Mode         string        `yaml:"mode"`
}

type HookConfig struct {
	Name    string        `yaml:"name"`
	On      string        `yaml:"on"`
	Run     string        `yaml:"run"`
	Timeout time.Duration `yaml:"timeout"`
}

func DefaultConfig() *Config {
	return &Config{
		Cycle: &CycleConfig{
			Min:          DefaultCycleMin,
			Max:          DefaultCycleMax,
			PollInterval: DefaultPollInterval,
			Mode:         ModePoll,
		},
	}
}

// LoadConfig reads the config from src. An empty src yields the defaults.
func LoadConfig(ctx context.Context, src string) (*Config, error) {
	if src == "" {
		return DefaultConfig(), nil
	}
	b, err := loadURL(ctx, src)
	if err != nil {
		return nil, err
	}
	config, err := ParseConfig(b)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", src, err)
	}
	return config, nil
}

// ParseConfig decodes b, fills in defaults for omitted values, and
// validates the result.
func ParseConfig(b []byte) (*Config, error) {
	config := &Config{}
	if err := yaml.Unmarshal(b, config); err != nil {
		return nil, err
	}
	if config.Cycle == nil {
		config.Cycle = &CycleConfig{}
	}
	c := config.Cycle
	if c.Min == 0 {
		c.Min = DefaultCycleMin
	}
	if c.Max == 0 {
		c.Max = max(DefaultCycleMax, c.Min)
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Mode == "" {
		c.Mode = ModePoll
	}
	for _, h := range config.Hooks {
		if h.Timeout == 0 {
			h.Timeout = DefaultHookTimeout
		}
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (cfg *Config) Validate() error {
	if cfg.Cycle == nil {
		return errors.New("cycle is required")
	}
	var errs error
	c := cfg.Cycle
	if c.Min <= 0 {
		errs = errors.Join(errs, fmt.Errorf("cycle.min must be positive: %s", c.Min))
	}
	if c.Max < c.Min {
		errs = errors.Join(errs, fmt.Errorf("cycle.max %s must not be less than cycle.min %s", c.Max, c.Min))
	}
	if c.PollInterval <= 0 {
		errs = errors.Join(errs, fmt.Errorf("cycle.poll_interval must be positive: %s", c.PollInterval))
	}
	switch c.Mode {
	case ModePoll, ModeTimer:
	default:
		errs = errors.Join(errs, fmt.Errorf("cycle.mode must be %s or %s: %q", ModePoll, ModeTimer, c.Mode))
	}
	for i, h := range cfg.Hooks {
		if strings.TrimSpace(h.Run) == "" {
			errs = errors.Join(errs, fmt.Errorf("hooks[%d]: run is required", i))
		}
		if h.On != "" {
			if _, err := ParsePhase(h.On); err != nil {
				errs = errors.Join(errs, fmt.Errorf("hooks[%d]: %w", i, err))
			}
		}
	}
	return errs
}

func loadURL(ctx context.Context, s string) ([]byte, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("invalid url %s: %w", s, err)
	}
	switch u.Scheme {
	case "http", "https":
		return loadHTTP(ctx, u)
	case "file", "": // empty scheme is treated as file
		return os.ReadFile(u.Path)
	case "s3":
		return loadS3(ctx, u)
	default:
		return nil, fmt.Errorf("invalid url %s: scheme must be http, https, file, or s3", s)
	}
}

func loadHTTP(ctx context.Context, u *url.URL) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("http get failed: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http get %s: unexpected status %s", u, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func loadS3(ctx context.Context, u *url.URL) ([]byte, error) {
	awscfg, err := awsConfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	svc := s3.NewFromConfig(awscfg)
	bucket, key := u.Host, strings.TrimPrefix(u.Path, "/")
	out, err := svc.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}
