package cfg

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml"
)

const (
	DefaultRequestForTestingPhrase = "Can one of the admins verify this patch?"
	DefaultStatusContext           = "prbuilder"
	DefaultWhitelistPhrase         = `.*add\W+to\W+whitelist.*`
	DefaultOkToTestPhrase          = `.*ok\W+to\W+test.*`
	DefaultRetestPhrase            = `.*test\W+this\W+please.*`
	DefaultPollInterval            = 5 * time.Minute
	DefaultLogFormat               = "logfmt"
	DefaultLogTimeKey              = "time_iso8601"
	DefaultLogLevel                = "info"
	DefaultStateDir                = "/var/lib/prbuilder"
)

type Config struct {
	HTTPListenAddr            string `toml:"http_server_listen_addr" validate:"required_without=HTTPSListenAddr"`
	HTTPSListenAddr           string `toml:"https_server_listen_addr"`
	HTTPSCertFile             string `toml:"https_ssl_cert_file" validate:"required_with=HTTPSListenAddr"`
	HTTPSKeyFile              string `toml:"https_ssl_key_file" validate:"required_with=HTTPSListenAddr"`
	HTTPGithubWebhookEndpoint string `toml:"github_webhook_endpoint" validate:"required,startswith=/"`
	HTTPStatusEndpoint        string `toml:"status_endpoint" validate:"omitempty,startswith=/"`
	HTTPMetricsEndpoint       string `toml:"metrics_endpoint" validate:"omitempty,startswith=/"`
	GithubWebHookSecret       string `toml:"github_webhook_secret" env:"PRBUILDER_GITHUB_WEBHOOK_SECRET"`
	GithubAPIToken            string `toml:"github_api_token" env:"PRBUILDER_GITHUB_API_TOKEN" validate:"required"`
	LogFormat                 string `toml:"log_format" validate:"oneof=logfmt console json"`
	LogTimeKey                string `toml:"log_time_key"`
	LogLevel                  string `toml:"log_level"`
	StateDir                  string `toml:"state_dir" validate:"required"`
	PollInterval              string `toml:"poll_interval"`
	DryRun                    bool   `toml:"dry_run"`

	Trigger      Trigger      `toml:"trigger"`
	Build        Build        `toml:"build"`
	Repositories []Repository `toml:"repository" validate:"min=1,dive"`
}

type Trigger struct {
	Admins                  []string `toml:"admins"`
	Whitelist               []string `toml:"whitelist"`
	WhitelistPhrase         string   `toml:"whitelist_phrase"`
	OkToTestPhrase          string   `toml:"ok_to_test_phrase"`
	RetestPhrase            string   `toml:"retest_phrase"`
	RequestForTestingPhrase string   `toml:"request_for_testing_phrase"`
	UseComments             bool     `toml:"use_comments"`
	WebhookURL              string   `toml:"webhook_url" validate:"omitempty,url"`
	// VerifyWebhookSSL defaults to true when unset.
	VerifyWebhookSSL  *bool  `toml:"verify_webhook_ssl"`
	RegisterWebhooks  bool   `toml:"register_webhooks"`
	StatusContext     string `toml:"status_context"`
	IgnoreEventsQuery string `toml:"ignore_events_query"`
}

// Build describes the HTTP request that is sent to start a build.
// URL and Data are templates.
type Build struct {
	URL      string            `toml:"url" validate:"required"`
	Method   string            `toml:"method" validate:"omitempty,oneof=GET POST PUT"`
	User     string            `toml:"user"`
	Password string            `toml:"password" env:"PRBUILDER_BUILD_PASSWORD"`
	Headers  map[string]string `toml:"headers"`
	Data     string            `toml:"data"`
}

type Repository struct {
	Owner          string `toml:"owner" validate:"required"`
	RepositoryName string `toml:"repository" validate:"required"`
}

// Load reads a TOML configuration from reader, applies defaults for unset
// values and overrides secrets from environment variables.
// The returned Config is not validated.
func Load(reader io.Reader) (*Config, error) {
	var result Config

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	if err := toml.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	result.setDefaults()

	if err := env.Parse(&result); err != nil {
		return nil, fmt.Errorf("parsing environment variables failed: %w", err)
	}

	return &result, nil
}

func setDefault(val *string, def string) {
	if *val == "" {
		*val = def
	}
}

func (c *Config) setDefaults() {
	setDefault(&c.LogFormat, DefaultLogFormat)
	setDefault(&c.LogTimeKey, DefaultLogTimeKey)
	setDefault(&c.LogLevel, DefaultLogLevel)
	setDefault(&c.StateDir, DefaultStateDir)
	setDefault(&c.PollInterval, DefaultPollInterval.String())

	setDefault(&c.Trigger.WhitelistPhrase, DefaultWhitelistPhrase)
	setDefault(&c.Trigger.OkToTestPhrase, DefaultOkToTestPhrase)
	setDefault(&c.Trigger.RetestPhrase, DefaultRetestPhrase)
	setDefault(&c.Trigger.RequestForTestingPhrase, DefaultRequestForTestingPhrase)
	setDefault(&c.Trigger.StatusContext, DefaultStatusContext)

	if c.Trigger.VerifyWebhookSSL == nil {
		verify := true
		c.Trigger.VerifyWebhookSSL = &verify
	}
}

// Validate returns an error if the configuration is incomplete or
// contains invalid values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("invalid configuration: %w", verrs)
		}

		return err
	}

	if c.Trigger.RegisterWebhooks && c.Trigger.WebhookURL == "" {
		return errors.New("invalid configuration: trigger.webhook_url must be set when trigger.register_webhooks is enabled")
	}

	if _, err := c.PollIntervalDuration(); err != nil {
		return err
	}

	return nil
}

// PollIntervalDuration returns the parsed poll_interval setting.
func (c *Config) PollIntervalDuration() (time.Duration, error) {
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid poll_interval %q: %w", c.PollInterval, err)
	}

	if d <= 0 {
		return 0, fmt.Errorf("invalid poll_interval %q: must be positive", c.PollInterval)
	}

	return d, nil
}

// WebhookSSLVerification returns if github should verify the TLS
// certificate when sending webhook events.
func (t *Trigger) WebhookSSLVerification() bool {
	return t.VerifyWebhookSSL == nil || *t.VerifyWebhookSSL
}
