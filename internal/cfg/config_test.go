package cfg

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalCfg = `
http_server_listen_addr = ":8085"
github_webhook_endpoint = "/listener/github"
github_api_token = "tok"

[build]
url = "https://ci.example.com/job/{{ .Request.Repository }}/build"

[[repository]]
owner = "simplesurance"
repository = "prbuilder"
`

func TestLoadAppliesDefaults(t *testing.T) {
	config, err := Load(strings.NewReader(minimalCfg))
	require.NoError(t, err)
	require.NoError(t, config.Validate())

	assert.Equal(t, DefaultLogFormat, config.LogFormat)
	assert.Equal(t, DefaultLogLevel, config.LogLevel)
	assert.Equal(t, DefaultStateDir, config.StateDir)
	assert.Equal(t, DefaultRequestForTestingPhrase, config.Trigger.RequestForTestingPhrase)
	assert.Equal(t, DefaultStatusContext, config.Trigger.StatusContext)
	assert.Equal(t, DefaultWhitelistPhrase, config.Trigger.WhitelistPhrase)
	assert.Equal(t, DefaultOkToTestPhrase, config.Trigger.OkToTestPhrase)
	assert.Equal(t, DefaultRetestPhrase, config.Trigger.RetestPhrase)
	assert.True(t, config.Trigger.WebhookSSLVerification())

	interval, err := config.PollIntervalDuration()
	require.NoError(t, err)
	assert.Equal(t, DefaultPollInterval, interval)

	require.Len(t, config.Repositories, 1)
	assert.Equal(t, "simplesurance", config.Repositories[0].Owner)
	assert.Equal(t, "prbuilder", config.Repositories[0].RepositoryName)
}

func TestLoadFullConfig(t *testing.T) {
	const data = `
http_server_listen_addr = ":8085"
status_endpoint = "/status"
metrics_endpoint = "/metrics"
github_webhook_endpoint = "/listener/github"
github_api_token = "tok"
log_format = "json"
state_dir = "/tmp/prbuilder"
poll_interval = "90s"
dry_run = true

[trigger]
admins = ["alice"]
whitelist = ["carol", "dave"]
retest_phrase = "rebuild"
use_comments = true
webhook_url = "https://prbuilder.example.com/listener/github"
verify_webhook_ssl = false
register_webhooks = true
status_context = "ci/prbuilder"

[build]
url = "https://ci.example.com/build"
method = "PUT"
user = "ci"
password = "secret"
headers = { "Content-Type" = "application/json" }
data = '{"commit": "{{ .Request.HeadCommit }}"}'

[[repository]]
owner = "simplesurance"
repository = "prbuilder"

[[repository]]
owner = "simplesurance"
repository = "website"
`
	config, err := Load(strings.NewReader(data))
	require.NoError(t, err)
	require.NoError(t, config.Validate())

	assert.Equal(t, "/status", config.HTTPStatusEndpoint)
	assert.Equal(t, "/metrics", config.HTTPMetricsEndpoint)
	assert.Equal(t, "json", config.LogFormat)
	assert.True(t, config.DryRun)

	interval, err := config.PollIntervalDuration()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, interval)

	assert.Equal(t, []string{"alice"}, config.Trigger.Admins)
	assert.Equal(t, []string{"carol", "dave"}, config.Trigger.Whitelist)
	assert.Equal(t, "rebuild", config.Trigger.RetestPhrase)
	assert.Equal(t, DefaultOkToTestPhrase, config.Trigger.OkToTestPhrase)
	assert.True(t, config.Trigger.UseComments)
	assert.False(t, config.Trigger.WebhookSSLVerification())
	assert.True(t, config.Trigger.RegisterWebhooks)
	assert.Equal(t, "ci/prbuilder", config.Trigger.StatusContext)

	assert.Equal(t, "PUT", config.Build.Method)
	assert.Equal(t, "secret", config.Build.Password)
	assert.Equal(t, map[string]string{"Content-Type": "application/json"}, config.Build.Headers)
	assert.Contains(t, config.Build.Data, "{{ .Request.HeadCommit }}")

	assert.Len(t, config.Repositories, 2)
}

func TestSecretsAreOverriddenByEnv(t *testing.T) {
	t.Setenv("PRBUILDER_GITHUB_API_TOKEN", "envtok")
	t.Setenv("PRBUILDER_GITHUB_WEBHOOK_SECRET", "envsecret")
	t.Setenv("PRBUILDER_BUILD_PASSWORD", "envpw")

	config, err := Load(strings.NewReader(minimalCfg))
	require.NoError(t, err)

	assert.Equal(t, "envtok", config.GithubAPIToken)
	assert.Equal(t, "envsecret", config.GithubWebHookSecret)
	assert.Equal(t, "envpw", config.Build.Password)
}

func TestValidateFails(t *testing.T) {
	tcs := []struct {
		name string
		cfg  string
	}{
		{
			name: "no repositories",
			cfg: `
http_server_listen_addr = ":8085"
github_webhook_endpoint = "/listener/github"
github_api_token = "tok"
[build]
url = "https://ci.example.com/build"
`,
		},
		{
			name: "no listen address",
			cfg: `
github_webhook_endpoint = "/listener/github"
github_api_token = "tok"
[build]
url = "https://ci.example.com/build"
[[repository]]
owner = "simplesurance"
repository = "prbuilder"
`,
		},
		{
			name: "https without certificate",
			cfg: `
https_server_listen_addr = ":8443"
github_webhook_endpoint = "/listener/github"
github_api_token = "tok"
[build]
url = "https://ci.example.com/build"
[[repository]]
owner = "simplesurance"
repository = "prbuilder"
`,
		},
		{
			name: "unsupported log format",
			cfg:  `log_format = "xml"` + "\n" + minimalCfg,
		},
		{
			name: "repository without owner",
			cfg: `
http_server_listen_addr = ":8085"
github_webhook_endpoint = "/listener/github"
github_api_token = "tok"
[build]
url = "https://ci.example.com/build"
[[repository]]
repository = "prbuilder"
`,
		},
		{
			name: "webhook registration without url",
			cfg: `
http_server_listen_addr = ":8085"
github_webhook_endpoint = "/listener/github"
github_api_token = "tok"
[trigger]
register_webhooks = true
[build]
url = "https://ci.example.com/build"
[[repository]]
owner = "simplesurance"
repository = "prbuilder"
`,
		},
		{
			name: "invalid poll interval",
			cfg: `
http_server_listen_addr = ":8085"
github_webhook_endpoint = "/listener/github"
github_api_token = "tok"
poll_interval = "often"
[build]
url = "https://ci.example.com/build"
[[repository]]
owner = "simplesurance"
repository = "prbuilder"
`,
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			config, err := Load(strings.NewReader(tc.cfg))
			require.NoError(t, err)
			assert.Error(t, config.Validate())
		})
	}
}
