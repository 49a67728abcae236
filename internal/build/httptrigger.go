package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/simplesurance/prbuilder/internal/logfields"
)

const loggerName = "build.httptrigger"

const DefaultHTTPClientTimeout = time.Minute

// HTTPConfig is the configuration of an HTTPTrigger.
// URL, Data and the header values are templates, they are rendered with
// the Request of the build, accessible as {{ .Request }}.
type HTTPConfig struct {
	URL      string
	Method   string
	User     string
	Password string
	Headers  map[string]string
	Data     string
}

type templates struct {
	url     *template.Template
	data    *template.Template
	headers map[string]*template.Template
}

// HTTPTrigger requests builds by sending an HTTP request to a build
// executor.
// It does not wait for the build to finish.
type HTTPTrigger struct {
	rawURL   string
	method   string
	user     string
	password string
	templ    templates
	client   *http.Client
	logger   *zap.Logger
}

var templateFuncs = template.FuncMap{
	"queryescape": url.QueryEscape,
}

func parseTemplate(name, text string) (*template.Template, error) {
	templ, err := template.New(name).Funcs(templateFuncs).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parsing %s template failed: %w", name, err)
	}

	return templ, nil
}

// NewHTTPTrigger parses the templates in cfg and returns a new HTTPTrigger.
// If cfg.Method is empty, POST is used.
func NewHTTPTrigger(cfg *HTTPConfig) (*HTTPTrigger, error) {
	var err error

	if cfg.URL == "" {
		return nil, errors.New("url must be set")
	}

	t := HTTPTrigger{
		rawURL:   cfg.URL,
		method:   cfg.Method,
		user:     cfg.User,
		password: cfg.Password,
		client:   &http.Client{Timeout: DefaultHTTPClientTimeout},
		logger:   zap.L().Named(loggerName),
	}

	if t.method == "" {
		t.method = http.MethodPost
	}

	t.templ.url, err = parseTemplate("url", cfg.URL)
	if err != nil {
		return nil, err
	}

	if cfg.Data != "" {
		t.templ.data, err = parseTemplate("data", cfg.Data)
		if err != nil {
			return nil, err
		}
	}

	t.templ.headers = make(map[string]*template.Template, len(cfg.Headers))
	for k, v := range cfg.Headers {
		t.templ.headers[k], err = parseTemplate("header "+k, v)
		if err != nil {
			return nil, err
		}
	}

	return &t, nil
}

func render(templ *template.Template, req *Request) (string, error) {
	var out bytes.Buffer

	templateContext := struct{ Request *Request }{
		Request: req,
	}

	if err := templ.Execute(&out, &templateContext); err != nil {
		return "", fmt.Errorf("rendering %s template failed: %w", templ.Name(), err)
	}

	return out.String(), nil
}

func (t *HTTPTrigger) newHTTPRequest(ctx context.Context, req *Request) (*http.Request, error) {
	reqURL, err := render(t.templ.url, req)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if t.templ.data != nil {
		data, err := render(t.templ.data, req)
		if err != nil {
			return nil, err
		}
		body = strings.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, t.method, reqURL, body)
	if err != nil {
		return nil, err
	}

	if t.user != "" || t.password != "" {
		httpReq.SetBasicAuth(t.user, t.password)
	}

	for k, templ := range t.templ.headers {
		v, err := render(templ, req)
		if err != nil {
			return nil, err
		}
		httpReq.Header.Add(k, v)
	}

	return httpReq, nil
}

// Trigger sends the build request.
// On success it returns a message describing the triggered build.
// An ErrorHTTPRequest is returned when the executor responds with a
// non-2xx status code.
func (t *HTTPTrigger) Trigger(ctx context.Context, req *Request) (string, error) {
	logger := t.logger.With(req.LogFields()...).With(t.LogFields()...)

	httpReq, err := t.newHTTPRequest(ctx, req)
	if err != nil {
		return "", err
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return "", err
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.Warn(
			"reading http response body failed",
			logfields.Event("build_http_reading_response_body_failed"),
			zap.Int("http_response_code", resp.StatusCode),
			zap.Error(err),
		)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &ErrorHTTPRequest{
			Body:   body,
			Status: resp.StatusCode,
		}
	}

	logger.Debug(
		fmt.Sprintf("http response: %s", string(body)),
		logfields.Event("build_http_request_sent"),
	)

	return fmt.Sprintf("Build triggered for merge with %s, commit %s.", req.TargetBranch, req.HeadCommit), nil
}

// LogFields returns fields that should be used when logging messages related
// to the trigger.
func (t *HTTPTrigger) LogFields() []zap.Field {
	return []zap.Field{
		zap.String("build_trigger", "httprequest"),
		zap.String("http_url", t.rawURL),
		zap.String("http_method", t.method),
	}
}
