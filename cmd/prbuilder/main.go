package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	zaplogfmt "github.com/sykesm/zap-logfmt"
	"github.com/thecodeteam/goodbye"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/simplesurance/prbuilder/internal/authz"
	"github.com/simplesurance/prbuilder/internal/build"
	"github.com/simplesurance/prbuilder/internal/cfg"
	"github.com/simplesurance/prbuilder/internal/githubclt"
	"github.com/simplesurance/prbuilder/internal/logfields"
	"github.com/simplesurance/prbuilder/internal/provider/github"
	"github.com/simplesurance/prbuilder/internal/prtrigger"
	"github.com/simplesurance/prbuilder/internal/store"
	"github.com/simplesurance/prbuilder/internal/webhook"
)

const appName = "prbuilder"

var logger *zap.Logger

// Version is set via a ldflag on compilation
var Version = "unknown"

func exitOnErr(msg string, err error) {
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "ERROR:", msg+", error:", err.Error())
	os.Exit(1)
}

func panicHandler() {
	if r := recover(); r != nil {
		logger.Info(
			"panic caught, terminating gracefully",
			zap.String("panic", fmt.Sprintf("%v", r)),
			zap.StackSkip("stacktrace", 1),
		)

		ctx, cancelFn := context.WithTimeout(context.Background(), time.Minute)
		defer cancelFn()

		goodbye.Exit(ctx, 1)
	}
}

func registerServerShutdown(name string, srv *http.Server) {
	goodbye.Register(func(context.Context, os.Signal) {
		const shutdownTimeout = 30 * time.Second
		ctx, cancelFn := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelFn()

		logger.Debug(
			"terminating "+name+" server",
			logfields.Event(name+"_server_terminating"),
			zap.Duration("shutdown_timeout", shutdownTimeout),
		)

		err := srv.Shutdown(ctx)
		if err != nil {
			logger.Warn(
				"shutting down "+name+" server failed",
				logfields.Event(name+"_server_termination_failed"),
				zap.Error(err),
			)
		}
	})
}

func startHTTPSServer(listenAddr string, certFile, keyFile string, handler http.Handler) {
	httpsServer := http.Server{
		Addr:              listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: time.Minute,
	}

	registerServerShutdown("https", &httpsServer)

	go func() {
		defer panicHandler()

		logger.Info(
			"https server started",
			logfields.Event("https_server_started"),
			zap.String("listenAddr", listenAddr),
		)

		err := httpsServer.ListenAndServeTLS(certFile, keyFile)
		if errors.Is(err, http.ErrServerClosed) {
			logger.Info("https server terminated", logfields.Event("https_server_terminated"))
			return
		}

		logger.Fatal(
			"https server terminated unexpectedly",
			logfields.Event("https_server_terminated_unexpectedly"),
			zap.Error(err),
		)
	}()
}

func startHTTPServer(listenAddr string, handler http.Handler) {
	httpServer := http.Server{
		Addr:              listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: time.Minute,
	}

	registerServerShutdown("http", &httpServer)

	go func() {
		defer panicHandler()

		logger.Info(
			"http server started",
			logfields.Event("http_server_started"),
			zap.String("listenAddr", listenAddr),
		)

		err := httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			logger.Info("http server terminated", logfields.Event("http_server_terminated"))
			return
		}

		logger.Fatal(
			"http server terminated unexpectedly",
			logfields.Event("http_server_terminated_unexpectedly"),
			zap.Error(err),
		)
	}()
}

type arguments struct {
	Verbose     *bool
	ConfigFile  *string
	ShowVersion *bool
	DryRun      *bool
}

var args arguments

const defConfigFile = "/etc/prbuilder/config.toml"

func mustParseCommandlineParams() {
	args = arguments{
		Verbose: pflag.BoolP(
			"verbose",
			"v",
			false,
			"enable verbose logging",
		),
		ConfigFile: pflag.StringP(
			"cfg-file",
			"c",
			defConfigFile,
			"path to the prbuilder configuration file",
		),
		ShowVersion: pflag.Bool(
			"version",
			false,
			"print the version and exit",
		),
		DryRun: pflag.Bool(
			"dry-run",
			false,
			"do not create comments, commit statuses or webhooks on github, overrides the dry_run config setting",
		),
	}

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTION]\nMonitor GitHub pull requests and trigger builds for them.\n", appName)
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		pflag.PrintDefaults()
	}

	pflag.Parse()
}

func mustParseCfg() *cfg.Config {
	// we use exitOnErr in this function instead of logger.Fatal() because
	// the logger is not initialized yet

	file, err := os.Open(*args.ConfigFile)
	exitOnErr("could not open configuration files", err)
	defer file.Close()

	config, err := cfg.Load(file)
	exitOnErr(fmt.Sprintf("could not load configuration file: %s", *args.ConfigFile), err)

	err = config.Validate()
	exitOnErr(fmt.Sprintf("configuration file %s is invalid", *args.ConfigFile), err)

	if *args.DryRun {
		config.DryRun = true
	}

	return config
}

func initLogFmtLogger(config *cfg.Config, logLevel zapcore.Level) *zap.Logger {
	cfg := zapEncoderConfig(config)

	logger := zap.New(zapcore.NewCore(
		zaplogfmt.NewEncoder(cfg),
		os.Stdout,
		logLevel),
	)

	return logger
}

func zapEncoderConfig(config *cfg.Config) zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()

	cfg.LevelKey = "loglevel"
	cfg.TimeKey = config.LogTimeKey
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder

	return cfg
}

func mustInitZapFormatLogger(config *cfg.Config, logLevel zapcore.Level) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Sampling = nil
	cfg.EncoderConfig = zapEncoderConfig(config)
	cfg.OutputPaths = []string{"stdout"}
	cfg.Encoding = config.LogFormat
	cfg.Level = zap.NewAtomicLevelAt(logLevel)

	logger, err := cfg.Build()
	exitOnErr("could not initialize logger", err)

	return logger
}

func mustInitLogger(config *cfg.Config) {
	var logLevel zapcore.Level
	if *args.Verbose {
		logLevel = zapcore.DebugLevel
	} else if err := (&logLevel).Set(config.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "can not set log level to %q: %s\n", config.LogLevel, err)
		os.Exit(2)
	}

	switch config.LogFormat {
	case "logfmt":
		logger = initLogFmtLogger(config, logLevel)
	case "console", "json":
		logger = mustInitZapFormatLogger(config, logLevel)
	default:
		fmt.Fprintf(os.Stderr, "unsupported log-format argument: %q\n", config.LogFormat)
		os.Exit(2)
	}

	zap.ReplaceGlobals(logger)
	logger = logger.Named("main")

	goodbye.Register(func(context.Context, os.Signal) {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "flushing logs failed: %s\n", err)
		}
	})
}

func hide(in string) string {
	if in == "" {
		return in
	}

	return "**hidden**"
}

func mustOpenStore(config *cfg.Config) *store.Store {
	path := filepath.Join(config.StateDir, "state.db")

	st, err := store.Open(path)
	if err != nil {
		logger.Fatal(
			"opening state database failed",
			logfields.Event("store_open_failed"),
			zap.String("path", path),
			zap.Error(err),
		)
	}

	logger.Info(
		"opened state database",
		logfields.Event("store_opened"),
		zap.String("path", path),
	)

	return st
}

func mustInitPolicy(config *cfg.Config, st *store.Store) *authz.Policy {
	whitelisted, err := st.Whitelisted()
	if err != nil {
		logger.Fatal(
			"loading persisted whitelist failed",
			logfields.Event("whitelist_loading_failed"),
			zap.Error(err),
		)
	}

	policy, err := authz.New(
		&authz.Config{
			Admins:          config.Trigger.Admins,
			Whitelist:       append(append([]string{}, config.Trigger.Whitelist...), whitelisted...),
			WhitelistPhrase: config.Trigger.WhitelistPhrase,
			OkToTestPhrase:  config.Trigger.OkToTestPhrase,
			RetestPhrase:    config.Trigger.RetestPhrase,
		},
		authz.WithWhitelistListener(func(login string) {
			if err := st.AddWhitelisted(login); err != nil {
				logger.Error(
					"persisting whitelisted user failed",
					logfields.Event("whitelist_persisting_failed"),
					logfields.Author(login),
					zap.Error(err),
				)
			}
		}),
	)
	exitOnErr("could not compile trigger phrases", err)

	return policy
}

func mustInitRepositories(
	ctx context.Context,
	config *cfg.Config,
	ghClient prtrigger.GithubClient,
	policy *authz.Policy,
	builder *build.HTTPTrigger,
	st *store.Store,
) *prtrigger.Repositories {
	repoCfg := prtrigger.Config{
		RequestForTestingPhrase: config.Trigger.RequestForTestingPhrase,
		StatusContext:           config.Trigger.StatusContext,
		UseComments:             config.Trigger.UseComments,
		WebhookURL:              config.Trigger.WebhookURL,
		VerifyWebhookSSL:        config.Trigger.WebhookSSLVerification(),
	}

	syncs := make([]*prtrigger.RepositorySync, 0, len(config.Repositories))

	for _, repo := range config.Repositories {
		rs := prtrigger.NewRepositorySync(
			repo.Owner,
			repo.RepositoryName,
			&repoCfg,
			ghClient,
			policy,
			builder,
			prtrigger.WithStore(st),
		)

		records, err := st.Load(rs.FullName())
		if err != nil {
			logger.Fatal(
				"loading persisted pull request state failed",
				logfields.Event("state_loading_failed"),
				logfields.RepositoryOwner(repo.Owner),
				logfields.Repository(repo.RepositoryName),
				zap.Error(err),
			)
		}

		rs.Rehydrate(records)

		if config.Trigger.RegisterWebhooks {
			if err := rs.EnsureWebhookRegistered(ctx); err != nil {
				logger.Error(
					"registering github webhook failed",
					logfields.Event("webhook_registration_failed"),
					logfields.RepositoryOwner(repo.Owner),
					logfields.Repository(repo.RepositoryName),
					zap.Error(err),
				)
			}
		}

		syncs = append(syncs, rs)
	}

	return prtrigger.NewRepositories(syncs...)
}

func main() {
	defer panicHandler()

	defer goodbye.Exit(context.Background(), 1)
	goodbye.Notify(context.Background())

	mustParseCommandlineParams()

	if *args.ShowVersion {
		fmt.Printf("%s %s\n", appName, Version)
		os.Exit(0) // nolint:gocritic // defer functions won't run
	}

	config := mustParseCfg()

	mustInitLogger(config)

	logger.Info(
		"loaded cfg file",
		logfields.Event("cfg_loaded"),
		zap.String("cfg_file", *args.ConfigFile),
		zap.String("http_server_listen_addr", config.HTTPListenAddr),
		zap.String("https_server_listen_addr", config.HTTPSListenAddr),
		zap.String("github_webhook_endpoint", config.HTTPGithubWebhookEndpoint),
		zap.String("status_endpoint", config.HTTPStatusEndpoint),
		zap.String("metrics_endpoint", config.HTTPMetricsEndpoint),
		zap.String("github_webhook_secret", hide(config.GithubWebHookSecret)),
		zap.String("github_api_token", hide(config.GithubAPIToken)),
		zap.String("build_password", hide(config.Build.Password)),
		zap.String("log_format", config.LogFormat),
		zap.String("log_time_key", config.LogTimeKey),
		zap.String("log_level", config.LogLevel),
		zap.String("state_dir", config.StateDir),
		zap.String("poll_interval", config.PollInterval),
		zap.Bool("dry_run", config.DryRun),
		zap.Int("repositories", len(config.Repositories)),
	)

	goodbye.Register(func(_ context.Context, sig os.Signal) {
		logger.Info(fmt.Sprintf("terminating, received signal %s", sig.String()))
	})

	pollInterval, err := config.PollIntervalDuration()
	exitOnErr("invalid poll interval", err)

	st := mustOpenStore(config)

	var ghClient prtrigger.GithubClient = githubclt.New(config.GithubAPIToken)
	if config.DryRun {
		ghClient = prtrigger.NewDryGithubClient(ghClient, logger)
		logger.Info("dry run mode enabled, github will not be modified", logfields.Event("dry_run_enabled"))
	}

	policy := mustInitPolicy(config, st)

	builder, err := build.NewHTTPTrigger(&build.HTTPConfig{
		URL:      config.Build.URL,
		Method:   config.Build.Method,
		User:     config.Build.User,
		Password: config.Build.Password,
		Headers:  config.Build.Headers,
		Data:     config.Build.Data,
	})
	exitOnErr("could not initialize build trigger", err)

	ctx, cancelFn := context.WithTimeout(context.Background(), 5*time.Minute)
	repos := mustInitRepositories(ctx, config, ghClient, policy, builder, st)
	cancelFn()

	poller := prtrigger.NewPoller(repos, pollInterval)

	var dispatcherOpts []webhook.Option
	if config.Trigger.IgnoreEventsQuery != "" {
		q, err := webhook.NewIgnoreQuery(config.Trigger.IgnoreEventsQuery)
		exitOnErr("could not parse ignore_events_query", err)

		dispatcherOpts = append(dispatcherOpts, webhook.WithIgnoreQuery(q))
	}

	dispatcher := webhook.NewDispatcher(webhook.RepositoriesResolver(repos), dispatcherOpts...)

	gh := github.New(
		dispatcher,
		github.WithPayloadSecret(config.GithubWebHookSecret),
	)

	router := mux.NewRouter()

	router.HandleFunc(config.HTTPGithubWebhookEndpoint, gh.HTTPHandler).Methods(http.MethodPost)
	logger.Info(
		"registered github webhook event http endpoint",
		logfields.Event("github_http_handler_registered"),
		zap.String("endpoint", config.HTTPGithubWebhookEndpoint),
	)

	if config.HTTPStatusEndpoint != "" {
		router.HandleFunc(config.HTTPStatusEndpoint, repos.HTTPHandlerList).Methods(http.MethodGet)
		logger.Info(
			"registered status http endpoint",
			logfields.Event("status_http_handler_registered"),
			zap.String("endpoint", config.HTTPStatusEndpoint),
		)
	}

	if config.HTTPMetricsEndpoint != "" {
		router.Handle(config.HTTPMetricsEndpoint, promhttp.Handler()).Methods(http.MethodGet)
		logger.Info(
			"registered prometheus metrics http endpoint",
			logfields.Event("metrics_http_handler_registered"),
			zap.String("endpoint", config.HTTPMetricsEndpoint),
		)
	}

	goodbye.Register(func(context.Context, os.Signal) {
		logger.Debug("stopping poller", logfields.Event("poller_stopping"))
		poller.Stop()

		if err := st.Close(); err != nil {
			logger.Warn(
				"closing state database failed",
				logfields.Event("store_close_failed"),
				zap.Error(err),
			)
		}
	})

	poller.Start()

	if config.HTTPListenAddr != "" {
		startHTTPServer(config.HTTPListenAddr, router)
	}

	if config.HTTPSListenAddr != "" {
		startHTTPSServer(
			config.HTTPSListenAddr,
			config.HTTPSCertFile,
			config.HTTPSKeyFile,
			router,
		)
	}

	select {}
}
