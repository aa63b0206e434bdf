package common

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/weaveworks/promrus"

	commonconfig "github.com/armadaproject/torquekernel/internal/common/config"
	"github.com/armadaproject/torquekernel/internal/common/logging"
)

const baseConfigFileName = "config"

// EnvPrefix is prepended to every configuration key read from the environment,
// e.g. polling.maxWait can be set with TORQUEKERNEL_POLLING_MAXWAIT.
const EnvPrefix = "TORQUEKERNEL"

// LoadConfig populates config from, in order of increasing precedence, the config.yaml found in
// defaultPath, any user specified files, the environment and the flags in flags that were set.
// flags may be nil.
func LoadConfig(config interface{}, defaultPath string, overrideConfigs []string, flags *pflag.FlagSet) *viper.Viper {
	v := viper.New()
	v.SetConfigName(baseConfigFileName)
	v.AddConfigPath(defaultPath)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			log.Errorf("Error reading base config path=%s name=%s: %v", defaultPath, baseConfigFileName, err)
			os.Exit(-1)
		}
		log.Debugf("No base config found in %s, using defaults", defaultPath)
	} else {
		log.Debugf("Read base config from %s", v.ConfigFileUsed())
	}

	for _, overrideConfig := range overrideConfigs {
		v.SetConfigFile(overrideConfig)
		if err := v.MergeInConfig(); err != nil {
			log.Errorf("Error reading config from %s: %v", overrideConfig, err)
			os.Exit(-1)
		}
		log.Debugf("Read config from %s", v.ConfigFileUsed())
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	BindCommandlineArguments(v, flags)

	if err := v.Unmarshal(config, commonconfig.CustomHooks...); err != nil {
		log.Error(err)
		os.Exit(-1)
	}
	return v
}

// BindCommandlineArguments makes the flags in flags visible to v under their own names.
func BindCommandlineArguments(v *viper.Viper, flags *pflag.FlagSet) {
	if flags == nil {
		return
	}
	if err := v.BindPFlags(flags); err != nil {
		log.Error(err)
		os.Exit(-1)
	}
}

func ConfigureLogging() {
	log.SetFormatter(&log.TextFormatter{ForceColors: true, FullTimestamp: true})
	log.SetOutput(os.Stderr)
}

// ConfigureCommandLineLogging prints bare messages, which is what a person at a terminal wants.
func ConfigureCommandLineLogging() {
	log.SetFormatter(new(logging.CommandLineFormatter))
	log.SetOutput(os.Stderr)
}

// ServeMetrics exposes the default prometheus registry on /metrics and counts log lines per level.
// The returned function shuts the server down.
func ServeMetrics(port uint16) (shutdown func()) {
	hook := promrus.MustNewPrometheusHook()
	log.AddHook(hook)
	log.Infof("Metrics listening on port %d", port)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return ServeHttp(port, mux)
}

func ServeHttp(port uint16, mux http.Handler) (shutdown func()) {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.WithStacktrace(log.WithField("port", port), err).Error("http server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Infof("Stopping http server listening on %d", port)
		if err := srv.Shutdown(ctx); err != nil {
			logging.WithStacktrace(log.NewEntry(log.StandardLogger()), err).Warn("http server did not shut down cleanly")
		}
	}
}
