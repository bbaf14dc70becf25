package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/spf13/viper"
)

// Config captures the runtime settings for the natgate control API.
type Config struct {
	PublicIP         string        `mapstructure:"public-ip"`
	ListenAddr       string        `mapstructure:"listen-addr"`
	ListenPort       int           `mapstructure:"listen-port"`
	DryRun           bool          `mapstructure:"dry-run"`
	MetricsAddr      string        `mapstructure:"metrics-addr"`
	AllowedProtocols []string      `mapstructure:"allowed-protocols"`
	KubeNamespace    string        `mapstructure:"kube-namespace"`
	Kubeconfig       string        `mapstructure:"kubeconfig"`
	LogLevel         string        `mapstructure:"log-level"`
	LogFile          string        `mapstructure:"log-file"`
	AccessLog        bool          `mapstructure:"access-log"`
	AuditInterval    time.Duration `mapstructure:"audit-interval"`
}

// Load reads configuration values from viper into a Config instance.
func Load() (Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to load configuration: %w", err)
	}
	cfg.AllowedProtocols = splitList(cfg.AllowedProtocols)
	return cfg, nil
}

// Validate reports every problem with the configuration at once.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.PublicIP) == "" {
		errs = append(errs, errors.New("public-ip is required"))
	} else if !govalidator.IsIPv4(c.PublicIP) {
		errs = append(errs, fmt.Errorf("public-ip %q must be an IPv4 address", c.PublicIP))
	}
	if c.ListenAddr != "" && !govalidator.IsIP(c.ListenAddr) && !govalidator.IsDNSName(c.ListenAddr) {
		errs = append(errs, fmt.Errorf("listen-addr %q must be an IP address or host name", c.ListenAddr))
	}
	if !govalidator.InRangeInt(c.ListenPort, 0, 65535) {
		errs = append(errs, fmt.Errorf("listen-port %d must be between 0 and 65535", c.ListenPort))
	}
	if len(c.AllowedProtocols) == 0 {
		errs = append(errs, errors.New("allowed-protocols must name at least one protocol"))
	}
	for _, p := range c.AllowedProtocols {
		if !govalidator.IsAlpha(p) {
			errs = append(errs, fmt.Errorf("allowed-protocols entry %q is not a protocol name", p))
		}
	}
	if c.AuditInterval < 0 {
		errs = append(errs, fmt.Errorf("audit-interval %s must not be negative", c.AuditInterval))
	}
	if c.Kubeconfig != "" && c.KubeNamespace == "" {
		errs = append(errs, errors.New("kubeconfig requires kube-namespace"))
	}

	return errors.Join(errs...)
}

// ListenAddress joins the control API bind address and port.
func (c Config) ListenAddress() string {
	return net.JoinHostPort(c.ListenAddr, strconv.Itoa(c.ListenPort))
}

// splitList accepts both repeated values and comma separated entries, as
// produced by flags and environment variables respectively.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
