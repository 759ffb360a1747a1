package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/structs"
	"github.com/spf13/pflag"

	"github.com/vidstitch/adproxy/pkg/logging"
)

type ServerConfig struct {
	LogFormat    string `json:"logformat"`
	LogLevel     string `json:"loglevel"`
	Port         int    `json:"port"`
	TimeoutS     int    `json:"timeoutS"`
	ConfigURL    string `json:"configurl"`
	DecisionURL  string `json:"decisionurl"`
	RedisURL     string `json:"redisurl"`
	SignSecret   string `json:"signsecret"`
	SignTTLS     int    `json:"signttlS"`
	JWTAlg       string `json:"jwtalg"`
	JWTSecret    string `json:"jwtsecret"`
	JWTKeyFile   string `json:"jwtkeyfile"`
	MaxRequests  int    `json:"maxrequests"`
	ReqLimitIntS int    `json:"reqlimitintS"`
	CertPath     string `json:"certpath"`
	KeyPath      string `json:"keypath"`
	Version      bool   `json:"version"`
}

var DefaultConfig = ServerConfig{
	LogFormat:    "pretty",
	LogLevel:     "info",
	Port:         8889,
	TimeoutS:     10,
	SignTTLS:     900,
	ReqLimitIntS: 60,
}

// LoadConfig loads defaults, config file, command line, and finally applies
// environment variables (ADPROXY_ prefix).
func LoadConfig(args []string) (*ServerConfig, error) {
	// First set default values
	k := koanf.New(".")
	defaults := DefaultConfig
	k.Load(structs.Provider(defaults, "json"), nil)

	f := pflag.NewFlagSet("adproxy", pflag.ContinueOnError)
	f.Usage = func() {
		parts := strings.Split(args[0], "/")
		name := parts[len(parts)-1]
		fmt.Fprintf(os.Stderr, "Run as %s [options]:\n", name)
		f.PrintDefaults()
	}
	cfgFile := f.String("cfg", "", "path to a JSON config file")
	f.Int("port", k.Int("port"), "HTTP port")
	lf := strings.Join(logging.LogFormats, ", ")
	f.String("logformat", k.String("logformat"), fmt.Sprintf("log format [%s]", lf))
	ll := strings.Join(logging.LogLevels, ", ")
	f.String("loglevel", k.String("loglevel"), fmt.Sprintf("log level [%s]", ll))
	f.Int("timeout", k.Int("timeoutS"), "timeout for all requests (seconds)")
	f.String("configurl", k.String("configurl"), "channel config service base URL")
	f.String("decisionurl", k.String("decisionurl"), "ad decision service URL")
	f.String("redisurl", k.String("redisurl"), "redis URL for the break store (empty means in-memory)")
	f.Int("signttl", k.Int("signttlS"), "signed URL lifetime (seconds)")
	f.String("jwtalg", k.String("jwtalg"), "JWT algorithm to require [HS256, RS256] (empty disables auth)")
	f.String("jwtkeyfile", k.String("jwtkeyfile"), "RS256 public key file (PEM or JWK)")
	f.Int("maxrequests", k.Int("maxrequests"), "max playlist requests per IP per interval (0 disables)")
	f.Int("reqlimitint", k.Int("reqlimitintS"), "interval for the IP request limiter (seconds)")
	f.String("certpath", k.String("certpath"), "path to TLS certificate file (for HTTPS)")
	f.String("keypath", k.String("keypath"), "path to TLS private key file (for HTTPS)")
	f.Bool("version", false, "print version and exit")
	if err := f.Parse(args[1:]); err != nil {
		return nil, fmt.Errorf("command line parse: %w", err)
	}

	// Load the config file provided on the command line.
	if *cfgFile != "" {
		cf := file.Provider(*cfgFile)
		if err := k.Load(cf, json.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	// Possibly override config file with command line parameters
	if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
		return nil, fmt.Errorf("parsing cli: %v", err)
	}

	// Overload with environment variables. Secrets normally arrive here.
	k.Load(env.Provider("ADPROXY_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "ADPROXY_")), "_", ".", -1)
	}), nil)

	var cfg ServerConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
