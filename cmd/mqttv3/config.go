package main

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/vitalvas/mqttv3"
)

// Config is the connection configuration shared by pub and sub.
//
// Values are layered: defaults, then the YAML file given by --config, then
// MQTT_HOST, MQTT_PORT, MQTT_ID, MQTT_QOS and MQTT_LOG, then explicitly set
// flags.
type Config struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	ClientID       string `yaml:"client_id"`
	KeepAlive      uint16 `yaml:"keep_alive"`
	NoCleanSession bool   `yaml:"no_clean_session"`
	QoS            string `yaml:"qos"`
	TLS            bool   `yaml:"tls"`
	Insecure       bool   `yaml:"insecure"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	LogLevel       string `yaml:"log_level"`
	Reconnect      bool   `yaml:"reconnect"`
}

const persistentClientID = "mqttv3-cli"

func defaultConfig() Config {
	return Config{
		Host:      "localhost",
		KeepAlive: mqttv3.DefaultKeepAlive,
		QoS:       "0",
		LogLevel:  "error",
	}
}

// flagValues holds flag values before they are merged into a Config.
type flagValues struct {
	configFile string
	cfg        Config
}

func (f *flagValues) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.configFile, "config", "", "YAML configuration file")
	fs.StringVarP(&f.cfg.Host, "host", "H", "localhost", "broker host (MQTT_HOST)")
	fs.IntVarP(&f.cfg.Port, "port", "p", 0, "broker port (MQTT_PORT), 1883 or 8883 with --tls")
	fs.StringVarP(&f.cfg.ClientID, "id", "i", "", "client identifier (MQTT_ID), random when empty")
	fs.Uint16VarP(&f.cfg.KeepAlive, "keep-alive", "k", mqttv3.DefaultKeepAlive, "keep-alive interval in seconds")
	fs.BoolVarP(&f.cfg.NoCleanSession, "no-clean-session", "c", false, "resume a persistent session")
	fs.StringVarP(&f.cfg.QoS, "qos", "q", "0", "quality of service, 0, 1 or 2 (MQTT_QOS)")
	fs.BoolVar(&f.cfg.TLS, "tls", false, "connect with TLS")
	fs.BoolVar(&f.cfg.Insecure, "insecure", false, "skip TLS certificate verification")
	fs.StringVarP(&f.cfg.Username, "username", "u", "", "user name")
	fs.StringVarP(&f.cfg.Password, "password", "P", "", "password")
	fs.StringVar(&f.cfg.LogLevel, "log-level", "error", "log level (MQTT_LOG)")
	fs.BoolVar(&f.cfg.Reconnect, "reconnect", false, "reconnect automatically after connection loss")
}

// resolve builds the effective configuration.
func (f *flagValues) resolve(fs *pflag.FlagSet, getenv func(string) string) (Config, error) {
	cfg := defaultConfig()

	if f.configFile != "" {
		if err := loadConfigFile(f.configFile, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg, getenv); err != nil {
		return Config{}, err
	}

	applyFlags(&cfg, &f.cfg, fs)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv("MQTT_HOST"); v != "" {
		cfg.Host = v
	}
	if v := getenv("MQTT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MQTT_PORT: %w", err)
		}
		cfg.Port = port
	}
	if v := getenv("MQTT_ID"); v != "" {
		cfg.ClientID = v
	}
	if v := getenv("MQTT_QOS"); v != "" {
		cfg.QoS = v
	}
	if v := getenv("MQTT_LOG"); v != "" {
		cfg.LogLevel = v
	}
	return nil
}

// applyFlags copies only the flags the user set.
func applyFlags(cfg, flags *Config, fs *pflag.FlagSet) {
	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "host":
			cfg.Host = flags.Host
		case "port":
			cfg.Port = flags.Port
		case "id":
			cfg.ClientID = flags.ClientID
		case "keep-alive":
			cfg.KeepAlive = flags.KeepAlive
		case "no-clean-session":
			cfg.NoCleanSession = flags.NoCleanSession
		case "qos":
			cfg.QoS = flags.QoS
		case "tls":
			cfg.TLS = flags.TLS
		case "insecure":
			cfg.Insecure = flags.Insecure
		case "username":
			cfg.Username = flags.Username
		case "password":
			cfg.Password = flags.Password
		case "log-level":
			cfg.LogLevel = flags.LogLevel
		case "reconnect":
			cfg.Reconnect = flags.Reconnect
		}
	})
}

func (c Config) validate() error {
	if c.Host == "" {
		return errors.New("host is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if _, err := c.QoSLevel(); err != nil {
		return err
	}
	if _, err := mqttv3.ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// QoSLevel parses the configured quality of service.
func (c Config) QoSLevel() (mqttv3.QoS, error) {
	qos, err := mqttv3.ParseQoS(c.QoS)
	if err != nil {
		return 0, fmt.Errorf("qos: %w", err)
	}
	return qos, nil
}

// BrokerURL returns the URL dialed by the client.
func (c Config) BrokerURL() string {
	scheme := "tcp"
	if c.TLS {
		scheme = "tls"
	}

	port := strconv.Itoa(c.Port)
	if c.Port == 0 {
		port = mqttv3.DefaultPort(scheme)
	}
	return scheme + "://" + net.JoinHostPort(c.Host, port)
}

// Options converts the configuration into client options.
func (c Config) Options(logger mqttv3.Logger) []mqttv3.Option {
	opts := []mqttv3.Option{
		mqttv3.WithKeepAlive(c.KeepAlive),
		mqttv3.WithCleanSession(!c.NoCleanSession),
		mqttv3.WithLogger(logger),
		mqttv3.WithAutoReconnect(c.Reconnect),
	}

	switch {
	case c.ClientID != "":
		opts = append(opts, mqttv3.WithClientID(c.ClientID))
	case c.NoCleanSession:
		// a persistent session needs an identifier that survives restarts
		opts = append(opts, mqttv3.WithClientID(persistentClientID))
	}
	if c.Username != "" {
		opts = append(opts, mqttv3.WithCredentials(c.Username, c.Password))
	}
	if c.TLS {
		opts = append(opts, mqttv3.WithTLS(&tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: c.Insecure, //nolint:gosec // opt-in via --insecure
		}))
	}

	return opts
}
