package main

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

// Defaults match a stock dockerized Bitcoin Core with its RPC port
// published on localhost.
const (
	defaultHost     = "localhost"
	defaultPort     = 8332
	defaultUser     = "bitcoin"
	defaultPassword = "bitcoinpassword"
	defaultTimeout  = 2 * time.Minute
	defaultConfFile = "bitcoin.conf"
	defaultLogLevel = "warn"
)

type config struct {
	Host     string
	Port     int
	User     string
	Password string
	Timeout  time.Duration

	// Where the conf file was looked for, whether it was found, and
	// the raw key=value pairs it contained. Kept for the config
	// display command.
	ConfPath  string
	ConfFound bool
	ConfKeys  map[string]string
}

func (c config) rpcHost() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func registerFlags(flags *pflag.FlagSet) {
	flags.String("host", defaultHost, "bitcoind hostname")
	flags.Int("port", defaultPort, "bitcoind RPC port")
	flags.String("user", defaultUser, "RPC username")
	flags.String("password", defaultPassword, "RPC password")
	flags.Duration("timeout", defaultTimeout, "per-call timeout")
	flags.String("conf", "", "path to a bitcoin.conf file (default: ./bitcoin.conf, if present)")
	flags.String("log-level", defaultLogLevel, "log level (trace, debug, info, warn, error)")
	flags.Bool("json-log", false, "log JSON instead of console output")
}

// resolveConfig layers, in ascending priority: hardcoded defaults, the
// bitcoin.conf file, and command-line flags. A missing conf file at the
// default location is fine; a missing file named with --conf is an error.
func resolveConfig(flags *pflag.FlagSet) (config, error) {
	cfg := config{
		Host:     defaultHost,
		Port:     defaultPort,
		User:     defaultUser,
		Password: defaultPassword,
		Timeout:  defaultTimeout,
	}

	confPath, err := flags.GetString("conf")
	if err != nil {
		return cfg, err
	}
	explicit := confPath != ""
	if !explicit {
		confPath = defaultConfFile
	}
	cfg.ConfPath = confPath

	values, err := parseConfFile(confPath)
	switch {
	case err == nil:
		cfg.ConfFound = true
		cfg.ConfKeys = values
		applyConfValues(&cfg, values)

	case explicit || !errors.Is(err, fs.ErrNotExist):
		return cfg, fmt.Errorf("read conf file: %w", err)
	}

	if flags.Changed("host") {
		cfg.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("user") {
		cfg.User, _ = flags.GetString("user")
	}
	if flags.Changed("password") {
		cfg.Password, _ = flags.GetString("password")
	}
	if flags.Changed("timeout") {
		cfg.Timeout, _ = flags.GetDuration("timeout")
	}

	return cfg, nil
}

func applyConfValues(cfg *config, values map[string]string) {
	if v, ok := values["rpcuser"]; ok {
		cfg.User = v
	}
	if v, ok := values["rpcpassword"]; ok {
		cfg.Password = v
	}
	if v, ok := values["rpcport"]; ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			log.Warn().Str("rpcport", v).Msg("ignoring unparseable rpcport in conf file")
			return
		}
		cfg.Port = port
	}
}

// parseConfFile reads a flat key=value file in bitcoin.conf format.
// Blank lines and #-comments are skipped; keys and values are trimmed.
// Lines without an equals sign are ignored.
func parseConfFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}

		values[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	return values, nil
}
