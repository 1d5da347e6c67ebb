package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dd0wney/cluso-syncstore/pkg/syncstore"
)

const envPrefix = "SYNCSTORE_"

// settings is the merged process configuration: defaults, then the YAML
// file, then SYNCSTORE_* environment variables, then flags
type settings struct {
	ConfigPath string
	Listen     string
	LogLevel   string
	DB         syncstore.Config
}

// loadSettings parses args against env. getenv is os.Getenv outside tests.
func loadSettings(args []string, getenv func(string) string, stderr io.Writer) (*settings, error) {
	fs := flag.NewFlagSet("syncstore", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		configPath = fs.String("config", "", "YAML config file")
		listen     = fs.String("listen", "", "HTTP listen address (default :8080)")
		logLevel   = fs.String("log-level", "", "debug, info, warn or error")
		localURL   = fs.String("local-url", "", "local store URL as this process reaches it")
		myURL      = fs.String("my-url", "", "local store URL as peers reach it")
		name       = fs.String("name", "", "replicated collection name")
		nodeID     = fs.String("uuid", "", "stable node id; generated when empty")
		priority   = fs.Int("priority", -1, "election priority, lower wins")
		seed       = fs.String("seed", "", "peer store URL to replicate from at startup")
		keepAlive  = fs.Duration("keep-alive", 0, "health check interval")
		retry      = fs.Duration("retry-master", 0, "interval for re-electing the master")
	)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	s := &settings{ConfigPath: *configPath, Listen: ":8080", LogLevel: "info"}

	if s.ConfigPath == "" {
		s.ConfigPath = getenv(envPrefix + "CONFIG")
	}
	if s.ConfigPath != "" {
		fc, err := syncstore.LoadConfigFile(s.ConfigPath)
		if err != nil {
			return nil, err
		}
		s.DB = fc.DB
		s.Listen = orString(fc.Listen, s.Listen)
		s.LogLevel = orString(fc.LogLevel, s.LogLevel)
	}

	if err := s.applyEnv(getenv); err != nil {
		return nil, err
	}

	s.Listen = orString(*listen, s.Listen)
	s.LogLevel = orString(*logLevel, s.LogLevel)
	s.DB.LocalURL = orString(*localURL, s.DB.LocalURL)
	s.DB.AdvertiseURL = orString(*myURL, s.DB.AdvertiseURL)
	s.DB.Name = orString(*name, s.DB.Name)
	s.DB.NodeID = orString(*nodeID, s.DB.NodeID)
	s.DB.Seed = orString(*seed, s.DB.Seed)
	if *priority >= 0 {
		s.DB.Priority = *priority
	}
	if *keepAlive > 0 {
		s.DB.KeepAlive = *keepAlive
	}
	if *retry > 0 {
		s.DB.RetryMaster = *retry
	}

	s.DB.ApplyDefaults()
	return s, nil
}

func (s *settings) applyEnv(getenv func(string) string) error {
	env := func(key string) string { return strings.TrimSpace(getenv(envPrefix + key)) }

	s.Listen = orString(env("LISTEN"), s.Listen)
	s.LogLevel = orString(env("LOG_LEVEL"), orString(getenv("LOG_LEVEL"), s.LogLevel))
	s.DB.LocalURL = orString(env("LOCAL_URL"), s.DB.LocalURL)
	s.DB.AdvertiseURL = orString(env("MY_URL"), s.DB.AdvertiseURL)
	s.DB.Name = orString(env("NAME"), s.DB.Name)
	s.DB.NodeID = orString(env("UUID"), s.DB.NodeID)
	s.DB.Seed = orString(env("SEED"), s.DB.Seed)

	if v := env("PRIORITY"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sPRIORITY: %w", envPrefix, err)
		}
		s.DB.Priority = p
	}
	for key, target := range map[string]*time.Duration{
		"KEEP_ALIVE":   &s.DB.KeepAlive,
		"RETRY_MASTER": &s.DB.RetryMaster,
	} {
		if v := env(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, key, err)
			}
			*target = d
		}
	}
	if v := env("PROCESS_CONFLICTS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sPROCESS_CONFLICTS: %w", envPrefix, err)
		}
		s.DB.ProcessConflicts = &b
	}
	return nil
}

func orString(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

// reloadLogLevel rereads the log level from the config file and environment
func reloadLogLevel(path string) (string, error) {
	level := os.Getenv(envPrefix + "LOG_LEVEL")
	if path != "" {
		fc, err := syncstore.LoadConfigFile(path)
		if err != nil {
			return "", err
		}
		level = orString(level, fc.LogLevel)
	}
	return orString(level, "info"), nil
}
