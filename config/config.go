// Package config loads, validates and watches the LSD client's
// configuration document.
package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/fsnotify/fsnotify"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	envPrefix     = "LSD"
	configSection = "lsd_config"

	currentConfigVersion = 1

	cacheTypeRAMOnly    = "ram_only"
	cacheTypePersistent = "persistent"

	autodiscoveryTypeStatic    = "static"
	autodiscoveryTypeMulticast = "multicast"
)

// ServiceEntry describes one upstream service the client may dispatch to.
type ServiceEntry struct {
	Name        string `mapstructure:"name" json:"name"`
	Description string `mapstructure:"description" json:"description,omitempty"`
	AppName     string `mapstructure:"app_name" json:"app_name"`
	Instance    string `mapstructure:"instance" json:"instance"`
	HostsURL    string `mapstructure:"hosts_url" json:"hosts_url"`
	ControlPort int    `mapstructure:"control_port" json:"control_port"`
}

// LoggerConfig mirrors the ambient logging setup described in SPEC_FULL.md.
type LoggerConfig struct {
	Type       string `mapstructure:"type" json:"type"`
	Level      string `mapstructure:"level" json:"level"`
	File       string `mapstructure:"file" json:"file,omitempty"`
	SyslogName string `mapstructure:"syslog_name" json:"syslog_name,omitempty"`
}

// MessageCacheConfig bounds how much in-memory message data the client may
// hold before Submit starts rejecting new work.
type MessageCacheConfig struct {
	MaxRAMLimitMiB int    `mapstructure:"max_ram_limit_mib" json:"max_ram_limit_mib"`
	Type           string `mapstructure:"type" json:"type"`
}

// PersistentStorageConfig describes the optional eblob-backed overflow
// storage for cache entries beyond the RAM limit.
type PersistentStorageConfig struct {
	EblobPath         string `mapstructure:"eblob_path" json:"eblob_path,omitempty"`
	EblobLogPath      string `mapstructure:"eblob_log_path" json:"eblob_log_path,omitempty"`
	EblobLogFlags     string `mapstructure:"eblob_log_flags" json:"eblob_log_flags,omitempty"`
	EblobSyncInterval int    `mapstructure:"eblob_sync_interval" json:"eblob_sync_interval,omitempty"`
}

// AutodiscoveryConfig selects how the client finds live service hosts.
type AutodiscoveryConfig struct {
	Type          string `mapstructure:"type" json:"type"`
	MulticastIP   string `mapstructure:"multicast_ip" json:"multicast_ip,omitempty"`
	MulticastPort int    `mapstructure:"multicast_port" json:"multicast_port,omitempty"`
}

// StatisticsConfig controls the optional HTTP statistics endpoint.
type StatisticsConfig struct {
	Enabled      bool `mapstructure:"enabled" json:"enabled"`
	RemoteAccess bool `mapstructure:"remote_access" json:"remote_access"`
	RemotePort   int  `mapstructure:"remote_port" json:"remote_port"`
}

// Config is the root LSD client configuration document.
type Config struct {
	ConfigVersion int    `mapstructure:"config_version" json:"config_version"`
	Name          string `mapstructure:"name" json:"name"`

	MessageTimeoutSeconds  int `mapstructure:"message_timeout_seconds" json:"message_timeout_seconds"`
	SocketPollTimeoutMS    int `mapstructure:"socket_poll_timeout_ms" json:"socket_poll_timeout_ms"`

	Logger            LoggerConfig            `mapstructure:"logger" json:"logger"`
	MessageCache      MessageCacheConfig      `mapstructure:"message_cache" json:"message_cache"`
	PersistentStorage PersistentStorageConfig `mapstructure:"persistent_storage" json:"persistent_storage"`
	Autodiscovery     AutodiscoveryConfig     `mapstructure:"autodiscovery" json:"autodiscovery"`
	Statistics        StatisticsConfig        `mapstructure:"statistics" json:"statistics"`
	Services          []ServiceEntry          `mapstructure:"services" json:"services"`

	// EncryptConfig, when equal to fileEncryptionEnabled, causes
	// SaveConfigToFile to encrypt the document at rest.
	EncryptConfig int `mapstructure:"encrypt_config" json:"encrypt_config"`

	// EncryptionKeyProvider supplies the passphrase used to encrypt or
	// decrypt the document, defaulting to PromptForConfigKey.
	EncryptionKeyProvider func(confirm bool) ([]byte, error) `mapstructure:"-" json:"-"`

	sessionDK  []byte
	storedSalt []byte

	v *viper.Viper
}

// New returns a Config with sane defaults, ready for ReadConfigFromFile or
// direct population in tests.
func New() *Config {
	return &Config{
		ConfigVersion: currentConfigVersion,
		Logger:        LoggerConfig{Type: "console", Level: "info"},
		MessageCache:  MessageCacheConfig{MaxRAMLimitMiB: 512, Type: cacheTypeRAMOnly},
		Autodiscovery: AutodiscoveryConfig{Type: autodiscoveryTypeStatic},
	}
}

// ReadConfigFromFile loads path into c, using viper with LSD_-prefixed
// environment overrides for plaintext documents. Encrypted documents are
// detected and decrypted first; when promptIfEncrypted is true and no
// EncryptionKeyProvider is set, the operator is prompted on stdin.
func (c *Config) ReadConfigFromFile(path string, promptIfEncrypted bool) error {
	if c == nil {
		return errNilConfig
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "config: reading %s", path)
	}

	if IsEncrypted(raw) {
		key, err := c.resolveKey(promptIfEncrypted)
		if err != nil {
			return errors.Wrap(err, "config: resolving encryption key")
		}
		raw, err = DecryptConfigData(raw, key)
		if err != nil {
			return errors.Wrap(err, "config: decrypting config")
		}
		c.EncryptConfig = fileEncryptionEnabled
	}

	if err := c.readConfig(bytes.NewReader(raw)); err != nil {
		return err
	}
	c.v.SetConfigFile(path)
	return c.Check()
}

func (c *Config) resolveKey(promptIfEncrypted bool) ([]byte, error) {
	if c.EncryptionKeyProvider != nil {
		return c.EncryptionKeyProvider(false)
	}
	if !promptIfEncrypted {
		return nil, errKeyIsEmpty
	}
	return PromptForConfigKey(false)
}

// readConfig parses the plaintext JSON document in through viper, applying
// environment overrides under the LSD_ prefix and unmarshalling the
// lsd_config section into c.
func (c *Config) readConfig(in io.Reader) error {
	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if err := v.ReadConfig(in); err != nil {
		return errors.Wrap(err, "config: parsing document")
	}

	sub := v.Sub(configSection)
	if sub == nil {
		return errors.Errorf("config: missing top-level %q section", configSection)
	}
	if err := sub.Unmarshal(c); err != nil {
		return errors.Wrap(err, "config: unmarshalling document")
	}

	c.v = v
	return nil
}

// SaveConfigToFile writes c to path as JSON, encrypting it first when
// EncryptConfig is enabled.
func (c *Config) SaveConfigToFile(path string) error {
	if c == nil {
		return errNilConfig
	}

	payload, err := marshalDocument(c)
	if err != nil {
		return errors.Wrap(err, "config: marshalling document")
	}

	if c.EncryptConfig == fileEncryptionEnabled {
		payload, err = c.encryptConfigData(payload)
		if err != nil {
			return err
		}
	}

	return os.WriteFile(path, payload, 0o600)
}

func marshalDocument(c *Config) ([]byte, error) {
	return json.MarshalIndent(map[string]*Config{configSection: c}, "", "  ")
}

// encryptConfigData encrypts data under the receiver's session key,
// deriving and caching one on first use.
func (c *Config) encryptConfigData(data []byte) ([]byte, error) {
	if c.EncryptConfig != fileEncryptionEnabled {
		return nil, ErrSettingEncryptConfig
	}
	if len(c.sessionDK) == 0 {
		key, err := c.resolveKey(false)
		if err != nil {
			return nil, err
		}
		sessionDK, salt, err := makeNewSessionDK(key)
		if err != nil {
			return nil, err
		}
		c.sessionDK, c.storedSalt = sessionDK, salt
	}
	return sealWithSalt(data, c.sessionDK, c.storedSalt)
}

// Check validates c against the invariants every dispatching client
// requires: non-empty identifying fields, no duplicate services, and a
// recognized autodiscovery.type. The logger and message cache types are
// not checked.
func (c *Config) Check() error {
	if c == nil {
		return errNilConfig
	}

	validations := []vala.Checker{
		vala.StringNotEmpty(c.Name, "name"),
		vala.Not(vala.Equals(c.MessageCache.MaxRAMLimitMiB, 0, "message_cache.max_ram_limit_mib")),
	}

	switch c.Autodiscovery.Type {
	case autodiscoveryTypeStatic, autodiscoveryTypeMulticast:
	default:
		return errors.Errorf("config: unrecognized autodiscovery.type %q", c.Autodiscovery.Type)
	}

	if len(c.Services) == 0 {
		return ErrNoServices
	}

	names := make(map[string]struct{}, len(c.Services))
	ports := make(map[string]struct{}, len(c.Services))
	for _, svc := range c.Services {
		validations = append(validations,
			vala.StringNotEmpty(svc.Name, "services[].name"),
			vala.StringNotEmpty(svc.AppName, "services[].app_name"),
			vala.Not(vala.Equals(svc.ControlPort, 0, "services[].control_port")),
		)

		if _, dup := names[svc.Name]; dup {
			return errors.Errorf("config: duplicate service name %q", svc.Name)
		}
		names[svc.Name] = struct{}{}

		key := fmt.Sprintf("%s:%d", svc.AppName, svc.ControlPort)
		if _, dup := ports[key]; dup {
			return errors.Errorf("config: duplicate (app_name, control_port) %q", key)
		}
		ports[key] = struct{}{}
	}

	if err := vala.BeginValidation().Validate(validations...).Check(); err != nil {
		return errors.Wrap(err, "config: validation failed")
	}
	return nil
}

// Watch starts watching the file Config was loaded from for changes,
// invoking onChange with the added and removed service entries whenever the
// services list itself changes. Per-service host lists are intentionally
// excluded: those are owned and kept current by the discovery Collector,
// not by config reloads.
func (c *Config) Watch(ctx context.Context, onChange func(added, removed []ServiceEntry)) error {
	if c.v == nil {
		return errors.New("config: Watch called before ReadConfigFromFile")
	}

	have := serviceNames(c.Services)

	c.v.OnConfigChange(func(_ fsnotify.Event) {
		sub := c.v.Sub(configSection)
		if sub == nil {
			return
		}
		var next Config
		if err := sub.Unmarshal(&next); err != nil {
			fmt.Fprintf(os.Stderr, "config: reload failed: %v\n", err)
			return
		}

		now := serviceNames(next.Services)
		added, removed := diffServiceNames(have, now, next.Services, c.Services)
		if len(added) == 0 && len(removed) == 0 {
			return
		}

		c.mergeReloaded(&next)
		have = now
		onChange(added, removed)
	})
	c.v.WatchConfig()

	go func() {
		<-ctx.Done()
	}()
	return nil
}

func (c *Config) mergeReloaded(next *Config) {
	next.sessionDK, next.storedSalt, next.v = c.sessionDK, c.storedSalt, c.v
	next.EncryptionKeyProvider = c.EncryptionKeyProvider
	*c = *next
}

func serviceNames(services []ServiceEntry) map[string]struct{} {
	out := make(map[string]struct{}, len(services))
	for _, s := range services {
		out[s.Name] = struct{}{}
	}
	return out
}

func diffServiceNames(have, now map[string]struct{}, nowList, haveList []ServiceEntry) (added, removed []ServiceEntry) {
	for _, s := range nowList {
		if _, ok := have[s.Name]; !ok {
			added = append(added, s)
		}
	}
	for _, s := range haveList {
		if _, ok := now[s.Name]; !ok {
			removed = append(removed, s)
		}
	}
	sort.Slice(added, func(i, j int) bool { return added[i].Name < added[j].Name })
	sort.Slice(removed, func(i, j int) bool { return removed[i].Name < removed[j].Name })
	return added, removed
}
