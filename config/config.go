// Package config loads the single YAML document described.
package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigError is fatal at startup: missing/invalid fields or an unreadable
// key file.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config: " + e.Err.Error()
	}
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}
func (e *ConfigError) Unwrap() error { return e.Err }

// Document is the recognized shape of the YAML config file.
type Document struct {
	User        string `yaml:"user"`
	Account     string `yaml:"account"`
	URL         string `yaml:"url"`
	Role        string `yaml:"role"`
	Database    string `yaml:"database"`
	Schema      string `yaml:"schema"`
	Pipe        string `yaml:"pipe"`
	ChannelName string `yaml:"channel_name"`

	// ControlBase is the host-discovery endpoint base, distinct from the
	// OAuth URL; it defaults from Account when empty.
	ControlBase string `yaml:"control_base"`

	PAT            string `yaml:"pat"`
	PrivateKeyFile string `yaml:"private_key_file"`

	BatchSize            int     `yaml:"batch_size"`
	IntervalSeconds      float64 `yaml:"interval_seconds"`
	Fast                 bool    `yaml:"fast"`
	SensorRefreshSeconds float64 `yaml:"sensor_refresh_seconds"`
	SystemRefreshSeconds float64 `yaml:"system_refresh_seconds"`
}

// Load reads and strictly decodes a YAML config document, applies
// defaults, and validates it.
func Load(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ConfigError{Field: "path", Err: err}
	}
	defer f.Close()

	doc, err := Parse(f)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Parse decodes and validates a config document from r, applying defaults.
func Parse(r io.Reader) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, &ConfigError{Field: "yaml", Err: err}
	}
	doc.applyDefaults()
	if err := doc.validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (d *Document) applyDefaults() {
	if d.BatchSize <= 0 {
		d.BatchSize = 10
	}
	if d.IntervalSeconds <= 0 {
		d.IntervalSeconds = 5.0
	}
	if d.SensorRefreshSeconds <= 0 {
		d.SensorRefreshSeconds = 5.0
	}
	if d.SystemRefreshSeconds <= 0 {
		d.SystemRefreshSeconds = 60.0
	}
	if d.ControlBase == "" && d.Account != "" {
		d.ControlBase = fmt.Sprintf("https://%s.snowflakecomputing.com", d.Account)
	}
}

func (d *Document) validate() error {
	required := map[string]string{
		"user":         d.User,
		"account":      d.Account,
		"url":          d.URL,
		"role":         d.Role,
		"database":     d.Database,
		"schema":       d.Schema,
		"pipe":         d.Pipe,
		"channel_name": d.ChannelName,
	}
	for field, v := range required {
		if v == "" {
			return &ConfigError{Field: field, Err: fmt.Errorf("required field is empty")}
		}
	}

	hasPAT := d.PAT != ""
	hasKey := d.PrivateKeyFile != ""
	if hasPAT == hasKey {
		return &ConfigError{Field: "pat/private_key_file", Err: fmt.Errorf("exactly one of pat or private_key_file must be set")}
	}
	return nil
}

// IntraBatchDelay returns the pacing pause between readings within a
// batch: 50ms under the fast profile, 500ms otherwise.
func (d *Document) IntraBatchDelay() time.Duration {
	if d.Fast {
		return 50 * time.Millisecond
	}
	return 500 * time.Millisecond
}

// InterBatchInterval returns the configured pause between batches.
func (d *Document) InterBatchInterval() time.Duration {
	return time.Duration(d.IntervalSeconds * float64(time.Second))
}

// SensorRefresh returns the configured SensorCache sample period.
func (d *Document) SensorRefresh() time.Duration {
	return time.Duration(d.SensorRefreshSeconds * float64(time.Second))
}

// SystemRefresh returns the configured SystemMetrics refresh interval.
func (d *Document) SystemRefresh() time.Duration {
	return time.Duration(d.SystemRefreshSeconds * float64(time.Second))
}

// UsesSignedToken reports whether this config selects the signed-token
// TokenSource variant rather than a static bearer.
func (d *Document) UsesSignedToken() bool {
	return d.PrivateKeyFile != ""
}
