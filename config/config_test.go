package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
user: BOTUSER
account: ACME
url: https://acme.snowflakecomputing.com/oauth/token-request
role: INGEST_ROLE
database: DB1
schema: PUBLIC
pipe: SENSOR_PIPE
channel_name: rpi-01
pat: static-token-abc
`

func TestParseAppliesDefaults(t *testing.T) {
	doc, err := Parse(strings.NewReader(validYAML))
	require.NoError(t, err)

	assert.Equal(t, 10, doc.BatchSize)
	assert.Equal(t, 5.0, doc.IntervalSeconds)
	assert.Equal(t, 5.0, doc.SensorRefreshSeconds)
	assert.Equal(t, 60.0, doc.SystemRefreshSeconds)
	assert.Equal(t, "https://ACME.snowflakecomputing.com", doc.ControlBase)
	assert.False(t, doc.UsesSignedToken())
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse(strings.NewReader(validYAML + "\nbogus_field: 1\n"))
	assert.Error(t, err)
}

func TestParseRequiresExactlyOneCredentialField(t *testing.T) {
	both := validYAML + "\nprivate_key_file: /tmp/key.pem\n"
	_, err := Parse(strings.NewReader(both))
	assert.Error(t, err)

	neither := strings.Replace(validYAML, "pat: static-token-abc", "", 1)
	_, err = Parse(strings.NewReader(neither))
	assert.Error(t, err)
}

func TestParseRequiresCoreFields(t *testing.T) {
	missing := strings.Replace(validYAML, "database: DB1", "", 1)
	_, err := Parse(strings.NewReader(missing))
	require.Error(t, err)
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestIntraBatchDelayRespectsFastProfile(t *testing.T) {
	doc, err := Parse(strings.NewReader(validYAML))
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, doc.IntraBatchDelay())

	fast, err := Parse(strings.NewReader(validYAML + "\nfast: true\n"))
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, fast.IntraBatchDelay())
}

func TestDurationHelpers(t *testing.T) {
	doc, err := Parse(strings.NewReader(validYAML + "\ninterval_seconds: 2.5\n"))
	require.NoError(t, err)
	assert.Equal(t, 2500*time.Millisecond, doc.InterBatchInterval())
}
