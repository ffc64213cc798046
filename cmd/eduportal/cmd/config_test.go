package cmd

import (
	"bytes"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/eduportal/portal"
	"github.com/jmcleod/eduportal/upstream"
)

func TestEnvName(t *testing.T) {
	assert.Equal(t, "EDUPORTAL_UPSTREAM_URL", envName("upstream-url"))
	assert.Equal(t, "EDUPORTAL_PORT", envName("port"))
}

func TestBindEnv(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	url := fs.String("upstream-url", "", "")
	port := fs.Int("port", 8080, "")
	open := fs.Duration("breaker-open", 30*time.Second, "")
	secure := fs.Bool("secure-cookies", false, "")

	t.Setenv("EDUPORTAL_UPSTREAM_URL", "https://edu.example.org")
	t.Setenv("EDUPORTAL_PORT", "9000")
	t.Setenv("EDUPORTAL_BREAKER_OPEN", "1m")
	t.Setenv("EDUPORTAL_SECURE_COOKIES", "true")

	require.NoError(t, fs.Parse([]string{"--port", "7000"}))
	require.NoError(t, bindEnv(fs))

	assert.Equal(t, "https://edu.example.org", *url)
	assert.Equal(t, 7000, *port, "explicit flag wins over the environment")
	assert.Equal(t, time.Minute, *open)
	assert.True(t, *secure)
}

func TestBindEnvInvalidValue(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Int("port", 8080, "")
	t.Setenv("EDUPORTAL_PORT", "eighty")

	require.NoError(t, fs.Parse(nil))
	err := bindEnv(fs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EDUPORTAL_PORT")
}

func TestSessionKey(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	key, err := sessionKey("", logger)
	require.NoError(t, err)
	assert.Len(t, key, sessionKeyBytes)

	other, err := sessionKey("", logger)
	require.NoError(t, err)
	assert.NotEqual(t, key, other, "generated keys are random")

	want := bytes.Repeat([]byte{0xab}, 40)
	key, err = sessionKey(hex.EncodeToString(want), logger)
	require.NoError(t, err)
	assert.Equal(t, want, key)

	_, err = sessionKey("not-hex", logger)
	assert.Error(t, err)
	_, err = sessionKey(strings.Repeat("ab", 16), logger)
	assert.Error(t, err, "16 bytes is too short")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, "warn", true)
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	_, err = newLogger(&buf, "loud", false)
	assert.Error(t, err)
}

func TestDescribe(t *testing.T) {
	err := describe(&portal.SessionExpiredError{})
	assert.Contains(t, err.Error(), "eduportal login")

	err = describe(&portal.APIError{Status: 503, Code: upstream.CodeOffline, Message: "TOTVS is down"})
	assert.Equal(t, "TOTVS_OFFLINE: TOTVS is down", err.Error())

	plain := errors.New("dial tcp: refused")
	assert.Same(t, plain, describe(plain))
}

func TestReportKindsCoverEveryCommandArg(t *testing.T) {
	assert.Equal(t, []string{"attendance", "grades", "history", "schedule"}, reportCmd.ValidArgs)
}

func TestKeygenOutputIsAValidSessionKey(t *testing.T) {
	var out bytes.Buffer
	keygenCmd.SetOut(&out)
	t.Cleanup(func() { keygenCmd.SetOut(nil) })

	require.NoError(t, keygenCmd.RunE(keygenCmd, nil))

	key, err := sessionKey(strings.TrimSpace(out.String()), slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	assert.Len(t, key, sessionKeyBytes)
}
