package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudo-init-do/founderledger/internal/withdrawal"
)

// chdir moves the test into dir so no stray .env is picked up.
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_USER", "ledger")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_NAME", "founders")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, time.Hour, cfg.RateRefresh)
	assert.Equal(t, 15*time.Second, cfg.BankTimeout)
	assert.Equal(t, "postgres://ledger:secret@db:5432/founders", cfg.DSN())

	v, err := cfg.TokenValue()
	require.NoError(t, err)
	assert.Equal(t, "10", v.String())
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PORT=9999\nUSD_ZAR_RATE=19.25\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("PORT")
		os.Unsetenv("USD_ZAR_RATE")
	})

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9999", cfg.Port)
	r, err := cfg.Rate()
	require.NoError(t, err)
	assert.Equal(t, "19.25", r.String())
}

func TestLoadRejectsBadDecimal(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("TOKEN_VALUE_USD", "ten")
	_, err := Load()
	require.ErrorContains(t, err, "TOKEN_VALUE_USD")
}

func TestDSNPrefersDatabaseURL(t *testing.T) {
	cfg := &Config{DatabaseURL: "postgres://x", DBHost: "ignored"}
	assert.Equal(t, "postgres://x", cfg.DSN())
	assert.Empty(t, (&Config{}).DSN())
}

const policyYAML = `
constitution:
  version: "2.1.0"
  hash: "abc123"
attestationWindow: 2160h
founders:
  - id: "1"
    name: Sizwe Ngwenya
    email: sizwe@azora.world
    role: CEO
    total: 100000
    bankAccounts:
      - id: fnb
        bank: FNB
        accountNumber: "62000000001"
        verified: true
  - id: ai
    name: Azora AI
    total: 50000
    skipBankTransfer: true
policies:
  - founderId: "1"
    maxAmount: 20000
    requiresApproval: true
`

func TestLoadPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(policyYAML), 0o600))

	p, err := LoadPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, "abc123", p.Constitution.Hash)
	assert.Equal(t, 90*24*time.Hour, p.AttestationWindow)
	require.Len(t, p.Founders, 2)
	assert.True(t, p.Founders[0].BankAccounts[0].Verified)
	assert.True(t, p.Founders[1].SkipBankTransfer)
	assert.Equal(t, []withdrawal.PolicyException{{FounderID: "1", MaxAmount: 20000, RequiresApproval: true}}, p.Policies)
	assert.Equal(t, withdrawal.DefaultProjects, p.Projects)
}

func TestLoadPolicyDefaultsAndErrors(t *testing.T) {
	p, err := LoadPolicy("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConstitution, p.Constitution)

	_, err = LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "dup.yaml")
	require.NoError(t, os.WriteFile(path, []byte("projects:\n  - id: a\n  - id: a\n"), 0o600))
	_, err = LoadPolicy(path)
	require.ErrorContains(t, err, "unique")
}
