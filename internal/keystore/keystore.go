// Package keystore owns the signing-key lifecycle: verify an existing
// keystore or generate one, and keep its credentials in an owner-only
// sidecar file next to it. Key material itself is produced by keytool.
package keystore

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"droidship/internal/config"
	"droidship/internal/domain"
	"droidship/internal/proc"
	"droidship/internal/runlog"
)

const (
	stageName       = "keystore"
	defaultPassword = "android"
	sidecarSuffix   = ".credentials"
	keyValidityDays = 10000
	keySizeBits     = 2048
)

// Manager ensures exactly one keystore exists for the configured identity.
type Manager struct {
	Config *config.Config
	Runner proc.Runner
	Log    *runlog.Logger
	Now    func() time.Time
}

func NewManager(cfg *config.Config, runner proc.Runner, log *runlog.Logger) *Manager {
	return &Manager{Config: cfg, Runner: runner, Log: log, Now: time.Now}
}

// SidecarPath is the credentials file next to the keystore.
func (m *Manager) SidecarPath() string {
	return m.Config.KeystorePath + sidecarSuffix
}

// Ensure verifies the keystore at the configured path, creating it first
// if absent. It never regenerates over an existing keystore: a keystore
// that cannot be opened is a fatal KeystoreError, left for the operator.
func (m *Manager) Ensure(ctx context.Context) (domain.KeystoreCredentials, error) {
	if _, err := os.Stat(m.Config.KeystorePath); err == nil {
		creds, err := m.Load()
		if err != nil {
			return domain.KeystoreCredentials{}, err
		}
		if err := m.verify(ctx, creds); err != nil {
			return domain.KeystoreCredentials{}, err
		}
		m.Log.Success("keystore verified: %s (alias %s)", m.Config.KeystorePath, creds.Alias)
		return creds, nil
	}
	return m.generate(ctx)
}

// Load resolves credentials from the sidecar when present, falling back to
// configured passwords and finally the toolchain default.
func (m *Manager) Load() (domain.KeystoreCredentials, error) {
	creds := domain.KeystoreCredentials{
		KeystorePath:  m.Config.KeystorePath,
		Alias:         m.Config.KeystoreAlias,
		StorePassword: m.Config.StorePassword,
		KeyPassword:   m.Config.KeyPassword,
	}
	f, err := os.Open(m.SidecarPath())
	if err != nil {
		if os.IsNotExist(err) {
			if creds.StorePassword == "" {
				creds.StorePassword = defaultPassword
			}
			if creds.KeyPassword == "" {
				creds.KeyPassword = creds.StorePassword
			}
			return creds, nil
		}
		return domain.KeystoreCredentials{}, domain.Fail(domain.KeystoreError, stageName, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "KEYSTORE_PASS":
			creds.StorePassword = value
		case "KEY_PASS":
			creds.KeyPassword = value
		case "KEYSTORE_ALIAS":
			creds.Alias = value
		case "CREATED":
			creds.CreatedAt = value
		}
	}
	if err := scanner.Err(); err != nil {
		return domain.KeystoreCredentials{}, domain.Fail(domain.KeystoreError, stageName, err)
	}
	return creds, nil
}

// verify opens the keystore with keytool to prove the credentials work.
func (m *Manager) verify(ctx context.Context, creds domain.KeystoreCredentials) error {
	res, err := m.Runner.Run(ctx, proc.Command{
		Name: "keytool",
		Args: []string{
			"-list",
			"-keystore", creds.KeystorePath,
			"-storepass", creds.StorePassword,
			"-alias", creds.Alias,
		},
	})
	if err != nil {
		return domain.Fail(domain.KeystoreError, stageName, err)
	}
	if !res.Ok() {
		return domain.Failf(domain.KeystoreError, stageName,
			"existing keystore %s failed verification: %s",
			creds.KeystorePath, strings.TrimSpace(res.Stderr))
	}
	return nil
}

func (m *Manager) generate(ctx context.Context) (domain.KeystoreCredentials, error) {
	storePass := m.Config.StorePassword
	if storePass == "" {
		p, err := randomPassword()
		if err != nil {
			return domain.KeystoreCredentials{}, domain.Fail(domain.KeystoreError, stageName, err)
		}
		storePass = p
	}
	keyPass := m.Config.KeyPassword
	if keyPass == "" {
		keyPass = storePass
	}
	creds := domain.KeystoreCredentials{
		KeystorePath:  m.Config.KeystorePath,
		Alias:         m.Config.KeystoreAlias,
		StorePassword: storePass,
		KeyPassword:   keyPass,
		CreatedAt:     m.now().UTC().Format(time.RFC3339),
	}

	m.Log.Info("generating keystore %s (alias %s)", creds.KeystorePath, creds.Alias)
	res, err := m.Runner.Run(ctx, proc.Command{
		Name: "keytool",
		Args: []string{
			"-genkeypair", "-v",
			"-keystore", creds.KeystorePath,
			"-alias", creds.Alias,
			"-keyalg", "RSA",
			"-keysize", fmt.Sprint(keySizeBits),
			"-validity", fmt.Sprint(keyValidityDays),
			"-storepass", creds.StorePassword,
			"-keypass", creds.KeyPassword,
			"-dname", fmt.Sprintf("CN=%s, OU=Mobile, O=%s", m.Config.AppName, m.Config.AppName),
		},
	})
	if err != nil {
		return domain.KeystoreCredentials{}, domain.Fail(domain.KeystoreError, stageName, err)
	}
	if !res.Ok() {
		return domain.KeystoreCredentials{}, domain.Failf(domain.KeystoreError, stageName,
			"keytool -genkeypair exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	if err := m.writeSidecar(creds); err != nil {
		return domain.KeystoreCredentials{}, err
	}
	m.Log.Success("keystore created: %s", creds.KeystorePath)
	m.Log.Warning("signing credentials written to %s; store this file securely and rotate the passwords if it leaks", m.SidecarPath())
	return creds, nil
}

// writeSidecar persists the credentials with owner-only permissions.
func (m *Manager) writeSidecar(creds domain.KeystoreCredentials) error {
	var b strings.Builder
	fmt.Fprintf(&b, "KEYSTORE_PASS=%s\n", creds.StorePassword)
	fmt.Fprintf(&b, "KEY_PASS=%s\n", creds.KeyPassword)
	fmt.Fprintf(&b, "KEYSTORE_ALIAS=%s\n", creds.Alias)
	fmt.Fprintf(&b, "CREATED=%s\n", creds.CreatedAt)
	if err := os.WriteFile(m.SidecarPath(), []byte(b.String()), 0o600); err != nil {
		return domain.Fail(domain.KeystoreError, stageName, err)
	}
	return nil
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func randomPassword() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
