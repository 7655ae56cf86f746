package signing_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"droidship/internal/domain"
	"droidship/internal/proc"
	"droidship/internal/signing"
	"droidship/internal/testutil"
)

func newSigner(t *testing.T) (*signing.Signer, *proc.Fake, domain.BuildArtifact, domain.KeystoreCredentials) {
	t.Helper()
	root := testutil.Scaffold(t)
	cfg := testutil.NewConfig(t, root, nil)
	fake := proc.NewFake()

	unsigned := filepath.Join(root, "app-release-unsigned.apk")
	testutil.WriteFile(t, unsigned, "unsigned-bytes")
	artifact := domain.BuildArtifact{
		ID: "a-1", RunID: "run-1", Kind: domain.ArtifactAPK,
		Path: unsigned, State: domain.StateUnsigned, Version: "1.0.1",
	}
	creds := domain.KeystoreCredentials{
		KeystorePath: cfg.KeystorePath, Alias: "release-key",
		StorePassword: "storepass", KeyPassword: "keypass",
	}
	s := signing.NewSigner(cfg, fake, testutil.NewLogger(t, cfg))
	// scripted apksigner writes the signed copy
	fake.OnFunc("apksigner sign", func(c proc.Command) (proc.Result, error) {
		for i, arg := range c.Args {
			if arg == "--out" {
				testutil.WriteFile(t, c.Args[i+1], "signed-bytes")
			}
		}
		return proc.Result{}, nil
	})
	return s, fake, artifact, creds
}

func TestSignAndVerifyAPK(t *testing.T) {
	s, fake, artifact, creds := newSigner(t)
	signed, err := s.SignAndVerify(context.Background(), artifact, creds)
	require.NoError(t, err)

	assert.Equal(t, domain.StateVerified, signed.State)
	assert.Contains(t, signed.Path, "testapp-1.0.1-signed.apk")
	assert.Equal(t, 1, fake.CallCount("apksigner sign"))
	assert.Equal(t, 1, fake.CallCount("apksigner verify"))
}

func TestSigningFailureKind(t *testing.T) {
	s, fake, artifact, creds := newSigner(t)
	fake.On("apksigner sign", proc.Result{ExitCode: 2, Stderr: "wrong password"}, nil)

	_, err := s.SignAndVerify(context.Background(), artifact, creds)
	var stageErr *domain.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, domain.SigningError, stageErr.Kind)
	// verification never attempted
	assert.Equal(t, 0, fake.CallCount("apksigner verify"))
}

func TestVerificationFailureIsDistinct(t *testing.T) {
	s, fake, artifact, creds := newSigner(t)
	fake.On("apksigner verify", proc.Result{ExitCode: 1, Stderr: "DOES NOT VERIFY"}, nil)

	signed, err := s.SignAndVerify(context.Background(), artifact, creds)
	var stageErr *domain.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, domain.VerificationError, stageErr.Kind)
	// the artifact never reaches the verified state
	assert.NotEqual(t, domain.StateVerified, signed.State)
}

func TestBundleUsesJarsigner(t *testing.T) {
	s, fake, artifact, creds := newSigner(t)
	artifact.Kind = domain.ArtifactBundle
	artifact.Path = filepath.Join(filepath.Dir(artifact.Path), "app-release.aab")
	testutil.WriteFile(t, artifact.Path, "bundle-bytes")

	signed, err := s.SignAndVerify(context.Background(), artifact, creds)
	require.NoError(t, err)
	assert.Equal(t, domain.StateVerified, signed.State)
	assert.Equal(t, 1, fake.CallCount("jarsigner -keystore"))
	assert.Equal(t, 1, fake.CallCount("jarsigner -verify"))
}
