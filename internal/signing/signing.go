// Package signing signs build artifacts with the release keystore and
// verifies the signature chain before anything downstream may touch them.
// APKs go through apksigner; bundles are jar-signed, since the store
// backend re-signs the device splits itself.
package signing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"droidship/internal/config"
	"droidship/internal/domain"
	"droidship/internal/proc"
	"droidship/internal/runlog"
)

const stageName = "signing"

// Signer signs and verifies one artifact at a time.
type Signer struct {
	Config *config.Config
	Runner proc.Runner
	Log    *runlog.Logger
}

func NewSigner(cfg *config.Config, runner proc.Runner, log *runlog.Logger) *Signer {
	return &Signer{Config: cfg, Runner: runner, Log: log}
}

// SignAndVerify signs the unsigned artifact into the staging directory and
// immediately re-opens the result to verify the signature. The artifact is
// returned in state "verified"; a verification failure is a distinct fatal
// error and the signed file must not be promoted.
func (s *Signer) SignAndVerify(ctx context.Context, a domain.BuildArtifact, creds domain.KeystoreCredentials) (domain.BuildArtifact, error) {
	var err error
	switch a.Kind {
	case domain.ArtifactAPK:
		a, err = s.signAPK(ctx, a, creds)
	case domain.ArtifactBundle:
		a, err = s.signBundle(ctx, a, creds)
	default:
		return a, domain.Failf(domain.SigningError, stageName, "unknown artifact kind %q", a.Kind)
	}
	if err != nil {
		return a, err
	}
	a.State = domain.StateSigned

	if err := s.verify(ctx, a); err != nil {
		return a, err
	}
	a.State = domain.StateVerified
	if info, err := os.Stat(a.Path); err == nil {
		a.SizeBytes = info.Size()
	}
	s.Log.Success("signature verified: %s", filepath.Base(a.Path))
	return a, nil
}

func (s *Signer) signAPK(ctx context.Context, a domain.BuildArtifact, creds domain.KeystoreCredentials) (domain.BuildArtifact, error) {
	out := filepath.Join(s.Config.StagingDir,
		fmt.Sprintf("%s-%s-signed.apk", s.Config.AppName, a.Version))
	res, err := s.Runner.Run(ctx, proc.Command{
		Name: "apksigner",
		Args: []string{
			"sign",
			"--ks", creds.KeystorePath,
			"--ks-key-alias", creds.Alias,
			"--ks-pass", "pass:" + creds.StorePassword,
			"--key-pass", "pass:" + creds.KeyPassword,
			"--out", out,
			a.Path,
		},
	})
	if err != nil {
		return a, domain.Fail(domain.SigningError, stageName, err)
	}
	if !res.Ok() {
		return a, domain.Failf(domain.SigningError, stageName,
			"apksigner exited %d: %s", res.ExitCode, tail(res.Stderr))
	}
	a.Path = out
	return a, nil
}

// signBundle jar-signs the .aab in place with a fixed strong pair.
func (s *Signer) signBundle(ctx context.Context, a domain.BuildArtifact, creds domain.KeystoreCredentials) (domain.BuildArtifact, error) {
	res, err := s.Runner.Run(ctx, proc.Command{
		Name: "jarsigner",
		Args: []string{
			"-keystore", creds.KeystorePath,
			"-storepass", creds.StorePassword,
			"-keypass", creds.KeyPassword,
			"-sigalg", "SHA256withRSA",
			"-digestalg", "SHA-256",
			a.Path,
			creds.Alias,
		},
	})
	if err != nil {
		return a, domain.Fail(domain.SigningError, stageName, err)
	}
	if !res.Ok() {
		return a, domain.Failf(domain.SigningError, stageName,
			"jarsigner exited %d: %s", res.ExitCode, tail(res.Stderr))
	}
	return a, nil
}

func (s *Signer) verify(ctx context.Context, a domain.BuildArtifact) error {
	var cmd proc.Command
	switch a.Kind {
	case domain.ArtifactAPK:
		cmd = proc.Command{Name: "apksigner", Args: []string{"verify", "--verbose", a.Path}}
	default:
		cmd = proc.Command{Name: "jarsigner", Args: []string{"-verify", "-strict", a.Path}}
	}
	res, err := s.Runner.Run(ctx, cmd)
	if err != nil {
		return domain.Fail(domain.VerificationError, stageName, err)
	}
	if !res.Ok() {
		return domain.Failf(domain.VerificationError, stageName,
			"post-sign verification failed for %s: %s", filepath.Base(a.Path), tail(res.Stderr))
	}
	return nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 400 {
		s = s[len(s)-400:]
	}
	return s
}
