package domain

import "time"

// ArtifactKind distinguishes the two build outputs.
type ArtifactKind string

const (
	ArtifactAPK    ArtifactKind = "apk"    // installable package
	ArtifactBundle ArtifactKind = "bundle" // store distribution bundle (.aab)
)

// SignatureState tracks an artifact through the sign/verify/align chain.
type SignatureState string

const (
	StateUnsigned SignatureState = "unsigned"
	StateSigned   SignatureState = "signed"
	StateVerified SignatureState = "verified"
	StateAligned  SignatureState = "aligned"
)

// VersionRecord is the persisted release version, stored as version.json.
type VersionRecord struct {
	Version     string `json:"version"`
	VersionCode int    `json:"versionCode"`
	BuildTime   string `json:"buildTime" format:"date-time"`
	GitCommit   string `json:"gitCommit"`
}

// KeystoreCredentials mirrors the sidecar file next to the keystore.
// Created once; never mutated while the keystore exists.
type KeystoreCredentials struct {
	KeystorePath  string `json:"keystore_path"`
	Alias         string `json:"alias"`
	StorePassword string `json:"-"`
	KeyPassword   string `json:"-"`
	CreatedAt     string `json:"created_at" format:"date-time"`
}

// BuildArtifact is a build output moving through the pipeline. Path and
// State are updated as the artifact is signed and aligned; Kind is stable
// once set.
type BuildArtifact struct {
	ID          string         `json:"id"`
	RunID       string         `json:"run_id"`
	Kind        ArtifactKind   `json:"kind"`
	Path        string         `json:"path"`
	SizeBytes   int64          `json:"size_bytes"`
	State       SignatureState `json:"signature_state"`
	Version     string         `json:"version"`
	PackageInfo []string       `json:"package_info,omitempty"`
	CreatedAt   string         `json:"created_at" format:"date-time"`
}

// Outcome classifies how a stage ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeWarning Outcome = "warning"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// StageOutcome is one entry in a run's ordered outcome sequence.
type StageOutcome struct {
	RunID   string  `json:"run_id"`
	Seq     int     `json:"seq"`
	Stage   string  `json:"stage"`
	Outcome Outcome `json:"outcome"`
	Detail  string  `json:"detail,omitempty"`
	TS      string  `json:"ts" format:"date-time"`
}

// RunStatus is the lifecycle of a pipeline run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// PipelineRun records one invocation of the release pipeline.
type PipelineRun struct {
	ID          string     `json:"id"`
	Variant     string     `json:"variant"`
	Bump        string     `json:"bump"`
	Version     string     `json:"version,omitempty"`
	VersionCode int        `json:"version_code,omitempty"`
	Status      RunStatus  `json:"status"`
	LogPath     string     `json:"log_path"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

// PackageMetadata is written to apk-info-{timestamp}.json after alignment.
type PackageMetadata struct {
	BuildTime   string   `json:"buildTime"`
	APKPath     string   `json:"apkPath"`
	APKSize     int64    `json:"apkSize"`
	PackageInfo []string `json:"packageInfo"`
}
