package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"droidship/internal/domain"
)

// EnvPrefix is the viper environment prefix (DROIDSHIP_APP_NAME etc.).
const EnvPrefix = "DROIDSHIP"

// DescriptorName is the optional per-project yaml descriptor.
const DescriptorName = "droidship.yml"

// Descriptor models droidship.yml. Environment values win over it.
type Descriptor struct {
	App struct {
		Name      string `yaml:"name"`
		PackageID string `yaml:"package_id"`
		Variant   string `yaml:"variant"`
	} `yaml:"app"`
	Keystore struct {
		Path  string `yaml:"path"`
		Alias string `yaml:"alias"`
	} `yaml:"keystore"`
	Cloud struct {
		Endpoint string `yaml:"endpoint"`
		Region   string `yaml:"region"`
		Bucket   string `yaml:"bucket"`
		Function string `yaml:"function"`
	} `yaml:"cloud"`
}

// Config is the immutable run configuration. Built once by Resolve and
// passed by pointer to every component; nothing else reads the environment.
type Config struct {
	AppName   string
	PackageID string
	Variant   string

	ProjectRoot string
	AndroidDir  string
	SDKRoot     string
	Timestamp   time.Time

	BuildsDir      string
	AssetsDir      string
	ScreenshotsDir string
	StagingDir     string
	LogsDir        string

	KeystorePath  string
	KeystoreAlias string
	StorePassword string
	KeyPassword   string

	CloudEndpoint   string
	CloudRegion     string
	CloudBucket     string
	CloudFunction   string
	CloudAccessKey  string
	CloudSecretKey  string
	CloudUseSSL     bool

	APISecret   string
	NotifyToken string

	Debug bool
}

// CloudEnabled reports whether enough cloud settings are present to upload
// artifacts. A missing piece disables the upload stage rather than failing.
func (c *Config) CloudEnabled() bool {
	return c.CloudEndpoint != "" && c.CloudBucket != "" &&
		c.CloudAccessKey != "" && c.CloudSecretKey != ""
}

// WorkDirs lists the fixed working directories created per run.
func (c *Config) WorkDirs() []string {
	return []string{c.BuildsDir, c.AssetsDir, c.ScreenshotsDir, c.StagingDir, c.LogsDir}
}

// Resolve builds the Config for a project root from viper-bound settings
// and an optional droidship.yml, then creates the working directories.
// Directory creation is idempotent; a directory that cannot be created is
// the only fatal condition.
func Resolve(v *viper.Viper, projectRoot string) (*Config, error) {
	if projectRoot == "" {
		projectRoot = "."
	}
	root, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, domain.Fail(domain.ConfigError, "config", err)
	}

	var d Descriptor
	if data, err := os.ReadFile(filepath.Join(root, DescriptorName)); err == nil {
		if err := yaml.Unmarshal(data, &d); err != nil {
			return nil, domain.Failf(domain.ConfigError, "config", "parse %s: %v", DescriptorName, err)
		}
	}

	pick := func(key, fromDescriptor, fallback string) string {
		if s := v.GetString(key); s != "" {
			return s
		}
		if fromDescriptor != "" {
			return fromDescriptor
		}
		return fallback
	}

	cfg := &Config{
		AppName:   pick("app-name", d.App.Name, "app"),
		PackageID: pick("package-id", d.App.PackageID, "com.example.app"),
		Variant:   pick("variant", d.App.Variant, "release"),

		ProjectRoot: root,
		AndroidDir:  filepath.Join(root, "android"),
		SDKRoot:     v.GetString("sdk-root"),
		Timestamp:   time.Now().UTC(),

		BuildsDir:      filepath.Join(root, "builds"),
		AssetsDir:      filepath.Join(root, "assets"),
		ScreenshotsDir: filepath.Join(root, "screenshots"),
		StagingDir:     filepath.Join(root, "deploy-staging"),
		LogsDir:        filepath.Join(root, "logs"),

		KeystoreAlias: pick("keystore-alias", d.Keystore.Alias, "release-key"),
		StorePassword: v.GetString("keystore-pass"),
		KeyPassword:   v.GetString("key-pass"),

		CloudEndpoint:  pick("cloud-endpoint", d.Cloud.Endpoint, ""),
		CloudRegion:    pick("cloud-region", d.Cloud.Region, "us-east-1"),
		CloudBucket:    pick("cloud-bucket", d.Cloud.Bucket, ""),
		CloudFunction:  pick("cloud-function", d.Cloud.Function, ""),
		CloudAccessKey: v.GetString("cloud-access-key"),
		CloudSecretKey: v.GetString("cloud-secret-key"),
		CloudUseSSL:    !v.GetBool("cloud-insecure"),

		APISecret:   v.GetString("api-secret"),
		NotifyToken: v.GetString("notify-token"),

		Debug: v.GetBool("debug"),
	}

	cfg.KeystorePath = pick("keystore-path", d.Keystore.Path,
		filepath.Join(cfg.AndroidDir, "app", cfg.AppName+"-release.keystore"))
	if cfg.KeyPassword == "" {
		cfg.KeyPassword = cfg.StorePassword
	}

	for _, dir := range cfg.WorkDirs() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, domain.Failf(domain.ConfigError, "config", "create %s: %v", dir, err)
		}
	}
	return cfg, nil
}

// GradleWrapper returns the build wrapper path for the platform.
func (c *Config) GradleWrapper() string {
	name := "gradlew"
	if runtime.GOOS == "windows" {
		name = "gradlew.bat"
	}
	return filepath.Join(c.AndroidDir, name)
}
