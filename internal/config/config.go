package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Host string `env:"BUILD_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"BUILD_PORT" envDefault:"1234"`

	// RepoPath is the git checkout the synchronizer operates on.
	// ProjectPath is where the build steps run; ArtifactsDir is where
	// packaged artifacts land. Both default to sensible places inside
	// the repo when unset.
	RepoPath     string `env:"BUILD_REPO_PATH" envDefault:"."`
	ProjectPath  string `env:"BUILD_PROJECT_PATH"`
	ArtifactsDir string `env:"BUILD_ARTIFACTS_DIR"`
	LogsDir      string `env:"BUILD_LOGS_DIR" envDefault:"build_logs"`

	GitTimeout   time.Duration `env:"BUILD_GIT_TIMEOUT" envDefault:"60s"`
	BuildTimeout time.Duration `env:"BUILD_STEP_TIMEOUT" envDefault:"5m"`

	InstallCmd  string `env:"BUILD_INSTALL_CMD" envDefault:"npm i"`
	BuildCmd    string `env:"BUILD_BUILD_CMD" envDefault:"npm run build"`
	PackageCmd  string `env:"BUILD_PACKAGE_CMD" envDefault:"npm run package"`
	ArtifactExt string `env:"BUILD_ARTIFACT_EXT" envDefault:".vsix"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var c Config
	if err := env.Parse(&c); err != nil {
		return nil, err
	}
	if c.ProjectPath == "" {
		c.ProjectPath = c.RepoPath
	}
	if c.ArtifactsDir == "" {
		c.ArtifactsDir = c.ProjectPath
	}
	return &c, nil
}
