package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultPaths(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}
	share := filepath.Join(home, ".local", "share", "sone")

	tests := []struct {
		name       string
		configPath string
		soneHome   string
		want       Paths
	}{
		{
			name:       "environment overrides",
			configPath: "/custom/config.toml",
			soneHome:   "/custom/sone",
			want: Paths{
				ConfigPath:  "/custom/config.toml",
				BaseDir:     "/custom/sone",
				LogDir:      "/custom/sone/log",
				DataDir:     "/custom/sone/db",
				AgeIdentity: "/custom/sone/age.key",
			},
		},
		{
			name: "home directory",
			want: Paths{
				ConfigPath:  filepath.Join(home, ".config", "sone.toml"),
				BaseDir:     share,
				LogDir:      filepath.Join(share, "log"),
				DataDir:     filepath.Join(share, "db"),
				AgeIdentity: filepath.Join(share, "age.key"),
			},
		},
		{
			name:     "only base overridden",
			soneHome: "/srv/sone",
			want: Paths{
				ConfigPath:  filepath.Join(home, ".config", "sone.toml"),
				BaseDir:     "/srv/sone",
				LogDir:      "/srv/sone/log",
				DataDir:     "/srv/sone/db",
				AgeIdentity: "/srv/sone/age.key",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvConfigPath, tt.configPath)
			t.Setenv(EnvHome, tt.soneHome)

			got, err := DefaultPaths()
			if err != nil {
				t.Fatalf("DefaultPaths() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("DefaultPaths() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
