package store

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProfileSeed is one entry of a profile seed file.
type ProfileSeed struct {
	ID        int64  `yaml:"id"`
	Kind      string `yaml:"kind"`
	Name      string `yaml:"name"`
	AvatarURL string `yaml:"avatarUrl"`
	Title     string `yaml:"title"`
	Company   string `yaml:"company"`
}

type profileSeedFile struct {
	Profiles []ProfileSeed `yaml:"profiles"`
}

// SeedProfiles upserts every profile listed in the YAML file at path and
// returns how many were written. Seeding is idempotent.
func SeedProfiles(ctx context.Context, dir *ProfileDirectory, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read profile seed: %w", err)
	}

	var file profileSeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("failed to parse profile seed %s: %w", path, err)
	}

	for i, p := range file.Profiles {
		rec := p.Record()
		if err := dir.Upsert(ctx, &rec); err != nil {
			return i, fmt.Errorf("profile seed entry %d: %w", i, err)
		}
	}
	return len(file.Profiles), nil
}

// Record converts the seed entry into a stored profile. The kind is matched
// case-insensitively.
func (p ProfileSeed) Record() ProfileRecord {
	return ProfileRecord{
		ID:        p.ID,
		Kind:      strings.ToUpper(strings.TrimSpace(p.Kind)),
		Name:      p.Name,
		AvatarURL: p.AvatarURL,
		Title:     p.Title,
		Company:   p.Company,
	}
}
