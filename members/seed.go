package members

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// SeedUser is one member entry of a seed file.
type SeedUser struct {
	ID          string `yaml:"id"`
	DisplayName string `yaml:"display_name"`
	Password    string `yaml:"password"`
}

type seedFile struct {
	Users []SeedUser `yaml:"users"`
}

// defaultSeed is the fixed group used when no seed file is configured.
const defaultSeed = `
users:
  - id: admin1
    display_name: "Kỳ Dũng"
    password: "123456"
  - id: admin2
    display_name: "Ánh Dương"
    password: "123456"
  - id: admin3
    display_name: "Anh Đức"
    password: "123456"
`

// LoadSeed reads a YAML seed file. An empty path returns the built-in group.
func LoadSeed(path string) ([]SeedUser, error) {
	if path == "" {
		return ParseSeed([]byte(defaultSeed))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", path, err)
	}
	users, err := ParseSeed(data)
	if err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", path, err)
	}
	return users, nil
}

// ParseSeed decodes and validates seed YAML.
func ParseSeed(data []byte) ([]SeedUser, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if len(f.Users) == 0 {
		return nil, fmt.Errorf("seed has no users")
	}

	seen := make(map[string]bool, len(f.Users))
	for i, u := range f.Users {
		if u.ID == "" {
			return nil, fmt.Errorf("user at index %d missing id", i)
		}
		if u.Password == "" {
			return nil, fmt.Errorf("user %s missing password", u.ID)
		}
		if seen[u.ID] {
			return nil, fmt.Errorf("duplicate user id %s", u.ID)
		}
		seen[u.ID] = true
	}
	return f.Users, nil
}
