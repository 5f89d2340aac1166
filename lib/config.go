package lib

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/mitchellh/go-homedir"
	"github.com/vaughan0/go-ini"

	"github.com/outpost-labs/okta-idx-go/lib/client"
)

const DefaultProfile = "okta"

type Profiles map[string]map[string]string

type config interface {
	Parse() (Profiles, error)
}

type fileConfig struct {
	file string
}

func NewConfigFromEnv() (config, error) {
	file := os.Getenv("OKTA_IDX_CONFIG_FILE")
	if file == "" {
		home, err := homedir.Dir()
		if err != nil {
			return nil, err
		}
		file = filepath.Join(home, "/.okta-idx/config")
		if _, err := os.Stat(file); os.IsNotExist(err) {
			file = ""
		}
	}
	return &fileConfig{file: file}, nil
}

func (c *fileConfig) Parse() (Profiles, error) {
	if c.file == "" {
		return nil, nil
	}

	log.Debugf("Parsing config file %s", c.file)
	f, err := ini.LoadFile(c.file)
	if err != nil {
		return nil, fmt.Errorf("Error parsing config file %q: %v", c.file, err)
	}

	profiles := Profiles{DefaultProfile: map[string]string{}}
	for sectionName, section := range f {
		profiles[strings.TrimPrefix(sectionName, "profile ")] = section
	}

	return profiles, nil
}

func (p Profiles) GetValue(profile string, configKey string) (string, string, error) {
	configValue, ok := p[profile][configKey]
	if ok {
		return configValue, profile, nil
	}

	// Lookup from the `source_profile`, if it exists
	profile, ok = p[profile]["source_profile"]
	if ok {
		configValue, ok := p[profile][configKey]
		if ok {
			return configValue, profile, nil
		}
	}

	// Fallback to the default section if no profile supplies the value
	profile = DefaultProfile
	configValue, ok = p[profile][configKey]
	if ok {
		return configValue, profile, nil
	}

	return "", "", fmt.Errorf("Could not find %s in %s, source profile, or %s", configKey, profile, DefaultProfile)
}

// ClientConfig assembles the transport configuration for a profile.
// Environment variables override whatever the config file carries.
func (p Profiles) ClientConfig(profile string) (client.Config, error) {
	issuer, _, err := p.GetValue(profile, "issuer")
	if envIssuer := os.Getenv("OKTA_IDX_ISSUER"); envIssuer != "" {
		issuer = envIssuer
		err = nil
	}
	if err != nil {
		return client.Config{}, err
	}

	clientID, _, err := p.GetValue(profile, "client_id")
	if envClientID := os.Getenv("OKTA_IDX_CLIENT_ID"); envClientID != "" {
		clientID = envClientID
		err = nil
	}
	if err != nil {
		return client.Config{}, err
	}

	redirectURI, _, err := p.GetValue(profile, "redirect_uri")
	if err != nil {
		redirectURI = "http://localhost:8080/login/callback"
	}

	scopes := []string{"openid", "profile", "offline_access"}
	if raw, _, err := p.GetValue(profile, "scopes"); err == nil && raw != "" {
		scopes = strings.Fields(raw)
	}

	return client.Config{
		Issuer:      issuer,
		ClientID:    clientID,
		Scopes:      scopes,
		RedirectURI: redirectURI,
	}, nil
}
