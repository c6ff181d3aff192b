package webhook

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
)

const (
	callbackPath = "/automation/webhook/"
	secretBytes  = 32
)

// Config is the callback identity handed to an automation at creation.
type Config struct {
	URL    string `json:"url"`
	Secret string `json:"secret"`
}

type Generator struct {
	baseURL string
}

func NewGenerator(baseURL string) *Generator {
	return &Generator{baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/")}
}

// URL builds the callback URL for an automation.
func (g *Generator) URL(automationID string) string {
	return g.baseURL + callbackPath + automationID
}

func (g *Generator) Generate(automationID string) (Config, error) {
	secret, err := newSecret()
	if err != nil {
		return Config{}, err
	}
	return Config{URL: g.URL(automationID), Secret: secret}, nil
}

func newSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "generate webhook secret")
	}
	return hex.EncodeToString(buf), nil
}
