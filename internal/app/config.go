package app

import (
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "24h" decode.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// FileConfig is the single-file YAML configuration schema. Values fill in
// only where the corresponding flag was left at its default; flags win.
type FileConfig struct {
	Listen string `yaml:"listen"`
	DB     string `yaml:"db"`

	Cache struct {
		Freshness Duration `yaml:"freshness"`
	} `yaml:"cache"`

	Fetch struct {
		UserAgent  string   `yaml:"userAgent"`
		Timeout    Duration `yaml:"timeout"`
		Attempts   int      `yaml:"attempts"`
		RatePerSec float64  `yaml:"ratePerSec"`
	} `yaml:"fetch"`

	LLM struct {
		BaseURL string `yaml:"base"`
		Model   string `yaml:"model"`
		APIKey  string `yaml:"key"`
	} `yaml:"llm"`

	Probe struct {
		Command  string `yaml:"command"`
		Wordlist string `yaml:"wordlist"`
	} `yaml:"probe"`

	Verbose bool `yaml:"verbose"`
}

// LoadConfigFile reads and decodes the YAML configuration at path.
func LoadConfigFile(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return fc, fmt.Errorf("parse config: %w", err)
	}
	return fc, nil
}
