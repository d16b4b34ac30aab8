package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads variables from .env files without overriding the process
// environment. Missing files are skipped; a file that exists but does not
// parse is an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// EnvString returns the trimmed value of key and whether it was set.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as an integer.
func EnvInt(key string) (int, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, true, fmt.Errorf("%s: %w", key, err)
	}
	return n, true, nil
}

// EnvBool parses key as a boolean.
func EnvBool(key string) (bool, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return false, false, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, true, fmt.Errorf("%s: %w", key, err)
	}
	return b, true, nil
}

// EnvSeconds parses key as a whole number of seconds.
func EnvSeconds(key string) (time.Duration, bool, error) {
	n, ok, err := EnvInt(key)
	if err != nil || !ok {
		return 0, ok, err
	}
	return time.Duration(n) * time.Second, true, nil
}

// FromEnv starts from DefaultConfig and applies every recognised variable.
func FromEnv() (*Config, error) {
	cfg := DefaultConfig()

	if d, ok, err := EnvSeconds("REQUEST_TIMEOUT"); err != nil {
		return nil, err
	} else if ok {
		cfg.RetryDelay = d
	}
	if n, ok, err := EnvInt("PAGE_PER_KEYWORD"); err != nil {
		return nil, err
	} else if ok {
		cfg.PagesPerKeyword = n
	}
	if n, ok, err := EnvInt("SCRAPER_PARALLEL"); err != nil {
		return nil, err
	} else if ok {
		cfg.Parallelism = n
	}
	if b, ok, err := EnvBool("SCRAPER_STRICT_KEYWORDS"); err != nil {
		return nil, err
	} else if ok {
		cfg.StrictKeywords = b
	}

	stringVars := map[string]*string{
		"PARSING_ZIP_CODE":     &cfg.ZipCode,
		"SCRAPER_BASE_URL":     &cfg.BaseURL,
		"SCRAPER_PROXY":        &cfg.Proxy,
		"SCRAPER_CATEGORY":     &cfg.Category,
		"SCRAPER_KEYWORDS":     &cfg.KeywordsFile,
		"SCRAPER_OUTPUT":       &cfg.OutputFile,
		"SCRAPER_FORMAT":       &cfg.OutputFormat,
		"DATABASE_URL":         &cfg.DatabaseURL,
		"SCRAPER_METRICS_ADDR": &cfg.MetricsAddr,
	}
	for key, dst := range stringVars {
		if value, ok := EnvString(key); ok {
			*dst = value
		}
	}

	return cfg, nil
}
