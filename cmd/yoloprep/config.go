package main

import (
	"os"
	"strconv"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/sensorable/yoloprep"
)

// defaultConfigPath is read when no config file is given and it exists.
const defaultConfigPath = "yoloprep.yaml"

// Config is the application configuration.
type Config struct {
	Environment struct {
		PythonExecutable string `yaml:"python_executable"`
		ToolScript       string `yaml:"tool_script"`
	} `yaml:"environment"`
	Features struct {
		EnableDataConversion bool `yaml:"enable_data_conversion"`
	} `yaml:"features"`
	Dataset struct {
		TrainFraction  float64 `yaml:"train_fraction"`
		Workers        int     `yaml:"workers"` // 0 selects the number of CPUs, at least 4.
		ProbeImageSize bool    `yaml:"probe_image_size"`
	} `yaml:"dataset"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // text or json
	} `yaml:"logging"`
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.Dataset.TrainFraction = yoloprep.DefaultTrainFraction
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"
	return cfg
}

// LoadConfig reads the config file at path over the defaults and applies environment variable
// overrides. An empty path reads defaultConfigPath if that file exists.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			path = defaultConfigPath
		}
	}
	if path != "" {
		enc, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot read the config file %q", path)
		}
		if err := yaml.Unmarshal(enc, cfg); err != nil {
			return nil, errors.Wrapf(err, "invalid config file %q", path)
		}
	}

	cfg.Environment.PythonExecutable = getEnv("YOLOPREP_PYTHON", cfg.Environment.PythonExecutable)
	cfg.Environment.ToolScript = getEnv("YOLOPREP_TOOL_SCRIPT", cfg.Environment.ToolScript)
	cfg.Features.EnableDataConversion = getEnvBool("YOLOPREP_ENABLE_DATA_CONVERSION",
		cfg.Features.EnableDataConversion)
	cfg.Dataset.TrainFraction = getEnvFloat("YOLOPREP_TRAIN_FRACTION", cfg.Dataset.TrainFraction)
	cfg.Dataset.Workers = getEnvInt("YOLOPREP_WORKERS", cfg.Dataset.Workers)
	cfg.Logging.Level = getEnv("YOLOPREP_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("YOLOPREP_LOG_FORMAT", cfg.Logging.Format)

	if f := cfg.Dataset.TrainFraction; f < 0 || f > 1 {
		return nil, errors.Errorf("dataset.train_fraction must be in [0, 1], got %v", f)
	}
	return cfg, nil
}

// setupLogging configures the standard logger.
func (cfg *Config) setupLogging() error {
	level, err := log.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	log.SetLevel(level)

	switch cfg.Logging.Format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text", "":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return errors.Errorf("unknown log format %q", cfg.Logging.Format)
	}
	return nil
}

// getEnv returns the value of the environment variable key, or defaultValue if it is unset.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		log.Warnf("Ignoring invalid integer %s=%q", key, value)
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		log.Warnf("Ignoring invalid number %s=%q", key, value)
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
		log.Warnf("Ignoring invalid boolean %s=%q", key, value)
	}
	return defaultValue
}
