// Package config loads the system configuration: listen addresses,
// transports, sensors, the rooms of each domain and processing tuning.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rania-fds/fds/internal/monitoring"
	"github.com/rania-fds/fds/internal/sensor"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Config is the root of the YAML file.
type Config struct {
	Listen       *string `yaml:"listen,omitempty"`
	GRPCListen   *string `yaml:"grpc_listen,omitempty"`
	DBPath       *string `yaml:"db_path,omitempty"`
	TrainingPath *string `yaml:"training_path,omitempty"`
	LogLevel     *string `yaml:"log_level,omitempty"`

	Redis *RedisConfig `yaml:"redis,omitempty"`
	Kafka *KafkaConfig `yaml:"kafka,omitempty"`

	Sensors []SensorConfig `yaml:"sensors"`
	Domains []DomainConfig `yaml:"domains"`
	Tuning  Tuning         `yaml:"tuning"`
}

// RedisConfig enables the Redis event bus when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
}

// KafkaConfig enables the Kafka fall sink when Brokers is set.
type KafkaConfig struct {
	Brokers string `yaml:"brokers"`
	Topic   string `yaml:"topic,omitempty"`
}

// SensorConfig describes one sensor.
type SensorConfig struct {
	ID              int                    `yaml:"id"`
	Path            string                 `yaml:"path,omitempty"`
	Class           sensor.Class           `yaml:"class"`
	Device          sensor.Device          `yaml:"device"`
	CalibrationType sensor.CalibrationType `yaml:"calibration_type,omitempty"`
	CalibrationPath string                 `yaml:"calibration_path,omitempty"`
	Port            sensor.PortOptions     `yaml:"port,omitempty"`
	MinScanLen      int                    `yaml:"min_scan_len,omitempty"`
	Scene           *sensor.Scene          `yaml:"scene,omitempty"`
}

// Info converts the entry for the sensor registry.
func (s SensorConfig) Info() sensor.Info {
	return sensor.Info{
		ID:              s.ID,
		Path:            s.Path,
		Class:           s.Class,
		Device:          s.Device,
		CalibrationType: s.CalibrationType,
		CalibrationPath: s.CalibrationPath,
		Port:            s.Port,
		MinScanLen:      s.MinScanLen,
		Scene:           s.Scene,
	}
}

// DomainConfig lists the rooms of one domain.
type DomainConfig struct {
	ID    int          `yaml:"id"`
	Rooms []RoomConfig `yaml:"rooms"`
}

// RoomConfig assigns sensors, by id, to a room.
type RoomConfig struct {
	ID      int   `yaml:"id"`
	Sensors []int `yaml:"sensors"`
}

func (c *Config) GetListen() string { return stringOr(c.Listen, ":8080") }

func (c *Config) GetGRPCListen() string { return stringOr(c.GRPCListen, ":50051") }

// GetDBPath returns the event history path; an explicit empty string
// disables the history.
func (c *Config) GetDBPath() string { return stringOr(c.DBPath, "fds.db") }

func (c *Config) GetTrainingPath() string { return stringOr(c.TrainingPath, "training.json") }

func (c *Config) GetLogLevel() string { return stringOr(c.LogLevel, "info") }

func stringOr(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}

// Sensor returns the sensor with the given id.
func (c *Config) Sensor(id int) (SensorConfig, bool) {
	for _, s := range c.Sensors {
		if s.ID == id {
			return s, true
		}
	}
	return SensorConfig{}, false
}

// Load reads, overrides from the environment and validates the config at
// path. The file must have a .yaml or .yml extension and be at most 1MB.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .yaml or .yml extension, got %q", ext)
	}
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML. Unknown keys are an error.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are skipped; variables already set win.
func LoadDotEnv(paths ...string) error {
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// ApplyEnv overrides addresses and credentials from FDS_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst **string) {
		if v, ok := lookup(key); ok {
			*dst = &v
		}
	}
	set("FDS_LISTEN", &c.Listen)
	set("FDS_GRPC_LISTEN", &c.GRPCListen)
	set("FDS_DB_PATH", &c.DBPath)
	set("FDS_TRAINING_PATH", &c.TrainingPath)
	set("FDS_LOG_LEVEL", &c.LogLevel)

	if v, ok := lookup("FDS_REDIS_ADDR"); ok {
		if c.Redis == nil {
			c.Redis = &RedisConfig{}
		}
		c.Redis.Addr = v
	}
	if v, ok := lookup("FDS_REDIS_PASSWORD"); ok && c.Redis != nil {
		c.Redis.Password = v
	}
	if v, ok := lookup("FDS_KAFKA_BROKERS"); ok {
		if c.Kafka == nil {
			c.Kafka = &KafkaConfig{}
		}
		c.Kafka.Brokers = v
	}
	if v, ok := lookup("FDS_KAFKA_TOPIC"); ok && c.Kafka != nil {
		c.Kafka.Topic = v
	}
}

// Validate checks the configuration as a whole: ids are unique, every room
// has sensors that exist, and no sensor serves two rooms.
func (c *Config) Validate() error {
	if _, err := monitoring.ParseLevel(c.GetLogLevel()); err != nil {
		return err
	}
	if err := c.Tuning.Validate(); err != nil {
		return err
	}

	sensors := make(map[int]bool, len(c.Sensors))
	for _, s := range c.Sensors {
		if sensors[s.ID] {
			return fmt.Errorf("sensor %d defined twice", s.ID)
		}
		sensors[s.ID] = true
		if s.Class == "" || s.Device == "" {
			return fmt.Errorf("sensor %d: class and device are required", s.ID)
		}
		if s.Device == sensor.DeviceRPLidar && s.Path == "" {
			return fmt.Errorf("sensor %d: rplidar needs a serial path", s.ID)
		}
		if s.CalibrationType != sensor.CalibrationNone && s.CalibrationPath == "" {
			return fmt.Errorf("sensor %d: calibration_type %q needs calibration_path", s.ID, s.CalibrationType)
		}
	}

	if len(c.Domains) == 0 {
		return errors.New("no domains configured")
	}
	domains := make(map[int]bool, len(c.Domains))
	owner := make(map[int]string)
	for _, d := range c.Domains {
		if domains[d.ID] {
			return fmt.Errorf("domain %d defined twice", d.ID)
		}
		domains[d.ID] = true
		if len(d.Rooms) == 0 {
			return fmt.Errorf("domain %d has no rooms", d.ID)
		}
		rooms := make(map[int]bool, len(d.Rooms))
		for _, r := range d.Rooms {
			where := fmt.Sprintf("domain %d room %d", d.ID, r.ID)
			if rooms[r.ID] {
				return fmt.Errorf("%s defined twice", where)
			}
			rooms[r.ID] = true
			if len(r.Sensors) == 0 {
				return fmt.Errorf("%s has no sensors", where)
			}
			for _, id := range r.Sensors {
				if !sensors[id] {
					return fmt.Errorf("%s uses undefined sensor %d", where, id)
				}
				if prev, taken := owner[id]; taken {
					return fmt.Errorf("sensor %d assigned to both %s and %s", id, prev, where)
				}
				owner[id] = where
			}
		}
	}
	return nil
}
