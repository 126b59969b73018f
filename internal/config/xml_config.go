// Package config provides XML-based configuration management for offline deployment.
package config

import (
	"encoding/xml"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/robertroutledge/pccf-converter/internal/converter"
	"github.com/robertroutledge/pccf-converter/internal/subset"
)

// AppConfig represents the root XML configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"PCCFConverter"`

	// Server configuration
	Server ServerConfig `xml:"Server"`

	// Storage configuration
	Storage StorageConfig `xml:"Storage"`

	// Conversion defaults for the CLI and the service
	Conversion ConversionConfig `xml:"Conversion"`

	// Jobs configuration
	Jobs JobsConfig `xml:"Jobs"`

	// Advanced options
	Advanced AdvancedConfig `xml:"Advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `xml:"Port"`
	BindAddress  string `xml:"BindAddress"`
	EnableCORS   bool   `xml:"EnableCORS"`
	AllowOrigins string `xml:"AllowOrigins"`
	ReadTimeout  int    `xml:"ReadTimeoutSeconds"`
	WriteTimeout int    `xml:"WriteTimeoutSeconds"`
	IdleTimeout  int    `xml:"IdleTimeoutSeconds"`
	BodyLimit    string `xml:"BodyLimit"`
}

// StorageConfig contains file storage settings
type StorageConfig struct {
	DataDirectory    string `xml:"DataDirectory"`
	UploadsDirectory string `xml:"UploadsDirectory"`
	OutputDirectory  string `xml:"OutputDirectory"`
	TempDirectory    string `xml:"TempDirectory"`
	MaxUploadSize    string `xml:"MaxUploadSize"`
}

// ConversionConfig mirrors converter.Options and subset.Options.
type ConversionConfig struct {
	OnError         string `xml:"OnError"`
	ShortLines      string `xml:"ShortLines"`
	Workers         int    `xml:"Workers"`
	BatchSize       int    `xml:"BatchSize"`
	MaxProblems     int    `xml:"MaxProblems"`
	Delimiter       string `xml:"Delimiter"`
	FilterField     string `xml:"FilterField"`
	FilterPrefix    string `xml:"FilterPrefix"`
	SubsetField     string `xml:"SubsetField"`
	SubsetPrefix    string `xml:"SubsetPrefix"`
	SubsetDelimiter string `xml:"SubsetDelimiter"`
}

// JobsConfig contains background job settings
type JobsConfig struct {
	MaxConcurrentJobs      int `xml:"MaxConcurrentJobs"`
	RetentionMinutes       int `xml:"RetentionMinutes"`
	CleanupIntervalMinutes int `xml:"CleanupIntervalMinutes"`
	ProgressIntervalMillis int `xml:"ProgressIntervalMillis"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	LogLevel                string `xml:"LogLevel"`
	EnableRequestLogging    bool   `xml:"EnableRequestLogging"`
	WebSocketMaxMessageSize int    `xml:"WebSocketMaxMessageSizeKB"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8089,
			BindAddress:  "0.0.0.0",
			EnableCORS:   true,
			AllowOrigins: "*",
			ReadTimeout:  30,
			WriteTimeout: 30,
			IdleTimeout:  120,
			BodyLimit:    "2G",
		},
		Storage: StorageConfig{
			DataDirectory:    "./data",
			UploadsDirectory: "./data/uploads",
			OutputDirectory:  "./data/output",
			TempDirectory:    "./data/temp",
			MaxUploadSize:    "2G",
		},
		Conversion: ConversionConfig{
			OnError:         string(converter.ErrorPolicyAbort),
			ShortLines:      string(converter.ShortLineSkip),
			Workers:         1,
			BatchSize:       converter.DefaultBatchSize,
			MaxProblems:     converter.DefaultMaxProblems,
			Delimiter:       "tab",
			SubsetField:     subset.DefaultField,
			SubsetPrefix:    subset.DefaultPrefix,
			SubsetDelimiter: "comma",
		},
		Jobs: JobsConfig{
			MaxConcurrentJobs:      2,
			RetentionMinutes:       60,
			CleanupIntervalMinutes: 5,
			ProgressIntervalMillis: 250,
		},
		Advanced: AdvancedConfig{
			LogLevel:                "info",
			EnableRequestLogging:    true,
			WebSocketMaxMessageSize: 64,
		},
	}
}

// LoadConfig loads configuration from XML file
func LoadConfig(configPath string) (*AppConfig, error) {
	// If file doesn't exist, create default
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		config := DefaultConfig()
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		config.applyEnvironmentOverrides()
		config.resolvePaths(filepath.Dir(configPath))
		return config, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := xml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply environment variable overrides
	config.applyEnvironmentOverrides()

	// Resolve relative paths
	config.resolvePaths(filepath.Dir(configPath))

	return config, nil
}

// Save saves the configuration to XML file
func (c *AppConfig) Save(configPath string) error {
	output, err := xml.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(xml.Header + "\n<!-- PCCF Converter Configuration -->\n<!-- This file is auto-generated on first run -->\n\n")
	content := append(header, output...)

	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
		c.Storage.UploadsDirectory = filepath.Join(dataDir, "uploads")
		c.Storage.OutputDirectory = filepath.Join(dataDir, "output")
		c.Storage.TempDirectory = filepath.Join(dataDir, "temp")
	}

	if workers := os.Getenv("PCCF_WORKERS"); workers != "" {
		if w, err := strconv.Atoi(workers); err == nil && w > 0 {
			c.Conversion.Workers = w
		}
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	for _, p := range []*string{
		&c.Storage.DataDirectory,
		&c.Storage.UploadsDirectory,
		&c.Storage.OutputDirectory,
		&c.Storage.TempDirectory,
	} {
		if !filepath.IsAbs(*p) {
			*p = filepath.Join(configDir, *p)
		}
	}
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		c.Storage.UploadsDirectory,
		c.Storage.OutputDirectory,
		c.Storage.TempDirectory,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// LogLevel parses Advanced.LogLevel, falling back to info.
func (c *AppConfig) LogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Advanced.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// ConverterOptions translates the Conversion section. Unknown policy or
// delimiter names are an error.
func (c *AppConfig) ConverterOptions() (converter.Options, error) {
	conv := c.Conversion
	onError, err := converter.ParseErrorPolicy(conv.OnError)
	if err != nil {
		return converter.Options{}, fmt.Errorf("config OnError: %w", err)
	}
	shortLines, err := converter.ParseShortLinePolicy(conv.ShortLines)
	if err != nil {
		return converter.Options{}, fmt.Errorf("config ShortLines: %w", err)
	}
	delim, err := converter.ParseDelimiter(conv.Delimiter)
	if err != nil {
		return converter.Options{}, fmt.Errorf("config Delimiter: %w", err)
	}

	return converter.Options{
		Filter:      converter.NewFilter(conv.FilterField, conv.FilterPrefix),
		OnError:     onError,
		ShortLines:  shortLines,
		Workers:     conv.Workers,
		BatchSize:   conv.BatchSize,
		Delimiter:   delim,
		MaxProblems: conv.MaxProblems,
	}, nil
}

// SubsetOptions translates the subset part of the Conversion section.
func (c *AppConfig) SubsetOptions() (subset.Options, error) {
	in, err := converter.ParseDelimiter(c.Conversion.Delimiter)
	if err != nil {
		return subset.Options{}, fmt.Errorf("config Delimiter: %w", err)
	}
	out, err := converter.ParseDelimiter(c.Conversion.SubsetDelimiter)
	if err != nil {
		return subset.Options{}, fmt.Errorf("config SubsetDelimiter: %w", err)
	}
	return subset.Options{
		Field:           c.Conversion.SubsetField,
		Prefix:          c.Conversion.SubsetPrefix,
		InputDelimiter:  in,
		OutputDelimiter: out,
	}, nil
}

// JobRetention returns how long finished jobs are kept.
func (c *AppConfig) JobRetention() time.Duration {
	return time.Duration(c.Jobs.RetentionMinutes) * time.Minute
}

// CleanupInterval returns how often old jobs and temp files are swept.
func (c *AppConfig) CleanupInterval() time.Duration {
	if c.Jobs.CleanupIntervalMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Jobs.CleanupIntervalMinutes) * time.Minute
}

// ProgressInterval returns the minimum time between progress updates.
func (c *AppConfig) ProgressInterval() time.Duration {
	return time.Duration(c.Jobs.ProgressIntervalMillis) * time.Millisecond
}
