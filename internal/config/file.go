package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dmitrijs2005/formbot/internal/timex"
)

// fileConfig mirrors the on-disk schema. It is decoded from JSON or YAML
// depending on the file extension and merged into Config; zero values leave
// the current setting untouched.
type fileConfig struct {
	DataDir  string `json:"data_dir" yaml:"data_dir"`
	LogLevel string `json:"log_level" yaml:"log_level"`

	Store struct {
		Driver string `json:"driver" yaml:"driver"`
		DSN    string `json:"dsn" yaml:"dsn"`
	} `json:"store" yaml:"store"`

	TelegramToken string `json:"telegram_token" yaml:"telegram_token"`

	InactivityTimeout timex.Duration `json:"inactivity_timeout" yaml:"inactivity_timeout"`
	CodeTTL           timex.Duration `json:"code_ttl" yaml:"code_ttl"`
	DialogueTTL       timex.Duration `json:"dialogue_ttl" yaml:"dialogue_ttl"`

	SMTP struct {
		Host     string `json:"host" yaml:"host"`
		Port     int    `json:"port" yaml:"port"`
		User     string `json:"user" yaml:"user"`
		Password string `json:"password" yaml:"password"`
		From     string `json:"from" yaml:"from"`
	} `json:"smtp" yaml:"smtp"`

	Vision struct {
		APIKey   string `json:"api_key" yaml:"api_key"`
		Endpoint string `json:"endpoint" yaml:"endpoint"`
	} `json:"vision" yaml:"vision"`

	Gemini struct {
		APIKey   string `json:"api_key" yaml:"api_key"`
		Endpoint string `json:"endpoint" yaml:"endpoint"`
		Model    string `json:"model" yaml:"model"`
	} `json:"gemini" yaml:"gemini"`

	Commands struct {
		Extract   string `json:"extract" yaml:"extract"`
		Align     string `json:"align" yaml:"align"`
		Fill      string `json:"fill" yaml:"fill"`
		Rasterize string `json:"rasterize" yaml:"rasterize"`
	} `json:"commands" yaml:"commands"`

	HTTPAddr string `json:"http_addr" yaml:"http_addr"`
	GRPCAddr string `json:"grpc_addr" yaml:"grpc_addr"`

	Kafka struct {
		Brokers []string `json:"brokers" yaml:"brokers"`
		Topic   string   `json:"topic" yaml:"topic"`
	} `json:"kafka" yaml:"kafka"`

	S3 struct {
		Bucket       string `json:"bucket" yaml:"bucket"`
		Region       string `json:"region" yaml:"region"`
		BaseEndpoint string `json:"base_endpoint" yaml:"base_endpoint"`
		AccessKey    string `json:"access_key" yaml:"access_key"`
		SecretKey    string `json:"secret_key" yaml:"secret_key"`
	} `json:"s3" yaml:"s3"`
}

// parseFile loads path (JSON, or YAML for .yaml/.yml) into config.
func parseFile(config *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	fc := &fileConfig{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, fc)
	default:
		err = json.Unmarshal(raw, fc)
	}
	if err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}

	fc.apply(config)
	return nil
}

func (fc *fileConfig) apply(c *Config) {
	setString(&c.DataDir, fc.DataDir)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.StoreDriver, fc.Store.Driver)
	setString(&c.StoreDSN, fc.Store.DSN)
	setString(&c.TelegramToken, fc.TelegramToken)

	if fc.InactivityTimeout.Duration > 0 {
		c.InactivityTimeout = fc.InactivityTimeout.Duration
	}
	if fc.CodeTTL.Duration > 0 {
		c.CodeTTL = fc.CodeTTL.Duration
	}
	if fc.DialogueTTL.Duration > 0 {
		c.DialogueTTL = fc.DialogueTTL.Duration
	}

	setString(&c.SMTPHost, fc.SMTP.Host)
	if fc.SMTP.Port > 0 {
		c.SMTPPort = fc.SMTP.Port
	}
	setString(&c.SMTPUser, fc.SMTP.User)
	setString(&c.SMTPPassword, fc.SMTP.Password)
	setString(&c.SMTPFrom, fc.SMTP.From)

	setString(&c.VisionAPIKey, fc.Vision.APIKey)
	setString(&c.VisionEndpoint, fc.Vision.Endpoint)
	setString(&c.GeminiAPIKey, fc.Gemini.APIKey)
	setString(&c.GeminiEndpoint, fc.Gemini.Endpoint)
	setString(&c.GeminiModel, fc.Gemini.Model)

	setString(&c.ExtractCommand, fc.Commands.Extract)
	setString(&c.AlignCommand, fc.Commands.Align)
	setString(&c.FillCommand, fc.Commands.Fill)
	setString(&c.RasterizeCommand, fc.Commands.Rasterize)

	setString(&c.HTTPAddr, fc.HTTPAddr)
	setString(&c.GRPCAddr, fc.GRPCAddr)

	if len(fc.Kafka.Brokers) > 0 {
		c.KafkaBrokers = fc.Kafka.Brokers
	}
	setString(&c.KafkaTopic, fc.Kafka.Topic)

	setString(&c.S3Bucket, fc.S3.Bucket)
	setString(&c.S3Region, fc.S3.Region)
	setString(&c.S3BaseEndpoint, fc.S3.BaseEndpoint)
	setString(&c.S3AccessKey, fc.S3.AccessKey)
	setString(&c.S3SecretKey, fc.S3.SecretKey)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
