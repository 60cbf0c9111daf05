package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/photomosaic/api/internal/mosaic"
	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	R2        R2Config
	Mosaic    MosaicConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
	// BodyLimit is the maximum upload size in bytes.
	BodyLimit int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RateLimitConfig struct {
	RenderPerHour int
	HQPerHour     int
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

// Configured reports whether every credential needed for R2 is present.
func (c R2Config) Configured() bool {
	return c.AccountID != "" && c.AccessKeyID != "" && c.SecretAccessKey != "" && c.BucketName != ""
}

type MosaicConfig struct {
	LibraryDir string
	CacheDir   string
	UploadDir  string
	OutputDir  string
	// PublicPath is the URL prefix local outputs are served under.
	PublicPath string

	MaxTiles               int
	AspectRatio            float64
	TileSize               int
	TileSizeHQ             int
	DontPutFakeTilesBeyond int
	MaxCanvasHeight        int

	Workers      int
	BatchRows    int
	Signature    string
	OutputFormat string
	JPEGQuality  int
}

// Validate rejects values that would make every render fail.
func (m MosaicConfig) Validate() error {
	if err := m.GridSpec().Validate(); err != nil {
		return err
	}
	if m.TileSizeHQ <= 0 {
		return fmt.Errorf("%w: hq tile size %d", mosaic.ErrInvalidGrid, m.TileSizeHQ)
	}
	if m.DontPutFakeTilesBeyond < 0 {
		return fmt.Errorf("%w: decoration cutoff %d", mosaic.ErrInvalidGrid, m.DontPutFakeTilesBeyond)
	}
	if _, err := mosaic.ParseSignatureSpace(m.Signature); err != nil {
		return err
	}
	if m.LibraryDir == "" {
		return fmt.Errorf("mosaic.library_dir is required")
	}
	return nil
}

// GridSpec returns the layout inputs for the preview tier.
func (m MosaicConfig) GridSpec() mosaic.GridSpec {
	return mosaic.GridSpec{
		TargetTiles:     m.MaxTiles,
		TileSize:        m.TileSize,
		AspectRatio:     m.AspectRatio,
		MaxCanvasHeight: m.MaxCanvasHeight,
	}
}

// SignatureSpace returns the parsed signature space, defaulting to rgb.
func (m MosaicConfig) SignatureSpace() mosaic.SignatureSpace {
	sp, err := mosaic.ParseSignatureSpace(m.Signature)
	if err != nil {
		return mosaic.SpaceRGB
	}
	return sp
}

// LibraryOptions returns the tile library settings for codec.
func (m MosaicConfig) LibraryOptions(codec mosaic.ImageIO) mosaic.LibraryOptions {
	return mosaic.LibraryOptions{
		CacheDir:   m.CacheDir,
		TileSize:   m.TileSize,
		TileSizeHQ: m.TileSizeHQ,
		Space:      m.SignatureSpace(),
		Workers:    m.Workers,
		Codec:      codec,
	}
}

// envBindings maps nested config keys to their environment variables.
var envBindings = []struct{ key, env string }{
	{"server.port", "SERVER_PORT"},
	{"server.env", "SERVER_ENV"},
	{"server.log_level", "LOG_LEVEL"},
	{"server.body_limit", "SERVER_BODY_LIMIT"},
	{"redis.addr", "REDIS_ADDR"},
	{"redis.password", "REDIS_PASSWORD"},
	{"redis.db", "REDIS_DB"},
	{"ratelimit.render_per_hour", "RATELIMIT_RENDER_PER_HOUR"},
	{"ratelimit.hq_per_hour", "RATELIMIT_HQ_PER_HOUR"},
	{"r2.account_id", "R2_ACCOUNT_ID"},
	{"r2.access_key_id", "R2_ACCESS_KEY_ID"},
	{"r2.secret_access_key", "R2_SECRET_ACCESS_KEY"},
	{"r2.bucket_name", "R2_BUCKET_NAME"},
	{"r2.public_url", "R2_PUBLIC_URL"},
	{"mosaic.library_dir", "MOSAIC_LIBRARY_DIR"},
	{"mosaic.cache_dir", "MOSAIC_CACHE_DIR"},
	{"mosaic.upload_dir", "MOSAIC_UPLOAD_DIR"},
	{"mosaic.output_dir", "MOSAIC_OUTPUT_DIR"},
	{"mosaic.max_tiles", "MOSAIC_MAX_TILES"},
	{"mosaic.aspect_ratio", "MOSAIC_ASPECT_RATIO"},
	{"mosaic.tile_size", "MOSAIC_TILE_SIZE"},
	{"mosaic.tile_size_hq", "MOSAIC_TILE_SIZE_HQ"},
	{"mosaic.max_canvas_height", "MOSAIC_MAX_CANVAS_HEIGHT"},
	{"mosaic.workers", "MOSAIC_WORKERS"},
	{"mosaic.batch_rows", "MOSAIC_BATCH_ROWS"},
	{"mosaic.signature", "MOSAIC_SIGNATURE"},
	{"mosaic.output_format", "MOSAIC_OUTPUT_FORMAT"},
	{"mosaic.jpeg_quality", "MOSAIC_JPEG_QUALITY"},
	{"mosaic.public_path", "MOSAIC_PUBLIC_PATH"},
	{"mosaic.dont_put_fake_tiles_beyond", "MOSAIC_DONT_PUT_FAKE_TILES_BEYOND"},
}

func bindEnv(v *viper.Viper) {
	for _, b := range envBindings {
		_ = v.BindEnv(b.key, b.env)
	}
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	bindEnv(viper.GetViper())

	setDefaults(viper.GetViper())

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	return fromViper(viper.GetViper())
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.body_limit", 20*1024*1024)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("ratelimit.render_per_hour", 20)
	v.SetDefault("ratelimit.hq_per_hour", 5)

	// Mosaic defaults
	v.SetDefault("mosaic.library_dir", "./public/mosaic/bootstrap")
	v.SetDefault("mosaic.cache_dir", "")
	v.SetDefault("mosaic.upload_dir", "./uploads")
	v.SetDefault("mosaic.output_dir", "./public/output")
	v.SetDefault("mosaic.public_path", "/output")
	v.SetDefault("mosaic.max_tiles", 4000)
	v.SetDefault("mosaic.aspect_ratio", 16.0/9.0)
	v.SetDefault("mosaic.tile_size", 10)
	v.SetDefault("mosaic.tile_size_hq", 200)
	v.SetDefault("mosaic.dont_put_fake_tiles_beyond", 0)
	v.SetDefault("mosaic.max_canvas_height", 0)
	v.SetDefault("mosaic.workers", runtime.NumCPU())
	v.SetDefault("mosaic.batch_rows", 4)
	v.SetDefault("mosaic.signature", "rgb")
	v.SetDefault("mosaic.output_format", "jpeg")
	v.SetDefault("mosaic.jpeg_quality", 85)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:      v.GetString("server.port"),
			Env:       v.GetString("server.env"),
			LogLevel:  v.GetString("server.log_level"),
			BodyLimit: v.GetInt("server.body_limit"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		RateLimit: RateLimitConfig{
			RenderPerHour: v.GetInt("ratelimit.render_per_hour"),
			HQPerHour:     v.GetInt("ratelimit.hq_per_hour"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
		},
		Mosaic: MosaicConfig{
			PublicPath:             v.GetString("mosaic.public_path"),
			MaxTiles:               v.GetInt("mosaic.max_tiles"),
			AspectRatio:            v.GetFloat64("mosaic.aspect_ratio"),
			TileSize:               v.GetInt("mosaic.tile_size"),
			TileSizeHQ:             v.GetInt("mosaic.tile_size_hq"),
			DontPutFakeTilesBeyond: v.GetInt("mosaic.dont_put_fake_tiles_beyond"),
			MaxCanvasHeight:        v.GetInt("mosaic.max_canvas_height"),
			Workers:                v.GetInt("mosaic.workers"),
			BatchRows:              v.GetInt("mosaic.batch_rows"),
			Signature:              v.GetString("mosaic.signature"),
			OutputFormat:           v.GetString("mosaic.output_format"),
			JPEGQuality:            v.GetInt("mosaic.jpeg_quality"),
		},
	}

	dirs := []struct {
		key string
		dst *string
	}{
		{"mosaic.library_dir", &cfg.Mosaic.LibraryDir},
		{"mosaic.cache_dir", &cfg.Mosaic.CacheDir},
		{"mosaic.upload_dir", &cfg.Mosaic.UploadDir},
		{"mosaic.output_dir", &cfg.Mosaic.OutputDir},
	}
	for _, d := range dirs {
		p, err := ExpandPath(v.GetString(d.key))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = p
	}

	if err := cfg.Mosaic.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ExpandPath resolves a leading ~ and cleans the path. Empty stays empty.
func ExpandPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	expanded, err := homedir.Expand(p)
	if err != nil {
		return "", err
	}
	return filepath.Clean(expanded), nil
}
