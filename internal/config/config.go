package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/a3tai/mcp-pdf-annotator/internal/capture"
	"github.com/a3tai/mcp-pdf-annotator/internal/dates"
	"github.com/a3tai/mcp-pdf-annotator/internal/pagecache"
	"github.com/a3tai/mcp-pdf-annotator/internal/schema"
	"github.com/a3tai/mcp-pdf-annotator/internal/session"
	"github.com/a3tai/mcp-pdf-annotator/internal/spans"
	"github.com/a3tai/mcp-pdf-annotator/internal/store"
	"github.com/a3tai/mcp-pdf-annotator/internal/viewport"
)

const (
	// Mode constants
	ModeStdio  = "stdio"
	ModeServer = "server"

	// Default values
	DefaultPort        = 8080
	DefaultHost        = "127.0.0.1"
	DefaultLogLevel    = "info"
	DefaultMaxFileSize = 100 * 1024 * 1024 // 100MB
	DefaultDataDirName = ".annotations"
	DefaultDBFile      = "annotations.db"
	DefaultEnvFile     = ".env"

	// Directory permissions
	DefaultDirPerm = 0o750
)

// Config holds all configuration for the annotation MCP server
type Config struct {
	// Server configuration
	Mode string // "server" or "stdio"
	Host string
	Port int

	// Document configuration
	PDFDirectory  string
	DataDirectory string // holds the sqlite database and exported files
	MaxFileSize   int64  // Maximum PDF file size in bytes

	// Storage configuration
	DBDriver string // "sqlite" or "postgres"
	DBDSN    string

	// Viewing and capture
	MinZoom        float64
	MaxZoom        float64
	ZoomStep       float64
	PageGap        float64 // in document units
	MinGestureArea float64 // in screen pixels²
	SnapOverlap    float64
	PreviewCache   int

	// Date normalization
	DateOrder string // "dayfirst" or "monthfirst"
	DatePivot int

	// Application configuration
	Version    string
	ServerName string
	LogLevel   string
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	currentDir, err := os.Getwd()
	if err != nil {
		currentDir = "."
	}

	return &Config{
		Mode:           ModeStdio, // Default to stdio mode for MCP compatibility
		Host:           DefaultHost,
		Port:           DefaultPort,
		PDFDirectory:   currentDir,
		MaxFileSize:    DefaultMaxFileSize,
		DBDriver:       store.DriverSQLite,
		MinZoom:        viewport.DefaultMinZoom,
		MaxZoom:        viewport.DefaultMaxZoom,
		ZoomStep:       viewport.DefaultZoomStep,
		PageGap:        viewport.DefaultPageGap,
		MinGestureArea: capture.DefaultMinArea,
		SnapOverlap:    spans.DefaultMinOverlap,
		PreviewCache:   pagecache.DefaultCapacity,
		DateOrder:      dates.DayFirst.String(),
		DatePivot:      dates.DefaultPivot,
		Version:        "1.0.0",
		ServerName:     "mcp-pdf-annotator",
		LogLevel:       DefaultLogLevel,
	}
}

// LoadFromFlags parses command line flags and returns a configuration
func LoadFromFlags() (*Config, error) {
	cfg := DefaultConfig()

	if err := loadEnvFile(DefaultEnvFile); err != nil {
		return nil, err
	}
	setupViperEnvironment(cfg)
	defineCommandLineFlags(cfg)
	bindFlagsToViper()
	setupUsageMessage()

	// Check for version flag before parsing
	if err := checkVersionFlag(); err != nil {
		return nil, err
	}

	pflag.Parse()

	populateConfigFromViper(cfg)

	if cfg.PDFDirectory != "" {
		if expandedPath, err := filepath.Abs(cfg.PDFDirectory); err == nil {
			cfg.PDFDirectory = expandedPath
		}
	}
	if cfg.DataDirectory == "" && cfg.PDFDirectory != "" {
		cfg.DataDirectory = filepath.Join(cfg.PDFDirectory, DefaultDataDirName)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadEnvFile loads variables from a dotenv file into the environment.
// Variables already set win and a missing file is not an error.
func loadEnvFile(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("cannot load %s: %w", path, err)
}

// setupViperEnvironment configures viper with environment variables and defaults
func setupViperEnvironment(cfg *Config) {
	viper.SetEnvPrefix("MCP_PDF")
	viper.AutomaticEnv()

	viper.SetDefault("mode", cfg.Mode)
	viper.SetDefault("host", cfg.Host)
	viper.SetDefault("port", cfg.Port)
	viper.SetDefault("dir", cfg.PDFDirectory)
	viper.SetDefault("datadir", cfg.DataDirectory)
	viper.SetDefault("dbdriver", cfg.DBDriver)
	viper.SetDefault("dbdsn", cfg.DBDSN)
	viper.SetDefault("loglevel", cfg.LogLevel)
	viper.SetDefault("maxfilesize", cfg.MaxFileSize)
	viper.SetDefault("minzoom", cfg.MinZoom)
	viper.SetDefault("maxzoom", cfg.MaxZoom)
	viper.SetDefault("zoomstep", cfg.ZoomStep)
	viper.SetDefault("pagegap", cfg.PageGap)
	viper.SetDefault("mingesturearea", cfg.MinGestureArea)
	viper.SetDefault("snapoverlap", cfg.SnapOverlap)
	viper.SetDefault("previewcache", cfg.PreviewCache)
	viper.SetDefault("dateorder", cfg.DateOrder)
	viper.SetDefault("datepivot", cfg.DatePivot)
}

// defineCommandLineFlags sets up all command line flags
func defineCommandLineFlags(cfg *Config) {
	pflag.String("mode", cfg.Mode, "Server mode: 'stdio' for MCP standard I/O, 'server' for HTTP server")
	pflag.String("host", cfg.Host, "Server host address (server mode only)")
	pflag.Int("port", cfg.Port, "Server port (server mode only)")
	pflag.String("dir", cfg.PDFDirectory, "Directory containing PDF files")
	pflag.String("datadir", cfg.DataDirectory, "Directory for the annotation database and exports (default <dir>/.annotations)")
	pflag.String("dbdriver", cfg.DBDriver, "Annotation database driver (sqlite, postgres)")
	pflag.String("dbdsn", cfg.DBDSN, "Annotation database DSN (default <datadir>/annotations.db for sqlite)")
	pflag.String("loglevel", cfg.LogLevel, "Log level (debug, info, warn, error)")
	pflag.Int64("maxfilesize", cfg.MaxFileSize, "Maximum PDF file size in bytes")
	pflag.Float64("minzoom", cfg.MinZoom, "Minimum zoom factor")
	pflag.Float64("maxzoom", cfg.MaxZoom, "Maximum zoom factor")
	pflag.Float64("zoomstep", cfg.ZoomStep, "Zoom factor of one zoom step")
	pflag.Float64("pagegap", cfg.PageGap, "Gap between pages in document units")
	pflag.Float64("mingesturearea", cfg.MinGestureArea, "Smallest annotation area kept, in screen pixels²")
	pflag.Float64("snapoverlap", cfg.SnapOverlap, "Overlap a text span needs to join a snapped annotation (0-1]")
	pflag.Int("previewcache", cfg.PreviewCache, "Number of rendered page previews kept in memory")
	pflag.String("dateorder", cfg.DateOrder, "Preferred order of ambiguous numeric dates (dayfirst, monthfirst)")
	pflag.Int("datepivot", cfg.DatePivot, "Two-digit years below the pivot are 20xx, the rest 19xx")
}

// bindFlagsToViper binds command line flags to viper configuration
func bindFlagsToViper() {
	for _, name := range []string{
		"mode", "host", "port", "dir", "datadir", "dbdriver", "dbdsn", "loglevel", "maxfilesize",
		"minzoom", "maxzoom", "zoomstep", "pagegap", "mingesturearea", "snapoverlap", "previewcache",
		"dateorder", "datepivot",
	} {
		_ = viper.BindPFlag(name, pflag.Lookup(name))
	}
}

// setupUsageMessage configures the custom usage message
func setupUsageMessage() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nMCP PDF Annotator - A Model Context Protocol server for annotating PDF files\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		pflag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                                         "+
			"# stdio mode, current directory (default)\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --dir=/path/to/pdfs --dateorder=monthfirst\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --mode=server --dir=/path/to/pdfs       # server mode\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --mode=server --dbdriver=postgres --dbdsn='host=db user=pdf dbname=pdf'\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables (also read from %s):\n", DefaultEnvFile)
		fmt.Fprintf(os.Stderr, "  MCP_PDF_MODE        Server mode\n")
		fmt.Fprintf(os.Stderr, "  MCP_PDF_HOST        Server host\n")
		fmt.Fprintf(os.Stderr, "  MCP_PDF_PORT        Server port\n")
		fmt.Fprintf(os.Stderr, "  MCP_PDF_DIR         PDF directory\n")
		fmt.Fprintf(os.Stderr, "  MCP_PDF_DATADIR     Data directory\n")
		fmt.Fprintf(os.Stderr, "  MCP_PDF_DBDRIVER    Database driver\n")
		fmt.Fprintf(os.Stderr, "  MCP_PDF_DBDSN       Database DSN\n")
		fmt.Fprintf(os.Stderr, "  MCP_PDF_LOGLEVEL    Log level\n")
		fmt.Fprintf(os.Stderr, "  MCP_PDF_DATEORDER   Date order\n")
	}
}

// checkVersionFlag checks if version flag was requested
func checkVersionFlag() error {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" || arg == "-v" {
			return fmt.Errorf("version requested")
		}
	}
	return nil
}

// populateConfigFromViper fills the config struct with values from viper
func populateConfigFromViper(cfg *Config) {
	cfg.Mode = viper.GetString("mode")
	cfg.Host = viper.GetString("host")
	cfg.Port = viper.GetInt("port")
	cfg.PDFDirectory = viper.GetString("dir")
	cfg.DataDirectory = viper.GetString("datadir")
	cfg.DBDriver = viper.GetString("dbdriver")
	cfg.DBDSN = viper.GetString("dbdsn")
	cfg.LogLevel = viper.GetString("loglevel")
	cfg.MaxFileSize = viper.GetInt64("maxfilesize")
	cfg.MinZoom = viper.GetFloat64("minzoom")
	cfg.MaxZoom = viper.GetFloat64("maxzoom")
	cfg.ZoomStep = viper.GetFloat64("zoomstep")
	cfg.PageGap = viper.GetFloat64("pagegap")
	cfg.MinGestureArea = viper.GetFloat64("mingesturearea")
	cfg.SnapOverlap = viper.GetFloat64("snapoverlap")
	cfg.PreviewCache = viper.GetInt("previewcache")
	cfg.DateOrder = viper.GetString("dateorder")
	cfg.DatePivot = viper.GetInt("datepivot")
}

// Validate checks if the configuration is valid and creates the PDF and data
// directories when they are missing
func (c *Config) Validate() error {
	if c.Mode != ModeStdio && c.Mode != ModeServer {
		return errors.New("mode must be either 'stdio' or 'server'")
	}

	// Validate port range (only for server mode)
	if c.Mode == ModeServer && (c.Port < 1 || c.Port > 65535) {
		return errors.New("port must be between 1 and 65535")
	}

	if c.PDFDirectory == "" {
		return errors.New("PDF directory cannot be empty")
	}
	if err := ensureDir("PDF", c.PDFDirectory); err != nil {
		return err
	}
	if c.DataDirectory == "" {
		c.DataDirectory = filepath.Join(c.PDFDirectory, DefaultDataDirName)
	}
	if err := ensureDir("data", c.DataDirectory); err != nil {
		return err
	}

	if c.MaxFileSize <= 0 {
		return errors.New("maximum file size must be positive")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}

	switch c.DBDriver {
	case store.DriverSQLite:
	case store.DriverPostgres:
		if c.DBDSN == "" {
			return errors.New("postgres requires a DSN")
		}
	default:
		return fmt.Errorf("invalid database driver: %s (must be one of: sqlite, postgres)", c.DBDriver)
	}

	if c.MinZoom <= 0 {
		return errors.New("minimum zoom must be positive")
	}
	if c.MaxZoom < c.MinZoom {
		return fmt.Errorf("maximum zoom %g is below minimum zoom %g", c.MaxZoom, c.MinZoom)
	}
	if c.ZoomStep <= 1 {
		return errors.New("zoom step must be greater than 1")
	}
	if c.PageGap < 0 {
		return errors.New("page gap cannot be negative")
	}
	if c.MinGestureArea < 0 {
		return errors.New("minimum gesture area cannot be negative")
	}
	if c.SnapOverlap <= 0 || c.SnapOverlap > 1 {
		return fmt.Errorf("snap overlap %g must be in (0, 1]", c.SnapOverlap)
	}
	if c.PreviewCache <= 0 {
		return errors.New("preview cache size must be positive")
	}

	if _, err := dates.ParseOrder(c.DateOrder); err != nil {
		return fmt.Errorf("invalid date order: %w", err)
	}
	if c.DatePivot < 0 || c.DatePivot > 99 {
		return fmt.Errorf("date pivot %d must be between 0 and 99", c.DatePivot)
	}

	return nil
}

func ensureDir(kind, dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, DefaultDirPerm); err != nil {
			return fmt.Errorf("cannot create %s directory %s: %w", kind, dir, err)
		}
	} else if err != nil {
		return fmt.Errorf("cannot access %s directory %s: %w", kind, dir, err)
	}
	return nil
}

// DatabaseDSN returns the configured DSN, defaulting to a database file in
// the data directory for sqlite
func (c *Config) DatabaseDSN() string {
	if c.DBDSN != "" || c.DBDriver == store.DriverPostgres {
		return c.DBDSN
	}
	return filepath.Join(c.DataDirectory, DefaultDBFile)
}

// ViewOptions projects the configuration onto the viewport options
func (c *Config) ViewOptions() viewport.Options {
	opts := viewport.DefaultOptions()
	opts.MinZoom = c.MinZoom
	opts.MaxZoom = c.MaxZoom
	opts.ZoomStep = c.ZoomStep
	opts.PageGap = c.PageGap
	return opts
}

// CaptureOptions projects the configuration onto the capture options
func (c *Config) CaptureOptions() capture.Options {
	return capture.Options{MinArea: c.MinGestureArea, MinOverlap: c.SnapOverlap}
}

// DateOptions projects the configuration onto the date normalizer options
func (c *Config) DateOptions() dates.Options {
	order, err := dates.ParseOrder(c.DateOrder)
	if err != nil {
		order = dates.DayFirst
	}
	return dates.Options{Order: order, Pivot: c.DatePivot}
}

// SessionOptions returns the options for document sessions
func (c *Config) SessionOptions() session.Options {
	return session.Options{
		View:    c.ViewOptions(),
		Capture: c.CaptureOptions(),
		Dates:   c.DateOptions(),
		Schema:  schema.Default(),
		Debug:   c.IsDebug(),
	}
}

// Address returns the server address as host:port
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDebug returns true if debug logging is enabled
func (c *Config) IsDebug() bool {
	return c.LogLevel == "debug"
}

// String returns a string representation of the configuration
func (c *Config) String() string {
	return fmt.Sprintf("Config{Mode: %s, Host: %s, Port: %d, PDFDirectory: %s, DataDirectory: %s, "+
		"DBDriver: %s, LogLevel: %s, MaxFileSize: %d, Zoom: [%g, %g], DateOrder: %s}",
		c.Mode, c.Host, c.Port, c.PDFDirectory, c.DataDirectory,
		c.DBDriver, c.LogLevel, c.MaxFileSize, c.MinZoom, c.MaxZoom, c.DateOrder)
}

// IsServerMode returns true if the server is running in HTTP server mode
func (c *Config) IsServerMode() bool {
	return c.Mode == ModeServer
}

// IsStdioMode returns true if the server is running in stdio mode
func (c *Config) IsStdioMode() bool {
	return c.Mode == ModeStdio
}
