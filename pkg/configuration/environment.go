package configuration

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/orgtree/pkg/logging"
)

const Production = "production"

var singleton = sync.OnceValue(func() *Configuration {
	c := &Configuration{}
	if err := c.load([]string{".env", ".env.local"}); err != nil {
		c.Unload()
		panic(err)
	}
	return c
})

// LoadEnv loads the given env files from the working directory, falling back
// to the repository root (the directory holding go.mod) so that tests running
// in nested packages pick up the same configuration.
func LoadEnv(envFiles []string) (int, error) {
	existing := existingFiles(envFiles)
	if len(existing) == 0 {
		if root, ok := goModRoot(); ok {
			rooted := make([]string, 0, len(envFiles))
			for _, f := range envFiles {
				rooted = append(rooted, filepath.Join(root, f))
			}
			existing = existingFiles(rooted)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

func existingFiles(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			out = append(out, p)
		}
	}
	return out
}

func goModRoot() (string, bool) {
	dir, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for {
		if st, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil && !st.IsDir() {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

type DatabaseOptions struct {
	Opts     string `env:"-"`
	Name     string `env:"DB_NAME" envDefault:"orgtree"`
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD" envDefault:"postgres"`
}

func (d *DatabaseOptions) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s dbname=%s password=%s sslmode=disable",
		d.Host, d.Port, d.User, d.Name, d.Password,
	)
}

type PrometheusOptions struct {
	Enabled bool   `env:"PROMETHEUS_METRICS_ENABLED" envDefault:"true"`
	Path    string `env:"PROMETHEUS_METRICS_PATH" envDefault:"/metrics"`
}

// HierarchyOptions binds each hierarchy kind to a tree storage backend.
// Valid backends: adjacency, path, closure.
type HierarchyOptions struct {
	DefaultBackend    string `env:"HIERARCHY_BACKEND_DEFAULT" envDefault:"adjacency"`
	DepartmentBackend string `env:"HIERARCHY_BACKEND_DEPARTMENT" envDefault:"closure"`
	JobBackend        string `env:"HIERARCHY_BACKEND_JOB" envDefault:""`
	TeamBackend       string `env:"HIERARCHY_BACKEND_TEAM" envDefault:"path"`
	ProjectBackend    string `env:"HIERARCHY_BACKEND_PROJECT" envDefault:""`

	CacheEnabled bool `env:"HIERARCHY_CACHE_ENABLED" envDefault:"false"`
}

// BackendFor resolves the backend for a kind, falling back to the default.
func (h *HierarchyOptions) BackendFor(kind string) string {
	var v string
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "department":
		v = h.DepartmentBackend
	case "job":
		v = h.JobBackend
	case "team":
		v = h.TeamBackend
	case "project":
		v = h.ProjectBackend
	}
	if strings.TrimSpace(v) == "" {
		return h.DefaultBackend
	}
	return v
}

type Configuration struct {
	Database   DatabaseOptions
	Prometheus PrometheusOptions
	Hierarchy  HierarchyOptions

	MigrationsDir    string `env:"MIGRATIONS_DIR" envDefault:"migrations"`
	ServerPort       int    `env:"PORT" envDefault:"3200"`
	GoAppEnvironment string `env:"GO_APP_ENV" envDefault:"development"`
	SocketAddress    string `env:"-"`
	PageSize         int    `env:"PAGE_SIZE" envDefault:"25"`
	MaxPageSize      int    `env:"MAX_PAGE_SIZE" envDefault:"100"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"error"`
	LogPath          string `env:"LOG_PATH" envDefault:"./logs/app.log"`

	// The server looks for this header on each request; when absent a random
	// uuidv4 is generated.
	RequestIDHeader string `env:"REQUEST_ID_HEADER" envDefault:"X-Request-ID"`
	RealIPHeader    string `env:"REAL_IP_HEADER" envDefault:"X-Real-IP"`

	// RLS enforcement mode (disabled/enforce).
	RLSEnforce string `env:"RLS_ENFORCE" envDefault:"disabled"`

	AllowedOrigins string `env:"ALLOWED_ORIGINS" envDefault:"*"`

	logFile *os.File
	logger  *logrus.Logger
}

func (c *Configuration) Logger() *logrus.Logger {
	return c.logger
}

func (c *Configuration) LogrusLogLevel() logrus.Level {
	switch c.LogLevel {
	case "silent":
		return logrus.PanicLevel
	case "error":
		return logrus.ErrorLevel
	case "warn":
		return logrus.WarnLevel
	case "info":
		return logrus.InfoLevel
	case "debug":
		return logrus.DebugLevel
	default:
		return logrus.ErrorLevel
	}
}

func Use() *Configuration {
	return singleton()
}

func (c *Configuration) load(envFiles []string) error {
	n, err := LoadEnv(envFiles)
	if err != nil {
		return err
	}
	if n == 0 {
		wd, _ := os.Getwd()
		log.Println("No .env files found. Tried:")
		for _, file := range envFiles {
			log.Println(filepath.Join(wd, file))
		}
	}
	if err := env.Parse(c); err != nil {
		return err
	}

	if err := c.validateRLS(); err != nil {
		return err
	}
	if err := c.validateHierarchyBackends(); err != nil {
		return err
	}

	f, logger, err := logging.FileLogger(c.LogrusLogLevel(), c.LogPath)
	if err != nil {
		return err
	}
	c.logFile = f
	c.logger = logger

	c.Database.Opts = c.Database.ConnectionString()
	if c.GoAppEnvironment == Production {
		c.SocketAddress = fmt.Sprintf(":%d", c.ServerPort)
	} else {
		c.SocketAddress = fmt.Sprintf("localhost:%d", c.ServerPort)
	}

	return nil
}

func (c *Configuration) validateRLS() error {
	mode := strings.ToLower(strings.TrimSpace(c.RLSEnforce))
	if mode == "" {
		mode = "disabled"
	}
	switch mode {
	case "disabled", "enforce":
	default:
		return fmt.Errorf("invalid RLS_ENFORCE=%q (expected disabled|enforce)", c.RLSEnforce)
	}

	if mode == "enforce" && strings.EqualFold(strings.TrimSpace(c.Database.User), "postgres") {
		return fmt.Errorf("RLS_ENFORCE=enforce requires a non-superuser DB_USER (postgres will bypass RLS)")
	}

	c.RLSEnforce = mode
	return nil
}

func (c *Configuration) validateHierarchyBackends() error {
	check := func(key, v string) error {
		v = strings.ToLower(strings.TrimSpace(v))
		switch v {
		case "", "adjacency", "path", "closure":
			return nil
		default:
			return fmt.Errorf("invalid %s=%q (expected adjacency|path|closure)", key, v)
		}
	}
	if err := check("HIERARCHY_BACKEND_DEFAULT", c.Hierarchy.DefaultBackend); err != nil {
		return err
	}
	if strings.TrimSpace(c.Hierarchy.DefaultBackend) == "" {
		c.Hierarchy.DefaultBackend = "adjacency"
	}
	for key, v := range map[string]string{
		"HIERARCHY_BACKEND_DEPARTMENT": c.Hierarchy.DepartmentBackend,
		"HIERARCHY_BACKEND_JOB":        c.Hierarchy.JobBackend,
		"HIERARCHY_BACKEND_TEAM":       c.Hierarchy.TeamBackend,
		"HIERARCHY_BACKEND_PROJECT":    c.Hierarchy.ProjectBackend,
	} {
		if err := check(key, v); err != nil {
			return err
		}
	}
	return nil
}

// Unload handles a graceful shutdown.
func (c *Configuration) Unload() {
	if c.logFile != nil {
		_ = c.logFile.Close()
	}
}
