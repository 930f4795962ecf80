package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kozaktomas/face-greeter/internal/constants"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Debug       bool              `yaml:"debug"`
	Camera      CameraConfig      `yaml:"camera"`
	Detector    DetectorConfig    `yaml:"detector"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Announce    AnnounceConfig    `yaml:"announce"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Database    DatabaseConfig    `yaml:"database"`
	Snapshot    SnapshotConfig    `yaml:"snapshot"`
	Training    TrainingConfig    `yaml:"training"`
	Web         WebConfig         `yaml:"web"`
}

type CameraConfig struct {
	Source string `yaml:"source"` // "http" (snapshot URL) or "dir" (replay image files)
	URL    string `yaml:"url"`    // snapshot endpoint returning one JPEG per GET
	Dir    string `yaml:"dir"`    // directory replayed by the "dir" source
	Loop   bool   `yaml:"loop"`   // restart the directory when it runs out
}

type DetectorConfig struct {
	Backend   string        `yaml:"backend"`    // "http" (embedding server) or "dlib" (in-process)
	URL       string        `yaml:"url"`        // defaults to http://localhost:8000
	ModelsDir string        `yaml:"models_dir"` // dlib model files for the "dlib" backend
	CNN       bool          `yaml:"cnn"`        // use the dlib CNN detector instead of HOG
	Timeout   time.Duration `yaml:"timeout"`    // HTTP client timeout
}

type RecognitionConfig struct {
	Threshold    float64       `yaml:"threshold"`     // max Euclidean distance for a match
	Scale        int           `yaml:"scale"`         // downsample factor before detection
	FrameTimeout time.Duration `yaml:"frame_timeout"` // per-frame detector budget
	MaxFPS       float64       `yaml:"max_fps"`       // 0 = as fast as the detector allows
}

type AnnounceConfig struct {
	Speaker      string `yaml:"speaker"`  // "espeak", "mqtt", "log" or "none"
	Template     string `yaml:"template"` // {name}, {age} and {occupation} placeholders
	EspeakBinary string `yaml:"espeak_binary"`
	Voice        string `yaml:"voice"`
	Rate         int    `yaml:"rate"` // words per minute
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"` // host:port
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	QoS      int    `yaml:"qos"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type DatabaseConfig struct {
	Backend      string `yaml:"backend"`     // "mariadb", "postgres" or "" (no database)
	URL          string `yaml:"url"`         // PostgreSQL connection URL
	MariaDBDSN   string `yaml:"mariadb_dsn"` // e.g. root:secret@tcp(localhost:3306)/face_recognition_db
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type SnapshotConfig struct {
	Backend string `yaml:"backend"` // "file" or "database"
	Path    string `yaml:"path"`    // file backend location
	Format  string `yaml:"format"`  // "gob" or "json"
	Watch   bool   `yaml:"watch"`   // reload when the file changes
}

type TrainingConfig struct {
	Source       string `yaml:"source"` // "dataset" (folder per person) or "database" (stored images)
	DatasetDir   string `yaml:"dataset_dir"`
	Workers      int    `yaml:"workers"`
	WatchDataset bool   `yaml:"watch_dataset"` // retrain when the dataset folder changes
}

type WebConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`            // 0 disables the status API
	AllowedOrigins []string `yaml:"allowed_origins"` // CORS origins besides localhost
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Camera: CameraConfig{
			Source: "http",
			URL:    "http://localhost:8080/?action=snapshot",
			Loop:   true,
		},
		Detector: DetectorConfig{
			Backend: "http",
			URL:     "http://localhost:8000",
			Timeout: 30 * time.Second,
		},
		Recognition: RecognitionConfig{
			Threshold:    constants.DefaultDistanceThreshold,
			Scale:        constants.DefaultFrameScale,
			FrameTimeout: constants.DefaultFrameTimeout,
		},
		Announce: AnnounceConfig{
			Speaker:      "espeak",
			Template:     constants.DefaultAnnounceTemplate,
			EspeakBinary: "espeak",
			Rate:         constants.DefaultSpeechRate,
		},
		MQTT: MQTTConfig{
			Broker:   "localhost:1883",
			ClientID: "face-greeter",
			Topic:    "face-greeter/announcements",
			QoS:      1,
		},
		Database: DatabaseConfig{
			MaxOpenConns: 25,
			MaxIdleConns: 5,
		},
		Snapshot: SnapshotConfig{
			Backend: "file",
			Path:    constants.DefaultSnapshotPath,
			Format:  "gob",
		},
		Training: TrainingConfig{
			Source:     "dataset",
			DatasetDir: constants.DefaultDatasetDir,
			Workers:    constants.DefaultTrainingWorkers,
		},
		Web: WebConfig{
			Host: "0.0.0.0",
		},
	}
}

// Load returns the defaults overridden by environment variables.
func Load() *Config {
	cfg := Defaults()
	applyEnv(cfg)
	return cfg
}

// LoadFile reads a YAML file over the defaults, then applies environment variables on top.
// An empty path behaves like Load.
func LoadFile(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // path is from trusted CLI flag
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Debug = envBool("DEBUG", cfg.Debug)

	cfg.Camera.Source = envString("CAMERA_SOURCE", cfg.Camera.Source)
	cfg.Camera.URL = envString("CAMERA_URL", cfg.Camera.URL)
	cfg.Camera.Dir = envString("CAMERA_DIR", cfg.Camera.Dir)
	cfg.Camera.Loop = envBool("CAMERA_LOOP", cfg.Camera.Loop)

	cfg.Detector.Backend = envString("DETECTOR_BACKEND", cfg.Detector.Backend)
	cfg.Detector.URL = envString("EMBEDDING_URL", cfg.Detector.URL)
	cfg.Detector.ModelsDir = envString("DLIB_MODELS_DIR", cfg.Detector.ModelsDir)
	cfg.Detector.CNN = envBool("DLIB_CNN", cfg.Detector.CNN)
	cfg.Detector.Timeout = envDuration("DETECTOR_TIMEOUT", cfg.Detector.Timeout)

	cfg.Recognition.Threshold = envFloat("FACE_MATCH_THRESHOLD", cfg.Recognition.Threshold)
	cfg.Recognition.Scale = envInt("FRAME_SCALE", cfg.Recognition.Scale)
	cfg.Recognition.FrameTimeout = envDuration("FRAME_TIMEOUT", cfg.Recognition.FrameTimeout)
	cfg.Recognition.MaxFPS = envFloat("MAX_FPS", cfg.Recognition.MaxFPS)

	cfg.Announce.Speaker = envString("ANNOUNCE_SPEAKER", cfg.Announce.Speaker)
	cfg.Announce.Template = envString("ANNOUNCE_TEMPLATE", cfg.Announce.Template)
	cfg.Announce.EspeakBinary = envString("ESPEAK_BINARY", cfg.Announce.EspeakBinary)
	cfg.Announce.Voice = envString("ESPEAK_VOICE", cfg.Announce.Voice)
	cfg.Announce.Rate = envInt("ESPEAK_RATE", cfg.Announce.Rate)

	cfg.MQTT.Broker = envString("MQTT_BROKER", cfg.MQTT.Broker)
	cfg.MQTT.ClientID = envString("MQTT_CLIENT_ID", cfg.MQTT.ClientID)
	cfg.MQTT.Topic = envString("MQTT_TOPIC", cfg.MQTT.Topic)
	cfg.MQTT.QoS = envInt("MQTT_QOS", cfg.MQTT.QoS)
	cfg.MQTT.Username = envString("MQTT_USERNAME", cfg.MQTT.Username)
	cfg.MQTT.Password = envString("MQTT_PASSWORD", cfg.MQTT.Password)

	cfg.Database.Backend = envString("DATABASE_BACKEND", cfg.Database.Backend)
	cfg.Database.URL = envString("DATABASE_URL", cfg.Database.URL)
	cfg.Database.MariaDBDSN = envString("MARIADB_DSN", cfg.Database.MariaDBDSN)
	cfg.Database.MaxOpenConns = envInt("DATABASE_MAX_OPEN_CONNS", cfg.Database.MaxOpenConns)
	cfg.Database.MaxIdleConns = envInt("DATABASE_MAX_IDLE_CONNS", cfg.Database.MaxIdleConns)

	cfg.Snapshot.Backend = envString("SNAPSHOT_BACKEND", cfg.Snapshot.Backend)
	cfg.Snapshot.Path = envString("SNAPSHOT_PATH", cfg.Snapshot.Path)
	cfg.Snapshot.Format = envString("SNAPSHOT_FORMAT", cfg.Snapshot.Format)
	cfg.Snapshot.Watch = envBool("SNAPSHOT_WATCH", cfg.Snapshot.Watch)

	cfg.Training.Source = envString("TRAINING_SOURCE", cfg.Training.Source)
	cfg.Training.DatasetDir = envString("DATASET_DIR", cfg.Training.DatasetDir)
	cfg.Training.Workers = envInt("TRAINING_WORKERS", cfg.Training.Workers)
	cfg.Training.WatchDataset = envBool("WATCH_DATASET", cfg.Training.WatchDataset)

	cfg.Web.Host = envString("WEB_HOST", cfg.Web.Host)
	cfg.Web.Port = envInt("WEB_PORT", cfg.Web.Port)
	cfg.Web.AllowedOrigins = envList("WEB_ALLOWED_ORIGINS", cfg.Web.AllowedOrigins)
}

// Validate reports settings that would make the pipeline misbehave.
func (c *Config) Validate() error {
	var errs []error
	if c.Recognition.Threshold <= 0 {
		errs = append(errs, errors.New("recognition threshold must be positive"))
	}
	if c.Recognition.Scale < 1 {
		errs = append(errs, errors.New("frame scale must be at least 1"))
	}
	if c.Recognition.MaxFPS < 0 {
		errs = append(errs, errors.New("max fps must not be negative"))
	}
	if c.Training.Workers < 1 {
		errs = append(errs, errors.New("training workers must be at least 1"))
	}
	switch c.Snapshot.Format {
	case "gob", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown snapshot format %q", c.Snapshot.Format))
	}
	switch c.Database.Backend {
	case "", "mariadb", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unknown database backend %q", c.Database.Backend))
	}
	if c.Snapshot.Backend == "database" && c.Database.Backend == "" {
		errs = append(errs, errors.New("snapshot backend \"database\" requires DATABASE_BACKEND"))
	}
	if c.Training.Source == "database" && c.Database.Backend == "" {
		errs = append(errs, errors.New("training source \"database\" requires DATABASE_BACKEND"))
	}
	return errors.Join(errs...)
}

// envString returns the environment variable, or current when it is unset or empty.
func envString(key, current string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return current
}

// envList reads a comma-separated list, dropping empty items.
func envList(key string, current []string) []string {
	s := os.Getenv(key)
	if s == "" {
		return current
	}
	var out []string
	for item := range strings.SplitSeq(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// envInt reads an environment variable and parses it as a non-negative integer.
// Returns current if the env var is unset, empty, or invalid.
func envInt(key string, current int) int {
	s := os.Getenv(key)
	if s == "" {
		return current
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return n
	}
	return current
}

// envFloat reads an environment variable as a non-negative float.
func envFloat(key string, current float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return current
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return f
	}
	return current
}

// envDuration reads an environment variable as a Go duration ("5s", "250ms").
func envDuration(key string, current time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return current
	}
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return d
	}
	return current
}

// envBool accepts 1/true/yes/on and 0/false/no/off, case-insensitively.
func envBool(key string, current bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return current
	}
}
