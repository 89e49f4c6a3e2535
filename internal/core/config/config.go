package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/wms-lod-stream/internal/core/model"
)

type InvalidationCfg struct {
	Enabled bool
	Driver  string
	Topic   string
	Brokers string
	GroupID string
}

type WMSCfg struct {
	ServerURL string
	Version   string
	Layers    []string
	BBox      model.BBox
	Format    string
	TileSize  int
}

type BingCfg struct {
	URLTemplate string
	RootQuadKey string
	Subdomains  []string
}

type LODCfg struct {
	MaxDepth         int
	Threshold        float64
	VertexResolution int
	MapSize          float64
	TickInterval     time.Duration
}

type Config struct {
	Addr       string
	LogLevel   string
	LogConsole bool
	LogSampleN int
	Mode       string
	Provider   string

	WMS  WMSCfg
	Bing BingCfg
	LOD  LODCfg

	FetchRegistrySize int
	FetchTimeout      time.Duration

	RedisAddr        string
	TileCacheEnabled bool
	TileCacheTTL     time.Duration
	BookmarksDriver  string

	Invalidation InvalidationCfg
}

func FromEnv() Config {
	return Config{
		Addr:       getenv("ADDR", ":8090"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		LogConsole: getbool("LOG_CONSOLE", false),
		LogSampleN: getint("LOG_SAMPLE_N", 0),
		Mode:       getenv("SIM_MODE", "running"),
		Provider:   strings.ToLower(getenv("PROVIDER", "wms")),

		WMS: WMSCfg{
			ServerURL: getenv("WMS_SERVER_URL", "http://localhost:8080/geoserver/wms"),
			Version:   getenv("WMS_VERSION", "1.1.0"),
			Layers:    splitList(getenv("WMS_LAYERS", "")),
			BBox:      getbbox("WMS_BBOX", getenv("WMS_SRS", "EPSG:3006"), model.NewBBox(266000, 6132000, 922000, 7690000, "")),
			Format:    getenv("WMS_FORMAT", "image/jpeg"),
			TileSize:  getint("WMS_TILE_SIZE", 256),
		},
		Bing: BingCfg{
			URLTemplate: getenv("BING_URL_TEMPLATE", "http://ecn.t{subdomain}.tiles.virtualearth.net/tiles/a{quadkey}.jpeg?g=1"),
			RootQuadKey: os.Getenv("BING_ROOT_QUADKEY"),
			Subdomains:  splitList(getenv("BING_SUBDOMAINS", "0,1,2,3")),
		},
		LOD: LODCfg{
			MaxDepth:         getint("LOD_MAX_DEPTH", 7),
			Threshold:        getfloat("LOD_THRESHOLD", 2.5),
			VertexResolution: getint("LOD_VERTEX_RESOLUTION", 16),
			MapSize:          getfloat("LOD_MAP_SIZE", 1000),
			TickInterval:     getduration("TICK_INTERVAL", 50*time.Millisecond),
		},

		FetchRegistrySize: getint("FETCH_REGISTRY_SIZE", 4096),
		FetchTimeout:      getduration("FETCH_TIMEOUT", 30*time.Second),

		RedisAddr:        getenv("REDIS_ADDR", "localhost:6379"),
		TileCacheEnabled: getbool("TILE_CACHE_ENABLED", false),
		TileCacheTTL:     getduration("TILE_CACHE_TTL", 24*time.Hour),
		BookmarksDriver:  strings.ToLower(getenv("BOOKMARKS_DRIVER", "memory")),

		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Driver:  getenv("INVALIDATION_DRIVER", "none"),
			Topic:   getenv("KAFKA_TOPIC", "tile-invalidation"),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			GroupID: getenv("KAFKA_GROUP_ID", "lodstream"),
		},
	}
}

// Validate reports settings the process cannot start with.
func (c Config) Validate() error {
	switch c.Provider {
	case "wms":
		if strings.TrimSpace(c.WMS.ServerURL) == "" {
			return fmt.Errorf("WMS_SERVER_URL is required for the wms provider")
		}
	case "bing":
		// BING_ROOT_QUADKEY has no default: an empty key would request the
		// whole world at every depth
		if c.Bing.RootQuadKey == "" {
			return fmt.Errorf("BING_ROOT_QUADKEY is required for the bing provider")
		}
	default:
		return fmt.Errorf("unknown PROVIDER %q (want wms or bing)", c.Provider)
	}
	if !c.WMS.BBox.Valid() {
		return fmt.Errorf("WMS_BBOX %s is empty or inverted", c.WMS.BBox)
	}
	if c.LOD.VertexResolution < 2 {
		return fmt.Errorf("LOD_VERTEX_RESOLUTION must be at least 2, got %d", c.LOD.VertexResolution)
	}
	switch c.BookmarksDriver {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown BOOKMARKS_DRIVER %q", c.BookmarksDriver)
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// getbbox parses "minx,miny,maxx,maxy".
func getbbox(k, srs string, def model.BBox) model.BBox {
	def.SRS = srs
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	bb, err := ParseBBox(v, srs)
	if err != nil {
		return def
	}
	return bb
}

// ParseBBox parses "minx,miny,maxx,maxy".
func ParseBBox(s, srs string) (model.BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return model.BBox{}, fmt.Errorf("bbox %q: want 4 comma separated numbers", s)
	}
	var f [4]float64
	for i, p := range parts {
		n, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return model.BBox{}, fmt.Errorf("bbox %q: %w", s, err)
		}
		f[i] = n
	}
	return model.NewBBox(f[0], f[1], f[2], f[3], srs), nil
}

func splitList(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
