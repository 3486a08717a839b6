package commands

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"reservoir-data/lib/configutil"
	"reservoir-data/lib/httpclient"
	"reservoir-data/lib/opendata"
	"reservoir-data/lib/restyutil"
	"reservoir-data/lib/scrapers/reservoir"
)

type Config struct {
	BaseUrl           string   `json:"base_url"`
	Datasets          []string `json:"datasets"`
	AggregateDatasets []string `json:"aggregate_datasets"`
	PageSize          int      `json:"page_size"`
	// raw csv goes to <data_dir>/raw, documents to <data_dir>/docs/json
	DataDir       string `json:"data_dir"`
	ShapsDir      string `json:"shaps_dir"`
	ReservoirUrl  string `json:"reservoir_url"`
	DamField      string `json:"dam_field"`
	ScriptManager string `json:"script_manager"`
	UpdatePanel   string `json:"update_panel"`
	OptionDelayMs int    `json:"option_delay_ms"`
	// per request
	TimeoutSeconds int  `json:"timeout_seconds"`
	VerifyTLS      bool `json:"verify_tls"`
	// dumps every http exchange into this directory when set
	HttpDumpDir string `json:"http_dump_dir"`
	Debug       bool   `json:"debug"`
}

func DefaultConfig() Config {
	return Config{
		BaseUrl:           opendata.DefaultBaseUrl,
		Datasets:          []string{"111184", "6345"},
		AggregateDatasets: []string{"6345"},
		PageSize:          opendata.DefaultPageSize,
		DataDir:           "data",
		ShapsDir:          "shaps",
		ReservoirUrl:      reservoir.DefaultPageUrl,
		DamField:          reservoir.DefaultDamField,
		ScriptManager:     reservoir.DefaultScriptManager,
		UpdatePanel:       reservoir.DefaultUpdatePanel,
		OptionDelayMs:     int(reservoir.DefaultDelay / time.Millisecond),
		TimeoutSeconds:    int(httpclient.DefaultTimeout / time.Second),
	}
}

func (c Config) RawDir() string {
	return filepath.Join(c.DataDir, "raw")
}

func (c Config) DocsDir() string {
	return filepath.Join(c.DataDir, "docs", "json")
}

func (c Config) httpClient() (*httpclient.Client, error) {
	opts := httpclient.Options{
		Timeout:   time.Duration(c.TimeoutSeconds) * time.Second,
		VerifyTLS: c.VerifyTLS,
	}
	if c.HttpDumpDir != "" {
		output, err := restyutil.NewFilesystemOutput(c.HttpDumpDir)
		if err != nil {
			return nil, err
		}
		opts.Output = output
	}
	return httpclient.New(opts)
}

func (c Config) scraperOptions() reservoir.Options {
	return reservoir.Options{
		PageUrl:       c.ReservoirUrl,
		DamField:      c.DamField,
		ScriptManager: c.ScriptManager,
		UpdatePanel:   c.UpdatePanel,
		Delay:         time.Duration(c.OptionDelayMs) * time.Millisecond,
	}
}

// loadConfig reads config.json5 from the working directory on top of the
// defaults, without a file the defaults are used as is.
func loadConfig(name string) (Config, error) {
	cfg, err := configutil.ReadConfig(name, DefaultConfig())
	if errors.Is(err, os.ErrNotExist) {
		slog.Debug("no config found, using defaults", "name", name)
		return cfg, nil
	}
	return cfg, err
}
