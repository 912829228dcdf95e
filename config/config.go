package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"hydroqc/qc"
)

// Config represents the complete quality engine configuration
type Config struct {
	Server    ServerConfig            `yaml:"server"`
	Hilltop   HilltopConfig           `yaml:"hilltop"`
	CheckDB   CheckDBConfig           `yaml:"checkdb"`
	Cache     CacheConfig             `yaml:"cache"`
	Telemetry TelemetryConfig         `yaml:"telemetry"`
	Audit     AuditConfig             `yaml:"audit"`
	Export    ExportConfig            `yaml:"export"`
	Logging   LoggingConfig           `yaml:"logging"`
	Run       RunConfig               `yaml:"run"`
	Families  map[string]FamilyConfig `yaml:"families"`
	Sites     []SiteConfig            `yaml:"sites"`

	jobs      []Job
	policies  map[string]qc.Policy
	policyErr error
}

// ServerConfig contains general instance settings
type ServerConfig struct {
	Name string `yaml:"name"`
}

// HilltopConfig contains the upstream data-server settings
type HilltopConfig struct {
	BaseURL           string `yaml:"base_url"`
	RequestTimeoutSec int    `yaml:"request_timeout_seconds"`
	Retries           int    `yaml:"retries"`
	MaxResponseMB     int    `yaml:"max_response_mb"`
}

// CheckDBConfig contains the inspections database settings
type CheckDBConfig struct {
	Driver string `yaml:"driver"` // sqlite or postgres
	Path   string `yaml:"path"`   // sqlite snapshot file
	URL    string `yaml:"url"`    // postgres connection string
}

// CacheConfig contains the fetched-series cache settings
type CacheConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Dir      string `yaml:"dir"`
	TTLHours int    `yaml:"ttl_hours"`
}

// TelemetryConfig contains live logger ingest MQTT settings
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	Workers  int    `yaml:"workers"`
}

// AuditConfig contains decision journal settings
type AuditConfig struct {
	Enabled   *bool  `yaml:"enabled"`
	Dir       string `yaml:"dir"`
	QueueSize int    `yaml:"queue_size"`
}

// ExportConfig contains coded-output settings
type ExportConfig struct {
	Dir           string   `yaml:"dir"`
	Formats       []string `yaml:"formats"`
	ArchiveFile   string   `yaml:"archive_file"`
	RetentionDays int      `yaml:"retention_days"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
	Console       *bool  `yaml:"console"`
}

// RunConfig contains batch orchestration settings
type RunConfig struct {
	Workers    int `yaml:"workers"`     // 0 = one per CPU
	WindowDays int `yaml:"window_days"` // processing window ending now
}

// FamilyConfig is the YAML shape of a measurement family's tuning. Clip
// bounds are pointers so an explicit zero survives; nil leaves the bound
// open. ExpiryDays maps tier to days of validity; an empty map disables
// staleness decay, a nil one keeps the built-in schedule.
type FamilyConfig struct {
	Delta                 float64     `yaml:"delta"`
	DeltaMultiplier       float64     `yaml:"delta_multiplier"`
	CheckShift            float64     `yaml:"check_shift"`
	QC600Percent          float64     `yaml:"qc600_percent"`
	QC500Percent          float64     `yaml:"qc500_percent"`
	LimitPercentThreshold float64     `yaml:"limit_percent_threshold"`
	GapLimit              int         `yaml:"gap_limit"`
	LowClip               *float64    `yaml:"low_clip"`
	HighClip              *float64    `yaml:"high_clip"`
	SpikeSpan             int         `yaml:"spike_span"`
	SpikeDelta            float64     `yaml:"spike_delta"`
	FlatlineRun           int         `yaml:"flatline_run"`
	MaxQC                 int         `yaml:"max_qc"`
	AlignToleranceMin     int         `yaml:"align_tolerance_minutes"`
	ExpiryDays            map[int]int `yaml:"expiry_days"`
	DecayStep             int         `yaml:"decay_step"`
	Cap                   int         `yaml:"cap"`
	ValueCapThreshold     float64     `yaml:"value_cap_threshold"`
	ValueCapTier          int         `yaml:"value_cap_tier"`
}

// SiteConfig names a site and the measurements coded there. The survey
// fields carry the static points from the most recent rainfall site
// survey; they only matter for rainfall-family measurements.
type SiteConfig struct {
	Name             string              `yaml:"name"`
	SurveyPoints     int                 `yaml:"survey_points"`
	SurveyThreeCount int                 `yaml:"survey_three_count"`
	Measurements     []MeasurementConfig `yaml:"measurements"`
}

// MeasurementConfig binds a measurement to its family, with optional
// per-site tuning overrides layered on top of the family block.
type MeasurementConfig struct {
	Name           string        `yaml:"name"`
	Family         string        `yaml:"family"`
	Unit           string        `yaml:"unit"`
	CadenceMinutes int           `yaml:"cadence_minutes"`
	Overrides      *FamilyConfig `yaml:"overrides"`
	Oxygen         *OxygenConfig `yaml:"oxygen"`
}

// OxygenConfig points a dissolved-oxygen measurement at its supplemental
// series. Empty sites fall back to the measurement's own site, empty
// measurement names to the conventional ones, and a nil barometer
// altitude to the sensor altitude (no offset).
type OxygenConfig struct {
	SensorAltitude         float64  `yaml:"sensor_altitude"`
	BarometerAltitude      *float64 `yaml:"barometer_altitude"`
	PressureSite           string   `yaml:"pressure_site"`
	PressureMeasurement    string   `yaml:"pressure_measurement"`
	TemperatureSite        string   `yaml:"temperature_site"`
	TemperatureMeasurement string   `yaml:"temperature_measurement"`
}

// Job is one site/measurement pair with its compiled policy.
type Job struct {
	Site             string
	Measurement      string
	Family           string
	Unit             string
	Cadence          time.Duration
	Policy           qc.Policy
	SurveyPoints     int
	SurveyThreeCount int
	Oxygen           *OxygenJob
}

// OxygenJob is the resolved supplement wiring for a dissolved-oxygen
// job: every fallback in OxygenConfig already applied.
type OxygenJob struct {
	SensorAltitude         float64
	BarometerAltitude      float64
	PressureSite           string
	PressureMeasurement    string
	TemperatureSite        string
	TemperatureMeasurement string
}

func bound(v float64) *float64 { return &v }

// DefaultConfig returns a pinned default configuration, including the
// built-in family tunings a bare deployment starts from.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name: "hydroqc",
		},
		Hilltop: HilltopConfig{
			RequestTimeoutSec: 30,
			Retries:           2,
			MaxResponseMB:     64,
		},
		CheckDB: CheckDBConfig{
			Driver: "sqlite",
		},
		Cache: CacheConfig{
			Enabled:  true,
			Dir:      "cache",
			TTLHours: 72,
		},
		Telemetry: TelemetryConfig{
			Enabled: false,
			Port:    1883,
			Topic:   "hydro/+/+",
			Workers: 2,
		},
		Audit: AuditConfig{
			Dir:       "audit",
			QueueSize: 4096,
		},
		Export: ExportConfig{
			Dir:         "export",
			Formats:     []string{"xml", "json", "csv"},
			ArchiveFile: "coded.db",
		},
		Logging: LoggingConfig{
			Dir:           "logs",
			RetentionDays: 14,
		},
		Run: RunConfig{
			Workers:    0,
			WindowDays: 35,
		},
		Families: map[string]FamilyConfig{
			"water_temperature": {
				Delta:       0.8,
				GapLimit:    12,
				LowClip:     bound(-1),
				HighClip:    bound(40),
				SpikeSpan:   10,
				SpikeDelta:  5,
				FlatlineRun: 8,
				MaxQC:       600,
				ExpiryDays:  map[int]int{600: 60, 500: 120},
			},
			"water_level": {
				Delta:      3,
				GapLimit:   12,
				SpikeSpan:  10,
				SpikeDelta: 250,
				MaxQC:      600,
				ExpiryDays: map[int]int{600: 60, 500: 120},
			},
			"dissolved_oxygen": {
				Delta:                 5,
				QC600Percent:          5,
				QC500Percent:          10,
				LimitPercentThreshold: 50,
				GapLimit:              12,
				LowClip:               bound(0),
				SpikeSpan:             10,
				SpikeDelta:            20,
				FlatlineRun:           8,
				MaxQC:                 600,
				ExpiryDays:            map[int]int{600: 60, 500: 120},
				ValueCapThreshold:     100,
				ValueCapTier:          500,
			},
			"rainfall": {
				Delta:      2,
				GapLimit:   0,
				LowClip:    bound(0),
				MaxQC:      600,
				ExpiryDays: map[int]int{600: 90, 500: 180},
			},
		},
	}
}

// normalize fills defaults, trims strings, and compiles the per-job
// policies. Compile errors are stashed and surfaced by Validate.
func (c *Config) normalize() {
	if c == nil {
		return
	}
	def := DefaultConfig()
	if strings.TrimSpace(c.Server.Name) == "" {
		c.Server.Name = def.Server.Name
	}
	c.Hilltop.BaseURL = strings.TrimSpace(c.Hilltop.BaseURL)
	if c.Hilltop.RequestTimeoutSec <= 0 {
		c.Hilltop.RequestTimeoutSec = def.Hilltop.RequestTimeoutSec
	}
	if c.Hilltop.Retries < 0 {
		c.Hilltop.Retries = def.Hilltop.Retries
	}
	if c.Hilltop.MaxResponseMB <= 0 {
		c.Hilltop.MaxResponseMB = def.Hilltop.MaxResponseMB
	}
	c.CheckDB.Driver = strings.ToLower(strings.TrimSpace(c.CheckDB.Driver))
	if c.CheckDB.Driver == "" {
		c.CheckDB.Driver = def.CheckDB.Driver
	}
	c.CheckDB.Path = strings.TrimSpace(c.CheckDB.Path)
	c.CheckDB.URL = strings.TrimSpace(c.CheckDB.URL)
	if strings.TrimSpace(c.Cache.Dir) == "" {
		c.Cache.Dir = def.Cache.Dir
	}
	if c.Cache.TTLHours <= 0 {
		c.Cache.TTLHours = def.Cache.TTLHours
	}
	c.Telemetry.Broker = strings.TrimSpace(c.Telemetry.Broker)
	if c.Telemetry.Port <= 0 {
		c.Telemetry.Port = def.Telemetry.Port
	}
	if strings.TrimSpace(c.Telemetry.Topic) == "" {
		c.Telemetry.Topic = def.Telemetry.Topic
	}
	if strings.TrimSpace(c.Telemetry.ClientID) == "" {
		c.Telemetry.ClientID = c.Server.Name
	}
	if c.Telemetry.Workers <= 0 {
		c.Telemetry.Workers = def.Telemetry.Workers
	}
	if c.Audit.Enabled == nil {
		v := true
		c.Audit.Enabled = &v
	}
	if strings.TrimSpace(c.Audit.Dir) == "" {
		c.Audit.Dir = def.Audit.Dir
	}
	if c.Audit.QueueSize <= 0 {
		c.Audit.QueueSize = def.Audit.QueueSize
	}
	if strings.TrimSpace(c.Export.Dir) == "" {
		c.Export.Dir = def.Export.Dir
	}
	if len(c.Export.Formats) == 0 {
		c.Export.Formats = append([]string(nil), def.Export.Formats...)
	}
	for i, f := range c.Export.Formats {
		c.Export.Formats[i] = strings.ToLower(strings.TrimSpace(f))
	}
	if strings.TrimSpace(c.Export.ArchiveFile) == "" {
		c.Export.ArchiveFile = def.Export.ArchiveFile
	}
	if c.Export.RetentionDays < 0 {
		c.Export.RetentionDays = 0
	}
	if strings.TrimSpace(c.Logging.Dir) == "" {
		c.Logging.Dir = def.Logging.Dir
	}
	if c.Logging.RetentionDays <= 0 {
		c.Logging.RetentionDays = def.Logging.RetentionDays
	}
	if c.Logging.Console == nil {
		v := true
		c.Logging.Console = &v
	}
	if c.Run.Workers < 0 {
		c.Run.Workers = 0
	}
	if c.Run.WindowDays <= 0 {
		c.Run.WindowDays = def.Run.WindowDays
	}
	if c.Families == nil {
		c.Families = def.Families
	}
	c.compile()
}

// compile resolves every site measurement against its family block,
// layers overrides, and validates the resulting policies. The first
// failure is kept for Validate.
func (c *Config) compile() {
	c.jobs = c.jobs[:0]
	c.policies = make(map[string]qc.Policy)
	for _, site := range c.Sites {
		siteName := strings.TrimSpace(site.Name)
		for _, m := range site.Measurements {
			measName := strings.TrimSpace(m.Name)
			family := strings.TrimSpace(m.Family)
			fc, ok := c.Families[family]
			if !ok {
				c.setPolicyErr(fmt.Errorf("site %q measurement %q: unknown family %q", siteName, measName, family))
				continue
			}
			if m.Overrides != nil {
				fc = mergeFamily(fc, *m.Overrides)
			}
			pol := fc.Policy(family)
			if err := pol.Validate(); err != nil {
				c.setPolicyErr(fmt.Errorf("site %q measurement %q: %w", siteName, measName, err))
				continue
			}
			key := jobKey(siteName, measName)
			if _, dup := c.policies[key]; dup {
				c.setPolicyErr(fmt.Errorf("site %q measurement %q listed twice", siteName, measName))
				continue
			}
			c.policies[key] = pol
			c.jobs = append(c.jobs, Job{
				Site:             siteName,
				Measurement:      measName,
				Family:           family,
				Unit:             strings.TrimSpace(m.Unit),
				Cadence:          time.Duration(m.CadenceMinutes) * time.Minute,
				Policy:           pol,
				SurveyPoints:     site.SurveyPoints,
				SurveyThreeCount: site.SurveyThreeCount,
				Oxygen:           compileOxygen(siteName, m.Oxygen),
			})
		}
	}
}

func (c *Config) setPolicyErr(err error) {
	if c.policyErr == nil {
		c.policyErr = err
	}
}

// compileOxygen resolves the supplement fallbacks against the owning
// site.
func compileOxygen(site string, oc *OxygenConfig) *OxygenJob {
	if oc == nil {
		return nil
	}
	job := OxygenJob{
		SensorAltitude:         oc.SensorAltitude,
		BarometerAltitude:      oc.SensorAltitude,
		PressureSite:           strings.TrimSpace(oc.PressureSite),
		PressureMeasurement:    strings.TrimSpace(oc.PressureMeasurement),
		TemperatureSite:        strings.TrimSpace(oc.TemperatureSite),
		TemperatureMeasurement: strings.TrimSpace(oc.TemperatureMeasurement),
	}
	if oc.BarometerAltitude != nil {
		job.BarometerAltitude = *oc.BarometerAltitude
	}
	if job.PressureSite == "" {
		job.PressureSite = site
	}
	if job.PressureMeasurement == "" {
		job.PressureMeasurement = "Atmospheric Pressure"
	}
	if job.TemperatureSite == "" {
		job.TemperatureSite = site
	}
	if job.TemperatureMeasurement == "" {
		job.TemperatureMeasurement = "Water Temperature"
	}
	return &job
}

func jobKey(site, measurement string) string {
	return site + "\x00" + measurement
}

// mergeFamily layers a per-site override block over a family block.
// Numeric fields override when set above zero, pointers and maps when
// non-nil; CheckShift and ValueCapThreshold override on any non-zero
// value since zero is their disabled state anyway.
func mergeFamily(base, over FamilyConfig) FamilyConfig {
	out := base
	if over.Delta > 0 {
		out.Delta = over.Delta
	}
	if over.DeltaMultiplier > 0 {
		out.DeltaMultiplier = over.DeltaMultiplier
	}
	if over.CheckShift != 0 {
		out.CheckShift = over.CheckShift
	}
	if over.QC600Percent > 0 {
		out.QC600Percent = over.QC600Percent
	}
	if over.QC500Percent > 0 {
		out.QC500Percent = over.QC500Percent
	}
	if over.LimitPercentThreshold > 0 {
		out.LimitPercentThreshold = over.LimitPercentThreshold
	}
	if over.GapLimit > 0 {
		out.GapLimit = over.GapLimit
	}
	if over.LowClip != nil {
		out.LowClip = over.LowClip
	}
	if over.HighClip != nil {
		out.HighClip = over.HighClip
	}
	if over.SpikeSpan > 0 {
		out.SpikeSpan = over.SpikeSpan
	}
	if over.SpikeDelta > 0 {
		out.SpikeDelta = over.SpikeDelta
	}
	if over.FlatlineRun > 0 {
		out.FlatlineRun = over.FlatlineRun
	}
	if over.MaxQC > 0 {
		out.MaxQC = over.MaxQC
	}
	if over.AlignToleranceMin > 0 {
		out.AlignToleranceMin = over.AlignToleranceMin
	}
	if over.ExpiryDays != nil {
		out.ExpiryDays = over.ExpiryDays
	}
	if over.DecayStep > 0 {
		out.DecayStep = over.DecayStep
	}
	if over.Cap > 0 {
		out.Cap = over.Cap
	}
	if over.ValueCapThreshold != 0 {
		out.ValueCapThreshold = over.ValueCapThreshold
	}
	if over.ValueCapTier > 0 {
		out.ValueCapTier = over.ValueCapTier
	}
	return out
}

// Policy compiles the family block into engine tuning. Unset fields keep
// the engine defaults; nil clip pointers leave the bound open.
func (f FamilyConfig) Policy(family string) qc.Policy {
	p := qc.DefaultPolicy()
	p.Family = family
	if f.Delta > 0 {
		p.Delta = f.Delta
	}
	if f.DeltaMultiplier > 0 {
		p.DeltaMultiplier = f.DeltaMultiplier
	}
	p.CheckShift = f.CheckShift
	p.QC600Percent = f.QC600Percent
	p.QC500Percent = f.QC500Percent
	p.LimitPercentThreshold = f.LimitPercentThreshold
	p.GapLimit = f.GapLimit
	if f.LowClip != nil {
		p.LowClip = *f.LowClip
	}
	if f.HighClip != nil {
		p.HighClip = *f.HighClip
	}
	if f.SpikeSpan > 0 {
		p.SpikeSpan = f.SpikeSpan
	}
	p.SpikeDelta = f.SpikeDelta
	p.FlatlineRun = f.FlatlineRun
	if f.MaxQC > 0 {
		p.MaxQC = qc.Tier(f.MaxQC)
	}
	if f.AlignToleranceMin > 0 {
		p.AlignTolerance = time.Duration(f.AlignToleranceMin) * time.Minute
	}
	if f.ExpiryDays != nil {
		exp := make(map[qc.Tier]time.Duration, len(f.ExpiryDays))
		for tier, days := range f.ExpiryDays {
			exp[qc.Tier(tier)] = time.Duration(days) * 24 * time.Hour
		}
		p.Expiry = exp
	}
	if f.DecayStep > 0 {
		p.DecayStep = f.DecayStep
	}
	if f.Cap > 0 {
		p.Cap = qc.Tier(f.Cap)
	}
	if f.ValueCapThreshold != 0 {
		p.ValueCapThreshold = f.ValueCapThreshold
	}
	if f.ValueCapTier > 0 {
		p.ValueCapTier = qc.Tier(f.ValueCapTier)
	}
	return p
}

// LoadFile loads YAML config and applies defaults. An empty path yields
// the defaults.
func LoadFile(path string) (Config, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) == "" {
		cfg.normalize()
		return cfg, nil
	}
	bs, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(bs, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

// Validate performs sanity checks on the configuration.
func (c Config) Validate() error {
	if c.policyErr != nil {
		return c.policyErr
	}
	if len(c.Sites) > 0 && c.Hilltop.BaseURL == "" {
		return fmt.Errorf("hilltop.base_url must be set when sites are configured")
	}
	switch c.CheckDB.Driver {
	case "sqlite":
	case "postgres":
		if c.CheckDB.URL == "" {
			return fmt.Errorf("checkdb.url must be set for the postgres driver")
		}
	default:
		return fmt.Errorf("checkdb.driver must be sqlite or postgres, got %q", c.CheckDB.Driver)
	}
	for _, f := range c.Export.Formats {
		switch f {
		case "xml", "json", "csv":
		default:
			return fmt.Errorf("export.formats: unknown format %q", f)
		}
	}
	if c.Telemetry.Enabled && c.Telemetry.Broker == "" {
		return fmt.Errorf("telemetry.broker must be set when telemetry is enabled")
	}
	for i, site := range c.Sites {
		if strings.TrimSpace(site.Name) == "" {
			return fmt.Errorf("sites[%d] name cannot be empty", i)
		}
		if len(site.Measurements) == 0 {
			return fmt.Errorf("sites[%d] %q lists no measurements", i, site.Name)
		}
		for j, m := range site.Measurements {
			if strings.TrimSpace(m.Name) == "" {
				return fmt.Errorf("sites[%d] %q measurements[%d] name cannot be empty", i, site.Name, j)
			}
			if m.CadenceMinutes <= 0 {
				return fmt.Errorf("site %q measurement %q cadence_minutes must be > 0", site.Name, m.Name)
			}
		}
	}
	return nil
}

// Jobs returns every configured site/measurement pair with its compiled
// policy, in configuration order.
func (c *Config) Jobs() []Job {
	return c.jobs
}

// PolicyFor looks up the compiled policy for one site/measurement pair.
func (c *Config) PolicyFor(site, measurement string) (qc.Policy, bool) {
	p, ok := c.policies[jobKey(site, measurement)]
	return p, ok
}

// Print displays the configuration
func (c *Config) Print() {
	fmt.Printf("Instance: %s\n", c.Server.Name)
	if c.Hilltop.BaseURL != "" {
		fmt.Printf("Data server: %s (timeout %ds, %d retries)\n",
			c.Hilltop.BaseURL, c.Hilltop.RequestTimeoutSec, c.Hilltop.Retries)
	}
	switch c.CheckDB.Driver {
	case "postgres":
		fmt.Printf("Check DB: postgres\n")
	default:
		if c.CheckDB.Path != "" {
			fmt.Printf("Check DB: sqlite %s\n", c.CheckDB.Path)
		}
	}
	if c.Telemetry.Enabled {
		fmt.Printf("Telemetry: %s:%d (topic: %s)\n", c.Telemetry.Broker, c.Telemetry.Port, c.Telemetry.Topic)
	}
	workerDesc := "auto"
	if c.Run.Workers > 0 {
		workerDesc = fmt.Sprintf("%d", c.Run.Workers)
	}
	fmt.Printf("Run: %d jobs over %d sites (workers=%s, window %dd)\n",
		len(c.jobs), len(c.Sites), workerDesc, c.Run.WindowDays)
	families := make([]string, 0, len(c.Families))
	for name := range c.Families {
		families = append(families, name)
	}
	sort.Strings(families)
	fmt.Printf("Families: %s\n", strings.Join(families, ", "))
}
