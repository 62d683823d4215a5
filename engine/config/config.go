package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"sync/atomic"

	"github.com/BurntSushi/toml"
)

var (
	supportedProtocols = []string{"batch", "keyed"} // golang doesn't have constant arrays :/
)

type ConfigSettings struct {
	// General engine settings
	RequiredSettings RequiredConfig `toml:"RequiredSettings,omitempty" json:"RequiredSettings,omitempty"`

	// Checker endpoint settings
	CheckerSettings CheckerConfig `toml:"CheckerSettings,omitempty" json:"CheckerSettings,omitempty"`

	// Scheduler settings
	SubmitSettings SubmitConfig `toml:"SubmitSettings,omitempty" json:"SubmitSettings,omitempty"`

	// Control-plane auth settings
	AuthSettings AuthConfig `toml:"AuthSettings,omitempty" json:"AuthSettings,omitempty"`

	MiscSettings MiscConfig `toml:"MiscSettings,omitempty" json:"MiscSettings,omitempty"`

	Team []Team
}

type RequiredConfig struct {
	EventName    string
	DBConnectURL string
	BindAddress  string
}

type CheckerConfig struct {
	CheckerURL      string
	CheckerProtocol string
	CheckerToken    string
}

type SubmitConfig struct {
	// FlagFormat is the validation pattern flag codes must match
	FlagFormat string

	BatchLimit   int
	SubmitPeriod int
	FlagLifetime int
	AttemptCap   int

	// MaxConcurrent bounds parallel checker dispatches within one cycle
	MaxConcurrent int

	// CheckerTimeout is the per-request timeout toward the checker, seconds
	CheckerTimeout int
}

type AuthConfig struct {
	AuthEnabled bool
	Password    string `toml:"Password,omitempty" json:"-"`
	APIToken    string
}

type MiscConfig struct {
	StartPaused bool

	// RedisAddr enables queue-based dispatch through external runners when set
	RedisAddr     string
	RedisPassword string `toml:"RedisPassword,omitempty" json:"-"`
}

type Team struct {
	Name    string
	Address string
}

// Manager owns the live configuration. Replacement is atomic so a scheduler
// cycle never observes a half-updated config.
type Manager struct {
	current atomic.Pointer[ConfigSettings]
	path    string
}

// NewManager loads the configuration from path. Load failure at startup is
// fatal to the caller.
func NewManager(path string) (*Manager, error) {
	m := &Manager{path: path}
	if err := m.SetConfig(path); err != nil {
		return nil, err
	}
	return m, nil
}

// Get returns the current config snapshot. The returned value must be treated
// as read-only.
func (m *Manager) Get() *ConfigSettings {
	return m.current.Load()
}

// SetConfig reads and validates a config file, then swaps it in.
func (m *Manager) SetConfig(path string) error {
	tempConf := ConfigSettings{}
	fileContent, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("configuration file (%s) not found: %w", path, err)
	}

	if md, err := toml.Decode(string(fileContent), &tempConf); err != nil {
		return err
	} else {
		for _, undecoded := range md.Undecoded() {
			slog.Warn("undecoded configuration key \"" + undecoded.String() + "\" will not be used.")
		}
	}

	return m.Replace(&tempConf)
}

// Replace validates conf and makes it the live configuration.
func (m *Manager) Replace(conf *ConfigSettings) error {
	if err := checkConfig(conf); err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}
	m.current.Store(conf)
	return nil
}

// general error checking
func checkConfig(conf *ConfigSettings) error {
	var errResult error

	// required settings

	if conf.RequiredSettings.EventName == "" {
		errResult = errors.Join(errResult, errors.New("event title blank or not specified"))
	}

	if conf.RequiredSettings.DBConnectURL == "" {
		errResult = errors.Join(errResult, errors.New("no db connect url specified"))
	}

	if conf.RequiredSettings.BindAddress == "" {
		errResult = errors.Join(errResult, errors.New("no bind address specified"))
	}

	if conf.CheckerSettings.CheckerURL == "" {
		errResult = errors.Join(errResult, errors.New("no checker url specified"))
	}

	if conf.CheckerSettings.CheckerProtocol == "" {
		conf.CheckerSettings.CheckerProtocol = "batch"
	}
	if !slices.Contains(supportedProtocols, conf.CheckerSettings.CheckerProtocol) {
		errResult = errors.Join(errResult, errors.New("not a valid checker protocol: "+conf.CheckerSettings.CheckerProtocol))
	}

	if conf.CheckerSettings.CheckerToken == "" {
		errResult = errors.Join(errResult, errors.New("no checker team token specified"))
	}

	if conf.AuthSettings.AuthEnabled && conf.AuthSettings.Password == "" {
		errResult = errors.Join(errResult, errors.New("auth enabled but no api password set"))
	}

	// optional settings

	if conf.SubmitSettings.FlagFormat == "" {
		conf.SubmitSettings.FlagFormat = `[A-Z0-9]{31}=`
	}
	if _, err := regexp.Compile(conf.SubmitSettings.FlagFormat); err != nil {
		errResult = errors.Join(errResult, fmt.Errorf("flag format does not compile: %w", err))
	}

	if conf.SubmitSettings.BatchLimit == 0 {
		conf.SubmitSettings.BatchLimit = 50
	}
	if conf.SubmitSettings.BatchLimit < 0 {
		errResult = errors.Join(errResult, errors.New("batch limit must be positive"))
	}

	if conf.SubmitSettings.SubmitPeriod == 0 {
		conf.SubmitSettings.SubmitPeriod = 5
	}
	if conf.SubmitSettings.SubmitPeriod < 0 {
		errResult = errors.Join(errResult, errors.New("submit period must be positive"))
	}

	if conf.SubmitSettings.FlagLifetime == 0 {
		conf.SubmitSettings.FlagLifetime = 300
	}
	if conf.SubmitSettings.FlagLifetime < 0 {
		errResult = errors.Join(errResult, errors.New("flag lifetime must be positive"))
	}
	if conf.SubmitSettings.FlagLifetime <= conf.SubmitSettings.SubmitPeriod {
		errResult = errors.Join(errResult, errors.New("flag lifetime must be larger than submit period"))
	}

	if conf.SubmitSettings.AttemptCap == 0 {
		conf.SubmitSettings.AttemptCap = 5
	}
	if conf.SubmitSettings.AttemptCap < 0 {
		errResult = errors.Join(errResult, errors.New("attempt cap must be positive"))
	}

	if conf.SubmitSettings.MaxConcurrent == 0 {
		conf.SubmitSettings.MaxConcurrent = 4
	}
	if conf.SubmitSettings.MaxConcurrent < 0 {
		errResult = errors.Join(errResult, errors.New("max concurrent dispatches must be positive"))
	}

	if conf.SubmitSettings.CheckerTimeout == 0 {
		conf.SubmitSettings.CheckerTimeout = conf.SubmitSettings.SubmitPeriod * 2
	}
	if conf.SubmitSettings.CheckerTimeout < 0 {
		errResult = errors.Join(errResult, errors.New("checker timeout must be positive"))
	}
	if conf.SubmitSettings.CheckerTimeout >= conf.SubmitSettings.FlagLifetime {
		errResult = errors.Join(errResult, errors.New("checker timeout must be smaller than flag lifetime"))
	}

	// team roster defines the valid team id space

	dupeTeamMap := make(map[string]bool)
	for i, team := range conf.Team {
		if team.Name == "" {
			errResult = errors.Join(errResult, fmt.Errorf("no name found for team %d", i))
		}
		if team.Address == "" {
			errResult = errors.Join(errResult, errors.New("no address found for team "+team.Name))
		}
		if _, ok := dupeTeamMap[team.Name]; ok {
			errResult = errors.Join(errResult, errors.New("duplicate team name found: "+team.Name))
		}
		dupeTeamMap[team.Name] = true
	}

	// errResult is nil by default if no errors occured
	return errResult
}
