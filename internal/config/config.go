package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"taskmarket/internal/domain"
)

// Config models taskmarket.yml.
type Config struct {
	Market   MarketConfig   `yaml:"market"`
	Election ElectionConfig `yaml:"election"`
	Server   ServerConfig   `yaml:"server"`
	Webhooks WebhookConfig  `yaml:"webhooks"`
	Kafka    KafkaConfig    `yaml:"kafka"`
}

// MarketConfig seeds market parameters at bootstrap. Amounts are token decimals
// ("0.001"), durations are seconds.
type MarketConfig struct {
	Owner                              string `yaml:"owner"`
	EngineAddress                      string `yaml:"engine_address"`
	Treasury                           string `yaml:"treasury"`
	SolutionStakeAmount                string `yaml:"solution_stake_amount"`
	MasterContesterVoteAdder           int64  `yaml:"master_contester_vote_adder"`
	MinClaimSolutionTime               int64  `yaml:"min_claim_solution_time"`
	MinContestationVotePeriodTime      int64  `yaml:"min_contestation_vote_period_time"`
	ContestationVoteExtensionTime      int64  `yaml:"contestation_vote_extension_time"`
	MaxContestationValidatorStakeSince int64  `yaml:"max_contestation_validator_stake_since"`
	ExitValidatorMinUnlockTime         int64  `yaml:"exit_validator_min_unlock_time"`
	SolutionRateLimit                  int64  `yaml:"solution_rate_limit"`
	SolutionFeePercentage              string `yaml:"solution_fee_percentage"`
	SolutionModelFeePercentage         string `yaml:"solution_model_fee_percentage"`
	TreasuryRewardPercentage           string `yaml:"treasury_reward_percentage"`
	TaskOwnerRewardPercentage          string `yaml:"task_owner_reward_percentage"`
	ValidatorMinimumPercentage         string `yaml:"validator_minimum_percentage"`
	SlashAmountPercentage              string `yaml:"slash_amount_percentage"`
	SlashingThreshold                  string `yaml:"slashing_threshold"`
	MaxSupply                          string `yaml:"max_supply"`
}

type ElectionConfig struct {
	EpochDuration string `yaml:"epoch_duration"`
	Count         int    `yaml:"count"`
	MaxCount      int    `yaml:"max_count"`
}

type ServerConfig struct {
	Addr                   string  `yaml:"addr"`
	BasePath               string  `yaml:"base_path"`
	AllowLegacyActorHeader bool    `yaml:"allow_legacy_actor_header"`
	RateLimit              float64 `yaml:"rate_limit"`
	RateBurst              int     `yaml:"rate_burst"`
}

type WebhookConfig struct {
	PollInterval string    `yaml:"poll_interval"`
	Hooks        []Webhook `yaml:"hooks"`
}

type Webhook struct {
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"`
	Events []string `yaml:"events"`
}

type KafkaConfig struct {
	Brokers      []string `yaml:"brokers"`
	Topic        string   `yaml:"topic"`
	PollInterval string   `yaml:"poll_interval"`
	BatchSize    int      `yaml:"batch_size"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with tm init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional falls back to Default when the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	m := c.Market
	for name, addr := range map[string]string{
		"market.owner":          m.Owner,
		"market.engine_address": m.EngineAddress,
		"market.treasury":       m.Treasury,
	} {
		if addr == "" {
			return fmt.Errorf("config.%s is required", name)
		}
		if _, err := domain.NormalizeAddress(addr); err != nil {
			return fmt.Errorf("config.%s: %w", name, err)
		}
	}
	if strings.EqualFold(m.EngineAddress, m.Treasury) {
		return fmt.Errorf("config.market.treasury must differ from engine_address")
	}
	if _, err := c.Params(); err != nil {
		return err
	}
	if _, err := c.EpochDuration(); err != nil {
		return err
	}
	if c.Election.MaxCount <= 0 {
		return fmt.Errorf("config.election.max_count must be positive")
	}
	if c.Election.Count < 0 || c.Election.Count > c.Election.MaxCount {
		return fmt.Errorf("config.election.count must be within [0,%d]", c.Election.MaxCount)
	}
	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		return fmt.Errorf("config.server rate limits must be non-negative")
	}
	for i, h := range c.Webhooks.Hooks {
		if h.URL == "" {
			return fmt.Errorf("config.webhooks.hooks[%d].url is required", i)
		}
	}
	if _, err := parseInterval("webhooks.poll_interval", c.Webhooks.PollInterval); err != nil {
		return err
	}
	if _, err := parseInterval("kafka.poll_interval", c.Kafka.PollInterval); err != nil {
		return err
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("config.kafka.topic is required when brokers are set")
	}
	return nil
}

// Params converts the market section to stored parameter values.
func (c *Config) Params() (domain.Params, error) {
	m := c.Market
	amounts := map[string]string{
		domain.ParamSolutionStakeAmount: m.SolutionStakeAmount,
		domain.ParamSlashingThreshold:   m.SlashingThreshold,
		domain.ParamMaxSupply:           m.MaxSupply,
	}
	values := map[string]string{
		domain.ParamMasterContesterVoteAdder:           fmt.Sprint(m.MasterContesterVoteAdder),
		domain.ParamMinClaimSolutionTime:               fmt.Sprint(m.MinClaimSolutionTime),
		domain.ParamMinContestationVotePeriodTime:      fmt.Sprint(m.MinContestationVotePeriodTime),
		domain.ParamContestationVoteExtensionTime:      fmt.Sprint(m.ContestationVoteExtensionTime),
		domain.ParamMaxContestationValidatorStakeSince: fmt.Sprint(m.MaxContestationValidatorStakeSince),
		domain.ParamExitValidatorMinUnlockTime:         fmt.Sprint(m.ExitValidatorMinUnlockTime),
		domain.ParamSolutionRateLimit:                  fmt.Sprint(m.SolutionRateLimit),
		domain.ParamSolutionFeePercentage:              m.SolutionFeePercentage,
		domain.ParamSolutionModelFeePercentage:         m.SolutionModelFeePercentage,
		domain.ParamTreasuryRewardPercentage:           m.TreasuryRewardPercentage,
		domain.ParamTaskOwnerRewardPercentage:          m.TaskOwnerRewardPercentage,
		domain.ParamValidatorMinimumPercentage:         m.ValidatorMinimumPercentage,
		domain.ParamSlashAmountPercentage:              m.SlashAmountPercentage,
		domain.ParamTreasury:                           m.Treasury,
		domain.ParamPaused:                             "false",
	}
	for key, raw := range amounts {
		v, err := domain.ParseAmount(raw)
		if err != nil {
			return domain.Params{}, fmt.Errorf("config.market.%s: %w", key, err)
		}
		values[key] = v.String()
	}
	p, err := domain.ParamsFromMap(values)
	if err != nil {
		return domain.Params{}, fmt.Errorf("config.market: %w", err)
	}
	if p.SlashingThreshold.GT(p.MaxSupply) {
		return domain.Params{}, fmt.Errorf("config.market.slashing_threshold exceeds max_supply")
	}
	return p, nil
}

// EpochDuration parses election.epoch_duration ("168h").
func (c *Config) EpochDuration() (time.Duration, error) {
	d, err := time.ParseDuration(c.Election.EpochDuration)
	if err != nil {
		return 0, fmt.Errorf("config.election.epoch_duration: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config.election.epoch_duration must be positive")
	}
	return d, nil
}

// WebhookPollInterval defaults to two seconds.
func (c *Config) WebhookPollInterval() time.Duration {
	d, _ := parseInterval("webhooks.poll_interval", c.Webhooks.PollInterval)
	if d == 0 {
		return 2 * time.Second
	}
	return d
}

// KafkaPollInterval defaults to one second.
func (c *Config) KafkaPollInterval() time.Duration {
	d, _ := parseInterval("kafka.poll_interval", c.Kafka.PollInterval)
	if d == 0 {
		return time.Second
	}
	return d
}

func parseInterval(name, v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("config.%s: invalid duration %q", name, v)
	}
	return d, nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskmarket.yml")
}

// GenerateDefault returns default config YAML with the given owner.
func GenerateDefault(owner string) string {
	if owner == "" {
		owner = DefaultOwner
	}
	return fmt.Sprintf(defaultTemplate, owner)
}

// DefaultOwner is the placeholder owner written by GenerateDefault.
const DefaultOwner = "0x00000000000000000000000000000000000000A1"

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(""))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `market:
  owner: "%s"
  engine_address: "0x000000000000000000000000000000000000E1E1"
  treasury: "0x0000000000000000000000000000000000007EA5"
  solution_stake_amount: "0.001"
  master_contester_vote_adder: 10
  min_claim_solution_time: 3600
  min_contestation_vote_period_time: 360
  contestation_vote_extension_time: 10
  max_contestation_validator_stake_since: 120
  exit_validator_min_unlock_time: 259200
  solution_rate_limit: 1
  solution_fee_percentage: "0.1"
  solution_model_fee_percentage: "0.1"
  treasury_reward_percentage: "0.1"
  task_owner_reward_percentage: "0.1"
  validator_minimum_percentage: "0.0008"
  slash_amount_percentage: "0.0001"
  slashing_threshold: "2000"
  max_supply: "600000"

election:
  epoch_duration: 168h
  count: 3
  max_count: 100

server:
  addr: "127.0.0.1:8080"
  base_path: /v0
  allow_legacy_actor_header: false
  rate_limit: 20
  rate_burst: 40

webhooks:
  poll_interval: 2s
  hooks: []

kafka:
  brokers: []
  topic: taskmarket.events
  poll_interval: 1s
  batch_size: 100
`
