// Package config holds the immutable simulation parameters and loads them
// from a key = value file on top of built-in defaults.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// Hard capacity limits shared by every component.
const (
	MaxGangs      = 20
	MaxMembers    = 50
	MaxRanks      = 10
	MaxInformants = 50
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the simulation parameter record. It is produced once at startup
// and treated as read-only afterwards.
type Config struct {
	// Population
	NumGangs          int `toml:"num_gangs" yaml:"num_gangs" validate:"min=1,max=20"`
	MinMembersPerGang int `toml:"min_members_per_gang" yaml:"min_members_per_gang" validate:"min=1,max=50"`
	MaxMembersPerGang int `toml:"max_members_per_gang" yaml:"max_members_per_gang" validate:"min=1,max=50,gtefield=MinMembersPerGang"`
	NumRanks          int `toml:"num_ranks" yaml:"num_ranks" validate:"min=1,max=10"`
	MaxAgentsPerGang  int `toml:"max_agents_per_gang" yaml:"max_agents_per_gang" validate:"min=0,max=50"`

	// Missions
	MissionMembersCount            int     `toml:"mission_members_count" yaml:"mission_members_count" validate:"min=1,max=50"`
	MaxConcurrentMissions          int     `toml:"max_concurrent_missions" yaml:"max_concurrent_missions" validate:"min=1,max=16"`
	PreparationTimeMin             int     `toml:"preparation_time_min" yaml:"preparation_time_min" validate:"min=0"`
	PreparationTimeMax             int     `toml:"preparation_time_max" yaml:"preparation_time_max" validate:"gtefield=PreparationTimeMin"`
	MissionSuccessRateBase         float64 `toml:"mission_success_rate_base" yaml:"mission_success_rate_base" validate:"min=0,max=1"`
	MissionKillProbability         float64 `toml:"mission_kill_probability" yaml:"mission_kill_probability" validate:"min=0,max=1"`
	BasePreparationIncrement       float64 `toml:"base_preparation_increment" yaml:"base_preparation_increment" validate:"min=0,max=1"`
	RankPreparationBonus           float64 `toml:"rank_preparation_bonus" yaml:"rank_preparation_bonus" validate:"min=0,max=1"`
	MinPreparationRequiredBase     float64 `toml:"min_preparation_required_base" yaml:"min_preparation_required_base" validate:"min=0,max=1"`
	MinPreparationDifficultyFactor float64 `toml:"min_preparation_difficulty_factor" yaml:"min_preparation_difficulty_factor" validate:"min=0"`
	TargetDifficultyBase           float64 `toml:"target_difficulty_base" yaml:"target_difficulty_base" validate:"min=0"`
	TargetDifficultyScaling        float64 `toml:"target_difficulty_scaling" yaml:"target_difficulty_scaling" validate:"min=0"`
	PreparationKnowledgeFactor     float64 `toml:"preparation_knowledge_factor" yaml:"preparation_knowledge_factor" validate:"min=0"`
	PreparationRankFactor          float64 `toml:"preparation_rank_factor" yaml:"preparation_rank_factor" validate:"min=0"`

	// Knowledge
	InfoSpreadDelay             int     `toml:"info_spread_delay" yaml:"info_spread_delay" validate:"min=0"`
	InfoSpreadBaseValue         float64 `toml:"info_spread_base_value" yaml:"info_spread_base_value" validate:"min=0,max=1"`
	InfoSpreadRankFactor        float64 `toml:"info_spread_rank_factor" yaml:"info_spread_rank_factor" validate:"min=0,max=1"`
	MemberKnowledgeTransferRate float64 `toml:"member_knowledge_transfer_rate" yaml:"member_knowledge_transfer_rate" validate:"min=0,max=1"`
	MemberKnowledgeRankFactor   float64 `toml:"member_knowledge_rank_factor" yaml:"member_knowledge_rank_factor" validate:"min=0,max=1"`
	MemberKnowledgeLuckyChance  float64 `toml:"member_knowledge_lucky_chance" yaml:"member_knowledge_lucky_chance" validate:"min=0,max=1"`

	// Promotion
	PromotionBaseChance float64 `toml:"promotion_base_chance" yaml:"promotion_base_chance" validate:"min=0,max=1"`
	PromotionRankFactor float64 `toml:"promotion_rank_factor" yaml:"promotion_rank_factor" validate:"min=0,max=1"`

	// Informants
	AgentInfiltrationRate          float64 `toml:"agent_infiltration_rate" yaml:"agent_infiltration_rate" validate:"min=0,max=1"`
	FalseInfoProbability           float64 `toml:"false_info_probability" yaml:"false_info_probability" validate:"min=0,max=1"`
	AgentSuspicionThreshold        float64 `toml:"agent_suspicion_threshold" yaml:"agent_suspicion_threshold" validate:"min=0,max=1"`
	AgentInitialKnowledgeThreshold float64 `toml:"agent_initial_knowledge_threshold" yaml:"agent_initial_knowledge_threshold" validate:"min=0,max=1"`
	AgentKnowledgeReportThreshold  float64 `toml:"agent_knowledge_report_threshold" yaml:"agent_knowledge_report_threshold" validate:"min=0,max=1"`
	AgentKnowledgeGain             float64 `toml:"agent_knowledge_gain" yaml:"agent_knowledge_gain" validate:"min=0,max=1"`
	AgentReportKnowledgeReset      float64 `toml:"agent_report_knowledge_reset" yaml:"agent_report_knowledge_reset" validate:"min=0,max=1"`
	MinAgentReportTime             int     `toml:"min_agent_report_time" yaml:"min_agent_report_time" validate:"min=0"`
	AgentBaseSuspicion             float64 `toml:"agent_base_suspicion" yaml:"agent_base_suspicion" validate:"min=0"`
	KnowledgeAnomalySuspicion      float64 `toml:"knowledge_anomaly_suspicion" yaml:"knowledge_anomaly_suspicion" validate:"min=0"`
	AgentDiscoveryThreshold        float64 `toml:"agent_discovery_threshold" yaml:"agent_discovery_threshold" validate:"min=0"`

	// Police
	PoliceConfirmationThreshold float64 `toml:"police_confirmation_threshold" yaml:"police_confirmation_threshold" validate:"min=0,max=1"`
	PrisonTime                  int     `toml:"prison_time" yaml:"prison_time" validate:"min=0"`
	MinInvestigationTime        int     `toml:"min_investigation_time" yaml:"min_investigation_time" validate:"min=0"`
	ReviewInterval              int     `toml:"review_interval" yaml:"review_interval" validate:"min=1"`
	SurveillanceGrace           int     `toml:"surveillance_grace" yaml:"surveillance_grace" validate:"min=0"`

	// Win conditions
	PoliceThwartWinCount    int `toml:"police_thwart_win_count" yaml:"police_thwart_win_count" validate:"min=1"`
	GangSuccessWinCount     int `toml:"gang_success_win_count" yaml:"gang_success_win_count" validate:"min=1"`
	AgentExecutionLossCount int `toml:"agent_execution_loss_count" yaml:"agent_execution_loss_count" validate:"min=1"`

	// Timing (milliseconds)
	GangCycleMS     int `toml:"gang_cycle_ms" yaml:"gang_cycle_ms" validate:"min=1"`
	PoliceCycleMS   int `toml:"police_cycle_ms" yaml:"police_cycle_ms" validate:"min=1"`
	MemberTickMinMS int `toml:"member_tick_min_ms" yaml:"member_tick_min_ms" validate:"min=1"`
	MemberTickMaxMS int `toml:"member_tick_max_ms" yaml:"member_tick_max_ms" validate:"gtefield=MemberTickMinMS"`
	ArrestedPollMS  int `toml:"arrested_poll_ms" yaml:"arrested_poll_ms" validate:"min=1"`
	ShutdownGraceMS int `toml:"shutdown_grace_ms" yaml:"shutdown_grace_ms" validate:"min=0"`
	StatusPollMS    int `toml:"status_poll_ms" yaml:"status_poll_ms" validate:"min=1"`

	// Seed for the random source. Zero picks a time-based seed.
	Seed int64 `toml:"seed" yaml:"seed"`
}

// Default returns the built-in parameter set.
func Default() *Config {
	return &Config{
		NumGangs:          3,
		MinMembersPerGang: 5,
		MaxMembersPerGang: 10,
		NumRanks:          5,
		MaxAgentsPerGang:  2,

		MissionMembersCount:            3,
		MaxConcurrentMissions:          3,
		PreparationTimeMin:             10,
		PreparationTimeMax:             30,
		MissionSuccessRateBase:         0.7,
		MissionKillProbability:         0.1,
		BasePreparationIncrement:       0.05,
		RankPreparationBonus:           0.1,
		MinPreparationRequiredBase:     0.6,
		MinPreparationDifficultyFactor: 0.3,
		TargetDifficultyBase:           0.5,
		TargetDifficultyScaling:        0.5,
		PreparationKnowledgeFactor:     0.5,
		PreparationRankFactor:          0.02,

		InfoSpreadDelay:             1,
		InfoSpreadBaseValue:         0.05,
		InfoSpreadRankFactor:        0.25,
		MemberKnowledgeTransferRate: 0.05,
		MemberKnowledgeRankFactor:   0.1,
		MemberKnowledgeLuckyChance:  0.2,

		PromotionBaseChance: 0.2,
		PromotionRankFactor: 0.2,

		AgentInfiltrationRate:          0.3,
		FalseInfoProbability:           0.2,
		AgentSuspicionThreshold:        0.7,
		AgentInitialKnowledgeThreshold: 0.1,
		AgentKnowledgeReportThreshold:  0.7,
		AgentKnowledgeGain:             0.03,
		AgentReportKnowledgeReset:      0.2,
		MinAgentReportTime:             3,
		AgentBaseSuspicion:             0.2,
		KnowledgeAnomalySuspicion:      0.15,
		AgentDiscoveryThreshold:        0.7,

		PoliceConfirmationThreshold: 0.6,
		PrisonTime:                  10,
		MinInvestigationTime:        5,
		ReviewInterval:              5,
		SurveillanceGrace:           300,

		PoliceThwartWinCount:    10,
		GangSuccessWinCount:     10,
		AgentExecutionLossCount: 5,

		GangCycleMS:     100,
		PoliceCycleMS:   100,
		MemberTickMinMS: 100,
		MemberTickMaxMS: 300,
		ArrestedPollMS:  500,
		ShutdownGraceMS: 500,
		StatusPollMS:    500,
	}
}

// Load reads path on top of the defaults. Keys the file does not mention keep
// their default; keys the Config does not know are ignored.
func Load(path string) (*Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	doc, err := filterLines(f, path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if _, err := toml.Decode(doc, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// knownKeys maps every toml tag on Config to the kind of its field.
var knownKeys = func() map[string]reflect.Kind {
	t := reflect.TypeOf(Config{})
	keys := make(map[string]reflect.Kind, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if tag := f.Tag.Get("toml"); tag != "" {
			keys[tag] = f.Type.Kind()
		}
	}
	return keys
}()

// filterLines reduces a key = value file to the assignments Config knows
// about. Blank lines, comments, lines without '=' and unknown keys are
// dropped whatever their value looks like. A repeated key keeps its last
// value, and fractional values for integer keys are truncated.
func filterLines(r io.Reader, path string) (string, error) {
	var (
		order []string
		vals  = make(map[string]string)
	)
	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			slog.Debug("ignoring config line without '='", "line", n, "path", path)
			continue
		}
		key, val = strings.TrimSpace(key), strings.TrimSpace(val)
		kind, known := knownKeys[key]
		if !known {
			slog.Debug("ignoring unknown config key", "key", key, "line", n, "path", path)
			continue
		}
		if kind >= reflect.Int && kind <= reflect.Int64 {
			val = truncateInt(val)
		}
		if _, seen := vals[key]; !seen {
			order = append(order, key)
		}
		vals[key] = val
	}
	if err := sc.Err(); err != nil {
		return "", err
	}

	var b strings.Builder
	for _, key := range order {
		fmt.Fprintf(&b, "%s = %s\n", key, vals[key])
	}
	return b.String(), nil
}

// truncateInt rewrites a fractional number as its integer part. Anything
// else is returned unchanged for the decoder to judge.
func truncateInt(val string) string {
	num, _, _ := strings.Cut(val, "#")
	num = strings.TrimSpace(num)
	if _, err := strconv.ParseInt(num, 10, 64); err == nil {
		return val
	}
	f, err := strconv.ParseFloat(num, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) >= math.MaxInt64 {
		return val
	}
	return strconv.FormatInt(int64(f), 10)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q (value %v)", ErrInvalid, fe.Field(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.MissionMembersCount > c.MaxMembersPerGang {
		return fmt.Errorf("%w: mission_members_count %d exceeds max_members_per_gang %d",
			ErrInvalid, c.MissionMembersCount, c.MaxMembersPerGang)
	}
	return nil
}

// RankFraction returns rank/num_ranks.
func (c *Config) RankFraction(rank int) float64 {
	return float64(rank) / float64(c.NumRanks)
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func (c *Config) GangCycle() time.Duration    { return ms(c.GangCycleMS) }
func (c *Config) PoliceCycle() time.Duration  { return ms(c.PoliceCycleMS) }
func (c *Config) ArrestedPoll() time.Duration { return ms(c.ArrestedPollMS) }
func (c *Config) ShutdownGrace() time.Duration {
	return ms(c.ShutdownGraceMS)
}
func (c *Config) StatusPoll() time.Duration { return ms(c.StatusPollMS) }

// MemberTickRange is the inclusive bounds of a member worker's sleep.
func (c *Config) MemberTickRange() (time.Duration, time.Duration) {
	return ms(c.MemberTickMinMS), ms(c.MemberTickMaxMS)
}

// MinReportDelay is the dwell an informant waits after first learning of a
// plan before reporting it.
func (c *Config) MinReportDelay() time.Duration {
	return time.Duration(c.MinAgentReportTime) * time.Second
}

// InvestigationDwell is the minimum time between a gang's first report and
// police action.
func (c *Config) InvestigationDwell() time.Duration {
	return time.Duration(c.MinInvestigationTime) * time.Second
}

func (c *Config) ReviewEvery() time.Duration {
	return time.Duration(c.ReviewInterval) * time.Second
}

func (c *Config) Grace() time.Duration {
	return time.Duration(c.SurveillanceGrace) * time.Second
}

func (c *Config) ArrestDuration() time.Duration {
	return time.Duration(c.PrisonTime) * time.Second
}
