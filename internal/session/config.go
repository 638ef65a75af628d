package session

import (
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dreamware/saferoute/internal/cmdpipeline"
	"github.com/dreamware/saferoute/internal/peerpool"
	"github.com/dreamware/saferoute/internal/querypipeline"
)

// Config holds every timeout, quorum, retry count, and path a Session
// needs (spec.md §4.8 "config: timeouts, quorums, retry counts, paths").
// It is immutable once a Session is built.
type Config struct {
	// NetworkContactsPath, if non-empty, is where the Section Tree is
	// loaded from at Build time and persisted to on an interval and at
	// Shutdown (spec.md §6 "Files").
	NetworkContactsPath string
	PersistenceInterval time.Duration

	// BootstrapContactsPath names a small file of elder addresses used
	// only to send the first GetSectionInfo probe when the tree holds
	// nothing but the genesis key (spec.md §4.8 "Bootstrap").
	BootstrapContactsPath string

	CmdTimeout   time.Duration // per_attempt_timeout for Cmds
	QueryTimeout time.Duration // total deadline including query retries

	// QueryPerAttemptTimeout bounds how long the Query Pipeline and the
	// bootstrap probe wait on a single elder round trip.
	QueryPerAttemptTimeout time.Duration

	// AdultResponseTimeout is a hint for the elders' own elder-to-adult
	// wait. No WireMsg field carries it, so it is not sent to elders, and
	// the client does not use it to bound any local timeout (spec.md §6: "the client surfaces this value only as a
	// hint to nodes — it is not consumed locally").
	AdultResponseTimeout time.Duration

	AckQuorum     cmdpipeline.AckQuorum
	MaxCmdRetries int

	QueryParallelism querypipeline.Parallelism
	CheckReplicas    bool
	HappyPath        bool
	MaxQueryRetries  int
	DataReplicaCount int

	PeerPoolCapacity    int
	PeerPoolIdleTimeout time.Duration
}

// DefaultConfig composes the Cmd/Query pipeline and peer pool defaults
// into one Session-level config.
func DefaultConfig() Config {
	cmdDefaults := cmdpipeline.DefaultConfig()
	queryDefaults := querypipeline.DefaultConfig()
	return Config{
		PersistenceInterval:    30 * time.Second,
		CmdTimeout:             cmdDefaults.PerAttemptTimeout,
		QueryTimeout:           queryDefaults.QueryTimeout,
		QueryPerAttemptTimeout: queryDefaults.PerAttemptTimeout,
		AdultResponseTimeout:   queryDefaults.PerAttemptTimeout,
		AckQuorum:              cmdDefaults.AckQuorum,
		MaxCmdRetries:          cmdDefaults.MaxRetries,
		QueryParallelism:       queryDefaults.Parallelism,
		CheckReplicas:          queryDefaults.CheckReplicas,
		HappyPath:              queryDefaults.HappyPath,
		MaxQueryRetries:        queryDefaults.MaxRetries,
		DataReplicaCount:       queryDefaults.DataReplicaCount,
		PeerPoolCapacity:       peerpool.DefaultCapacity,
		PeerPoolIdleTimeout:    peerpool.DefaultIdleTimeout,
	}
}

// Validate rejects contradictory configuration before a Session is built
// (spec.md §8 property 11: "query_parallelism = One + check_replicas =
// true is a contradiction and is rejected at builder time").
func (c Config) Validate() error {
	return querypipeline.Config{Parallelism: c.QueryParallelism, CheckReplicas: c.CheckReplicas}.Validate()
}

func (c Config) cmdPipelineConfig() cmdpipeline.Config {
	return cmdpipeline.Config{
		AckQuorum:         c.AckQuorum,
		PerAttemptTimeout: c.CmdTimeout,
		MaxRetries:        c.MaxCmdRetries,
	}
}

func (c Config) queryPipelineConfig() querypipeline.Config {
	return querypipeline.Config{
		Parallelism:       c.QueryParallelism,
		CheckReplicas:     c.CheckReplicas,
		HappyPath:         c.HappyPath,
		QueryTimeout:      c.QueryTimeout,
		PerAttemptTimeout: c.QueryPerAttemptTimeout,
		MaxRetries:        c.MaxQueryRetries,
		DataReplicaCount:  c.DataReplicaCount,
	}
}

// applyEnvOverrides reads SN_CMD_TIMEOUT, SN_QUERY_TIMEOUT, and
// SN_ADULT_RESPONSE_TIMEOUT as millisecond integers (spec.md §6
// "Environment variables recognised"), following the teacher's
// getenv-with-default idiom (cmd/coordinator/main.go's getenv): an unset
// or unparsable value silently keeps whatever cfg already carried.
func applyEnvOverrides(cfg Config) Config {
	cfg.CmdTimeout = getenvMillis("SN_CMD_TIMEOUT", cfg.CmdTimeout)
	cfg.QueryTimeout = getenvMillis("SN_QUERY_TIMEOUT", cfg.QueryTimeout)
	cfg.AdultResponseTimeout = getenvMillis("SN_ADULT_RESPONSE_TIMEOUT", cfg.AdultResponseTimeout)
	return cfg
}

func getenvMillis(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	ms, err := strconv.Atoi(raw)
	if err != nil {
		log.Warn().Str("env", key).Str("value", raw).Err(err).Msg("ignoring unparsable timeout override")
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
