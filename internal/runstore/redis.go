package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Anteru/ava/internal/metrics"
	"github.com/Anteru/ava/pkg/types"
)

// RedisStore implements RunStore backed by Redis.
// Run metadata and task states live in hashes; the event stream is a Redis
// Stream so a separate `ava serve` process can follow a render in progress.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	maxLen int64
	mu     sync.Mutex
	closed bool
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL (redis://host:port/db)
	URL string

	// Password for Redis authentication
	Password string

	// DB is the database number
	DB int

	// Prefix for all keys (default: "ava")
	Prefix string

	// TTL for run data (default: 7 days)
	TTL time.Duration

	// EventMaxLen bounds the event stream length per run
	EventMaxLen int64

	// Connection pool settings
	PoolSize     int
	MinIdleConns int

	// Timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		URL:          "redis://localhost:6379/0",
		Prefix:       "ava",
		TTL:          7 * 24 * time.Hour,
		EventMaxLen:  5000,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// NewRedisStore creates a new Redis-backed RunStore.
func NewRedisStore(cfg *RedisConfig) (*RedisStore, error) {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}

	opts := &redis.Options{
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Password:     cfg.Password,
		DB:           cfg.DB,
	}
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts.Addr = parsed.Addr
		if parsed.Password != "" && cfg.Password == "" {
			opts.Password = parsed.Password
		}
		if parsed.DB != 0 && cfg.DB == 0 {
			opts.DB = parsed.DB
		}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "ava"
	}

	maxLen := cfg.EventMaxLen
	if maxLen <= 0 {
		maxLen = 5000
	}

	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    cfg.TTL,
		maxLen: maxLen,
	}, nil
}

// Key helpers
func (s *RedisStore) keyMeta(runID string) string   { return fmt.Sprintf("%s:%s:meta", s.prefix, runID) }
func (s *RedisStore) keyTasks(runID string) string  { return fmt.Sprintf("%s:%s:tasks", s.prefix, runID) }
func (s *RedisStore) keyReport(runID string) string { return fmt.Sprintf("%s:%s:report", s.prefix, runID) }
func (s *RedisStore) keyEvents(runID string) string { return fmt.Sprintf("%s:%s:events", s.prefix, runID) }
func (s *RedisStore) keySeq(runID string) string    { return fmt.Sprintf("%s:%s:seq", s.prefix, runID) }
func (s *RedisStore) keyIndex() string              { return fmt.Sprintf("%s:runs", s.prefix) }

// setTTL refreshes TTL on all keys for a run.
func (s *RedisStore) setTTL(ctx context.Context, runID string) {
	if s.ttl <= 0 {
		return
	}
	pipe := s.client.Pipeline()
	pipe.Expire(ctx, s.keyMeta(runID), s.ttl)
	pipe.Expire(ctx, s.keyTasks(runID), s.ttl)
	pipe.Expire(ctx, s.keyReport(runID), s.ttl)
	pipe.Expire(ctx, s.keyEvents(runID), s.ttl)
	pipe.Expire(ctx, s.keySeq(runID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("failed to refresh run TTL", slog.String("run_id", runID), slog.Any("error", err))
	}
}

func (s *RedisStore) CreateRun(ctx context.Context, meta *types.RunMeta) (string, error) {
	runID := generateRunID()
	now := time.Now().UTC()

	m := types.RunMeta{Status: types.RunStatusQueued}
	if meta != nil {
		m = *meta
	}
	m.ID = runID
	if m.Status == "" {
		m.Status = types.RunStatusQueued
	}
	m.CreatedAt = now
	m.UpdatedAt = now

	metaJSON, err := json.Marshal(&m)
	if err != nil {
		return "", fmt.Errorf("marshal run meta: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, s.keyMeta(runID), "json", string(metaJSON))
	pipe.Set(ctx, s.keySeq(runID), "0", 0)
	pipe.SAdd(ctx, s.keyIndex(), runID)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	s.setTTL(ctx, runID)

	return runID, nil
}

func (s *RedisStore) getMeta(ctx context.Context, runID string) (*types.RunMeta, error) {
	raw, err := s.client.HGet(ctx, s.keyMeta(runID), "json").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("get run meta: %w", err)
	}
	var meta types.RunMeta
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal run meta: %w", err)
	}
	return &meta, nil
}

func (s *RedisStore) GetRunMeta(ctx context.Context, runID string) (*types.RunMeta, error) {
	return s.getMeta(ctx, runID)
}

func (s *RedisStore) ListRuns(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.keyIndex()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return ids, nil
}

func (s *RedisStore) UpdateRunStatus(ctx context.Context, runID string, status types.RunStatus, startedAt, finishedAt *time.Time) error {
	meta, err := s.getMeta(ctx, runID)
	if err != nil {
		return err
	}
	meta.Status = status
	meta.UpdatedAt = time.Now().UTC()
	if startedAt != nil {
		meta.StartedAt = startedAt
	}
	if finishedAt != nil {
		meta.FinishedAt = finishedAt
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal run meta: %w", err)
	}
	if err := s.client.HSet(ctx, s.keyMeta(runID), "json", string(metaJSON)).Err(); err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	s.setTTL(ctx, runID)
	return nil
}

func (s *RedisStore) UpdateTaskState(ctx context.Context, runID string, state *types.TaskState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal task state: %w", err)
	}
	if err := s.client.HSet(ctx, s.keyTasks(runID), state.Key.String(), string(stateJSON)).Err(); err != nil {
		return fmt.Errorf("update task state: %w", err)
	}
	return nil
}

func (s *RedisStore) GetTaskState(ctx context.Context, runID string, key types.TaskKey) (*types.TaskState, error) {
	raw, err := s.client.HGet(ctx, s.keyTasks(runID), key.String()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("get task state: %w", err)
	}
	var state types.TaskState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("unmarshal task state: %w", err)
	}
	return &state, nil
}

func (s *RedisStore) ListTaskStates(ctx context.Context, runID string) ([]*types.TaskState, error) {
	raw, err := s.client.HGetAll(ctx, s.keyTasks(runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list task states: %w", err)
	}
	out := make([]*types.TaskState, 0, len(raw))
	for _, v := range raw {
		var state types.TaskState
		if err := json.Unmarshal([]byte(v), &state); err != nil {
			continue
		}
		out = append(out, &state)
	}
	return out, nil
}

func (s *RedisStore) SetReport(ctx context.Context, runID string, report *types.RunReport) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := s.client.Set(ctx, s.keyReport(runID), string(reportJSON), s.ttl).Err(); err != nil {
		return fmt.Errorf("set report: %w", err)
	}
	return nil
}

func (s *RedisStore) GetReport(ctx context.Context, runID string) (*types.RunReport, error) {
	raw, err := s.client.Get(ctx, s.keyReport(runID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("run %s: %w", runID, ErrNoReport)
		}
		return nil, fmt.Errorf("get report: %w", err)
	}
	var report types.RunReport
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		return nil, fmt.Errorf("unmarshal report: %w", err)
	}
	return &report, nil
}

func (s *RedisStore) AppendEvent(ctx context.Context, runID string, input *types.EventInput) (*types.Event, error) {
	seq, err := s.client.Incr(ctx, s.keySeq(runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("incr seq: %w", err)
	}

	now := time.Now().UTC()
	eventID := strconv.FormatInt(seq, 10)

	dataBytes, _ := json.Marshal(input.Data)

	event := &types.Event{
		ID:        eventID,
		RunID:     runID,
		Type:      input.Type,
		Task:      input.Task,
		Timestamp: now,
		Data:      dataBytes,
	}

	if err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.keyEvents(runID),
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"seq":  eventID,
			"ts":   now.Format(time.RFC3339Nano),
			"type": string(input.Type),
			"task": input.Task,
			"data": string(dataBytes),
		},
	}).Err(); err != nil {
		return nil, fmt.Errorf("xadd: %w", err)
	}

	metrics.EventsTotal.WithLabelValues(string(input.Type)).Inc()

	return event, nil
}

func eventFromStreamValues(runID string, values map[string]interface{}) *types.Event {
	seqStr, _ := values["seq"].(string)
	ts, _ := values["ts"].(string)
	timestamp, _ := time.Parse(time.RFC3339Nano, ts)
	eventType, _ := values["type"].(string)
	task, _ := values["task"].(string)
	data, _ := values["data"].(string)

	return &types.Event{
		ID:        seqStr,
		RunID:     runID,
		Type:      types.EventType(eventType),
		Task:      task,
		Timestamp: timestamp,
		Data:      json.RawMessage(data),
	}
}

func (s *RedisStore) GetEventsSince(ctx context.Context, runID string, lastEventID string) ([]*types.Event, error) {
	entries, err := s.client.XRange(ctx, s.keyEvents(runID), "-", "+").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*types.Event{}, nil
		}
		return nil, fmt.Errorf("xrange: %w", err)
	}

	var lastSeq int64
	if lastEventID != "" {
		lastSeq, _ = strconv.ParseInt(lastEventID, 10, 64)
	}

	var events []*types.Event
	for _, entry := range entries {
		evt := eventFromStreamValues(runID, entry.Values)
		seq, _ := strconv.ParseInt(evt.ID, 10, 64)
		if lastSeq > 0 && seq <= lastSeq {
			continue
		}
		events = append(events, evt)
	}
	return events, nil
}

func (s *RedisStore) Subscribe(ctx context.Context, runID string) (<-chan *types.Event, func(), error) {
	exists, err := s.client.Exists(ctx, s.keyMeta(runID)).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("check run exists: %w", err)
	}
	if exists == 0 {
		return nil, nil, ErrRunNotFound
	}

	ch := make(chan *types.Event, 100)
	readerCtx, cancel := context.WithCancel(ctx)
	go s.streamReader(readerCtx, runID, ch)

	return ch, cancel, nil
}

// streamReader follows the run's Redis Stream and pushes events to ch.
// Reading the stream rather than fanning out in-process lets `ava serve`
// follow a render executing in a different process.
func (s *RedisStore) streamReader(ctx context.Context, runID string, ch chan *types.Event) {
	lastID := "$"

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		streams, err := s.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{s.keyEvents(runID), lastID},
			Count:   10,
			Block:   time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			time.Sleep(100 * time.Millisecond)
			continue
		}

		for _, str := range streams {
			for _, entry := range str.Messages {
				lastID = entry.ID
				select {
				case ch <- eventFromStreamValues(runID, entry.Values):
				case <-ctx.Done():
					return
				default:
					// Channel full, skip event
				}
			}
		}
	}
}

func (s *RedisStore) AdapterInfo(ctx context.Context) (map[string]interface{}, error) {
	pingStart := time.Now()
	if err := s.client.Ping(ctx).Err(); err != nil {
		return map[string]interface{}{
			"adapter": "redis",
			"healthy": false,
			"error":   err.Error(),
		}, nil
	}
	pingLatency := time.Since(pingStart)

	poolStats := s.client.PoolStats()
	return map[string]interface{}{
		"adapter": "redis",
		"healthy": true,
		"details": map[string]interface{}{
			"prefix":       s.prefix,
			"ttl_hours":    s.ttl.Hours(),
			"ping_latency": pingLatency.String(),
			"pool": map[string]interface{}{
				"hits":       poolStats.Hits,
				"misses":     poolStats.Misses,
				"timeouts":   poolStats.Timeouts,
				"total_conn": poolStats.TotalConns,
				"idle_conn":  poolStats.IdleConns,
			},
		},
	}, nil
}

func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

// Ensure RedisStore implements RunStore
var _ RunStore = (*RedisStore)(nil)
