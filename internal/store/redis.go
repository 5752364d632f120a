// This file implements a Redis-backed FlowStateStore for deployments that
// keep drafts outside the relational database.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	rd "github.com/go-redis/redis/v9"

	"github.com/BTreeMap/ReportPipe/internal/models"
)

// DefaultRedisNamespace prefixes every key written by RedisFlowStateStore.
const DefaultRedisNamespace = "reportpipe"

// Compile-time check that RedisFlowStateStore implements FlowStateStore.
var _ FlowStateStore = (*RedisFlowStateStore)(nil)

// RedisFlowStateStore keeps flow states in one hash per flow type, keyed by
// participant id.
type RedisFlowStateStore struct {
	client    rd.UniversalClient
	namespace string
}

// RedisOption configures a RedisFlowStateStore.
type RedisOption func(*RedisFlowStateStore)

// WithRedisNamespace overrides DefaultRedisNamespace.
func WithRedisNamespace(ns string) RedisOption {
	return func(s *RedisFlowStateStore) { s.namespace = ns }
}

// NewRedisFlowStateStore connects to the Redis server at url
// (redis://[:password@]host:port/db) and verifies the connection.
func NewRedisFlowStateStore(url string, opts ...RedisOption) (*RedisFlowStateStore, error) {
	slog.Debug("NewRedisFlowStateStore invoked", "url_set", url != "")
	parsed, err := rd.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := rd.NewUniversalClient(&rd.UniversalOptions{
		Addrs:    []string{parsed.Addr},
		Password: parsed.Password,
		DB:       parsed.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		slog.Error("Redis ping failed", "error", err)
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisFlowStateStoreWithClient(client, opts...), nil
}

// NewRedisFlowStateStoreWithClient wraps an existing client.
func NewRedisFlowStateStoreWithClient(client rd.UniversalClient, opts ...RedisOption) *RedisFlowStateStore {
	s := &RedisFlowStateStore{client: client, namespace: DefaultRedisNamespace}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisFlowStateStore) key(flowType string) string {
	return fmt.Sprintf("%s:flow:%s", s.namespace, flowType)
}

func (s *RedisFlowStateStore) SaveFlowState(state models.FlowState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode flow state: %w", err)
	}
	ctx := context.Background()
	if err := s.client.HSet(ctx, s.key(state.FlowType), state.ParticipantID, string(data)).Err(); err != nil {
		slog.Error("RedisFlowStateStore SaveFlowState failed", "error", err, "participantID", state.ParticipantID)
		return err
	}
	return nil
}

func (s *RedisFlowStateStore) GetFlowState(participantID, flowType string) (*models.FlowState, error) {
	ctx := context.Background()
	raw, err := s.client.HGet(ctx, s.key(flowType), participantID).Result()
	if errors.Is(err, rd.Nil) {
		return nil, nil
	}
	if err != nil {
		slog.Error("RedisFlowStateStore GetFlowState failed", "error", err, "participantID", participantID)
		return nil, err
	}
	var state models.FlowState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("failed to decode flow state for %s: %w", participantID, err)
	}
	return &state, nil
}

func (s *RedisFlowStateStore) DeleteFlowState(participantID, flowType string) error {
	ctx := context.Background()
	if err := s.client.HDel(ctx, s.key(flowType), participantID).Err(); err != nil {
		slog.Error("RedisFlowStateStore DeleteFlowState failed", "error", err, "participantID", participantID)
		return err
	}
	return nil
}

func (s *RedisFlowStateStore) ListFlowStates(flowType string) ([]models.FlowState, error) {
	ctx := context.Background()
	all, err := s.client.HGetAll(ctx, s.key(flowType)).Result()
	if err != nil {
		slog.Error("RedisFlowStateStore ListFlowStates failed", "error", err, "flowType", flowType)
		return nil, err
	}
	states := make([]models.FlowState, 0, len(all))
	for participantID, raw := range all {
		var state models.FlowState
		if err := json.Unmarshal([]byte(raw), &state); err != nil {
			slog.Warn("RedisFlowStateStore skipping undecodable state", "error", err, "participantID", participantID)
			continue
		}
		states = append(states, state)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].ParticipantID < states[j].ParticipantID })
	return states, nil
}

// Close closes the Redis client.
func (s *RedisFlowStateStore) Close() error {
	return s.client.Close()
}

// FlowStateOverride serves flow states from one store and everything else from base.
type FlowStateOverride struct {
	Store
	flows FlowStateStore
}

// WithFlowStates returns base with its flow-state methods served by flows.
func WithFlowStates(base Store, flows FlowStateStore) *FlowStateOverride {
	return &FlowStateOverride{Store: base, flows: flows}
}

func (o *FlowStateOverride) SaveFlowState(state models.FlowState) error {
	return o.flows.SaveFlowState(state)
}

func (o *FlowStateOverride) GetFlowState(participantID, flowType string) (*models.FlowState, error) {
	return o.flows.GetFlowState(participantID, flowType)
}

func (o *FlowStateOverride) DeleteFlowState(participantID, flowType string) error {
	return o.flows.DeleteFlowState(participantID, flowType)
}

func (o *FlowStateOverride) ListFlowStates(flowType string) ([]models.FlowState, error) {
	return o.flows.ListFlowStates(flowType)
}
