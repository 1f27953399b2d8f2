// Package redis provides a Redis-backed implementation of the hot memory
// tier ([memory.HotStore]).
//
// Key layout (all keys share a configurable namespace):
//
//	{ns}:{entityID}:{userID}:stream      LIST of JSON-encoded turns
//	{ns}:{entityID}:{userID}:context     STRING, JSON active context, ~5 min TTL
//	{ns}:{entityID}:{userID}:expression  STRING, JSON expression state, no TTL
//	{ns}:{entityID}:{userID}:pulse       STRING, JSON pulse state, 24 h TTL
//
// Values may be transparently encrypted with AES-GCM under a system-level
// key (see [WithEncryptionKey]). Encryption is a property of the store,
// not of the data model — readers and writers must share the same key.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Enntity/cortex-sub003/pkg/memory"
)

// Defaults for stream and cache lifetimes.
const (
	defaultNamespace  = "continuity"
	defaultStreamCap  = 50
	defaultStreamTTL  = 7 * 24 * time.Hour
	defaultContextTTL = 5 * time.Minute
	defaultPulseTTL   = 24 * time.Hour
)

// Compile-time interface check.
var _ memory.HotStore = (*HotStore)(nil)

// HotStore implements [memory.HotStore] on top of a Redis client.
//
// The zero value is not usable; create instances with [New].
// All methods are safe for concurrent use.
type HotStore struct {
	rdb        *redis.Client
	namespace  string
	streamCap  int
	streamTTL  time.Duration
	contextTTL time.Duration
	pulseTTL   time.Duration
	codec      valueCodec
}

// Option is a functional option for [New].
type Option func(*HotStore)

// WithNamespace overrides the key namespace. Defaults to "continuity".
func WithNamespace(ns string) Option {
	return func(s *HotStore) { s.namespace = ns }
}

// WithStreamCapacity caps the episodic stream length. Defaults to 50.
func WithStreamCapacity(n int) Option {
	return func(s *HotStore) { s.streamCap = n }
}

// WithStreamTTL sets the episodic stream TTL, refreshed on every append.
// Defaults to 7 days.
func WithStreamTTL(d time.Duration) Option {
	return func(s *HotStore) { s.streamTTL = d }
}

// WithContextTTL sets the active-context cache TTL. Defaults to 5 minutes.
func WithContextTTL(d time.Duration) Option {
	return func(s *HotStore) { s.contextTTL = d }
}

// WithEncryptionKey enables transparent AES-GCM encryption of every
// stored value. key must be 16, 24, or 32 bytes. New panics on an
// invalid key length — a half-encrypted store is worse than a loud
// startup failure.
func WithEncryptionKey(key []byte) Option {
	return func(s *HotStore) {
		codec, err := newAESCodec(key)
		if err != nil {
			panic(fmt.Sprintf("redis hot store: %v", err))
		}
		s.codec = codec
	}
}

// New creates a [HotStore] backed by rdb. Apply [Option] values to
// override the defaults.
func New(rdb *redis.Client, opts ...Option) *HotStore {
	s := &HotStore{
		rdb:        rdb,
		namespace:  defaultNamespace,
		streamCap:  defaultStreamCap,
		streamTTL:  defaultStreamTTL,
		contextTTL: defaultContextTTL,
		pulseTTL:   defaultPulseTTL,
		codec:      plainCodec{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// key builds the namespaced key for one hot structure.
func (s *HotStore) key(entityID, userID, structure string) string {
	return s.namespace + ":" + entityID + ":" + userID + ":" + structure
}

// ─────────────────────────────────────────────────────────────────────────────
// Episodic stream
// ─────────────────────────────────────────────────────────────────────────────

// AppendTurn implements [memory.HotStore]. The append, trim, and TTL
// refresh run in a single pipeline so the stream never exceeds capacity
// even under concurrent writers.
func (s *HotStore) AppendTurn(ctx context.Context, entityID, userID string, turn memory.Turn) error {
	raw, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("hot store: marshal turn: %w", err)
	}
	val, err := s.codec.encode(raw)
	if err != nil {
		return fmt.Errorf("hot store: encode turn: %w", err)
	}

	k := s.key(entityID, userID, "stream")
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, k, val)
	pipe.LTrim(ctx, k, int64(-s.streamCap), -1)
	pipe.Expire(ctx, k, s.streamTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hot store: append turn: %w", err)
	}
	return nil
}

// LastTurns implements [memory.HotStore].
func (s *HotStore) LastTurns(ctx context.Context, entityID, userID string, n int) ([]memory.Turn, error) {
	if n <= 0 {
		return []memory.Turn{}, nil
	}
	k := s.key(entityID, userID, "stream")
	raws, err := s.rdb.LRange(ctx, k, int64(-n), -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []memory.Turn{}, nil
		}
		return nil, fmt.Errorf("hot store: last turns: %w", err)
	}

	turns := make([]memory.Turn, 0, len(raws))
	for _, r := range raws {
		plain, err := s.codec.decode([]byte(r))
		if err != nil {
			return nil, fmt.Errorf("hot store: decode turn: %w", err)
		}
		var t memory.Turn
		if err := json.Unmarshal(plain, &t); err != nil {
			return nil, fmt.Errorf("hot store: unmarshal turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// ClearTurns implements [memory.HotStore].
func (s *HotStore) ClearTurns(ctx context.Context, entityID, userID string) error {
	if err := s.rdb.Del(ctx, s.key(entityID, userID, "stream")).Err(); err != nil {
		return fmt.Errorf("hot store: clear turns: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Active context cache
// ─────────────────────────────────────────────────────────────────────────────

// GetActiveContext implements [memory.HotStore]. Expiry is enforced both
// by the Redis TTL and by the ExpiresAt field, so a clock-skewed reader
// never serves a stale cache.
func (s *HotStore) GetActiveContext(ctx context.Context, entityID, userID string) (*memory.ActiveContext, error) {
	var ac memory.ActiveContext
	ok, err := s.getJSON(ctx, s.key(entityID, userID, "context"), &ac)
	if err != nil {
		return nil, fmt.Errorf("hot store: get active context: %w", err)
	}
	if !ok {
		return nil, nil
	}
	if !ac.ExpiresAt.IsZero() && time.Now().After(ac.ExpiresAt) {
		return nil, nil
	}
	return &ac, nil
}

// SetActiveContext implements [memory.HotStore].
func (s *HotStore) SetActiveContext(ctx context.Context, entityID, userID string, ac memory.ActiveContext) error {
	if ac.LastUpdated.IsZero() {
		ac.LastUpdated = time.Now()
	}
	if ac.ExpiresAt.IsZero() {
		ac.ExpiresAt = ac.LastUpdated.Add(s.contextTTL)
	}
	if err := s.setJSON(ctx, s.key(entityID, userID, "context"), ac, s.contextTTL); err != nil {
		return fmt.Errorf("hot store: set active context: %w", err)
	}
	return nil
}

// InvalidateActiveContext implements [memory.HotStore].
func (s *HotStore) InvalidateActiveContext(ctx context.Context, entityID, userID string) error {
	if err := s.rdb.Del(ctx, s.key(entityID, userID, "context")).Err(); err != nil {
		return fmt.Errorf("hot store: invalidate active context: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Expression state
// ─────────────────────────────────────────────────────────────────────────────

// GetExpressionState implements [memory.HotStore].
func (s *HotStore) GetExpressionState(ctx context.Context, entityID, userID string) (*memory.ExpressionState, error) {
	var es memory.ExpressionState
	ok, err := s.getJSON(ctx, s.key(entityID, userID, "expression"), &es)
	if err != nil {
		return nil, fmt.Errorf("hot store: get expression state: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &es, nil
}

// UpdateExpressionState implements [memory.HotStore]. The read-modify-write
// is last-write-wins; turns for one (entity, user) are serialized by the
// transport layer, so this is acceptable by contract.
func (s *HotStore) UpdateExpressionState(ctx context.Context, entityID, userID string, update memory.ExpressionUpdate) error {
	k := s.key(entityID, userID, "expression")

	var es memory.ExpressionState
	if _, err := s.getJSON(ctx, k, &es); err != nil {
		return fmt.Errorf("hot store: read expression state: %w", err)
	}
	update.Apply(&es)

	if err := s.setJSON(ctx, k, es, 0); err != nil {
		return fmt.Errorf("hot store: write expression state: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Pulse task state
// ─────────────────────────────────────────────────────────────────────────────

// GetPulseState implements [memory.HotStore].
func (s *HotStore) GetPulseState(ctx context.Context, entityID, userID string) (*memory.PulseState, error) {
	var ps memory.PulseState
	ok, err := s.getJSON(ctx, s.key(entityID, userID, "pulse"), &ps)
	if err != nil {
		return nil, fmt.Errorf("hot store: get pulse state: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &ps, nil
}

// SetPulseState implements [memory.HotStore].
func (s *HotStore) SetPulseState(ctx context.Context, entityID, userID string, ps memory.PulseState) error {
	if err := s.setJSON(ctx, s.key(entityID, userID, "pulse"), ps, s.pulseTTL); err != nil {
		return fmt.Errorf("hot store: set pulse state: %w", err)
	}
	return nil
}

// ClearPulseState implements [memory.HotStore].
func (s *HotStore) ClearPulseState(ctx context.Context, entityID, userID string) error {
	if err := s.rdb.Del(ctx, s.key(entityID, userID, "pulse")).Err(); err != nil {
		return fmt.Errorf("hot store: clear pulse state: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Session lifecycle
// ─────────────────────────────────────────────────────────────────────────────

// ClearSession implements [memory.HotStore]. Expression state is
// deliberately preserved — the entity keeps its personality across
// session boundaries.
func (s *HotStore) ClearSession(ctx context.Context, entityID, userID string) error {
	err := s.rdb.Del(ctx,
		s.key(entityID, userID, "stream"),
		s.key(entityID, userID, "context"),
		s.key(entityID, userID, "pulse"),
	).Err()
	if err != nil {
		return fmt.Errorf("hot store: clear session: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// JSON helpers
// ─────────────────────────────────────────────────────────────────────────────

// getJSON reads and decodes a JSON value. Returns (false, nil) when the
// key is absent.
func (s *HotStore) getJSON(ctx context.Context, key string, out any) (bool, error) {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	plain, err := s.codec.decode(raw)
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(plain, out); err != nil {
		return false, err
	}
	return true, nil
}

// setJSON encodes and writes a JSON value. ttl of 0 persists the key.
func (s *HotStore) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	val, err := s.codec.encode(raw)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, key, val, ttl).Err()
}
