package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type fakeRedis struct {
	xaddStream string
	xaddValues map[string]interface{}
	xaddID     string
	xaddErr    error

	groupStreams []string
	groupErr     error

	readArgs *redis.XReadGroupArgs
	readRes  []redis.XStream
	readErr  error

	acked  []string
	ackErr error

	getVals map[string]string
	getErr  error

	setKey string
	setVal interface{}
	setTTL time.Duration
}

func (f *fakeRedis) XAdd(_ context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.xaddStream = a.Stream
	f.xaddValues, _ = a.Values.(map[string]interface{})
	id := f.xaddID
	if id == "" {
		id = "1-0"
	}
	return redis.NewStringResult(id, f.xaddErr)
}

func (f *fakeRedis) XGroupCreateMkStream(_ context.Context, stream, group, start string) *redis.StatusCmd {
	f.groupStreams = append(f.groupStreams, stream+"/"+group+"@"+start)
	return redis.NewStatusResult("OK", f.groupErr)
}

func (f *fakeRedis) XReadGroup(_ context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	f.readArgs = a
	return redis.NewXStreamSliceCmdResult(f.readRes, f.readErr)
}

func (f *fakeRedis) XAck(_ context.Context, stream, group string, ids ...string) *redis.IntCmd {
	f.acked = append(f.acked, ids...)
	return redis.NewIntResult(int64(len(ids)), f.ackErr)
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	val, ok := f.getVals[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(val, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd {
	f.setKey, f.setVal, f.setTTL = key, value, ttl
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) LPush(_ context.Context, _ string, values ...interface{}) *redis.IntCmd {
	return redis.NewIntResult(int64(len(values)), nil)
}

func (f *fakeRedis) LTrim(_ context.Context, _ string, _, _ int64) *redis.StatusCmd {
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) LRange(_ context.Context, _ string, _, _ int64) *redis.StringSliceCmd {
	return redis.NewStringSliceResult(nil, nil)
}

func (f *fakeRedis) Expire(_ context.Context, _ string, _ time.Duration) *redis.BoolCmd {
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Pipelined(_ context.Context, _ func(redis.Pipeliner) error) ([]redis.Cmder, error) {
	return nil, errors.New("not scripted")
}

func (f *fakeRedis) Ping(_ context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (f *fakeRedis) Close() error { return nil }

func TestEnsureGroup_ToleratesBusyGroup(t *testing.T) {
	fake := &fakeRedis{groupErr: errors.New("BUSYGROUP Consumer Group name already exists")}
	c := &Client{rdb: fake}

	if err := c.EnsureGroup(context.Background(), "inbound_messages", "agent_workers"); err != nil {
		t.Errorf("EnsureGroup() error = %v, want nil", err)
	}
}

func TestEnsureGroup_PropagatesOtherErrors(t *testing.T) {
	fake := &fakeRedis{groupErr: errors.New("LOADING Redis is loading the dataset")}
	c := &Client{rdb: fake}

	if err := c.EnsureGroup(context.Background(), "inbound_messages", "agent_workers"); err == nil {
		t.Error("EnsureGroup() error = nil, want error")
	}
}

func TestEnsureGroup_StartsAtStreamBeginning(t *testing.T) {
	fake := &fakeRedis{}
	c := &Client{rdb: fake}

	if err := c.EnsureGroup(context.Background(), "s", "g"); err != nil {
		t.Fatalf("EnsureGroup() error = %v", err)
	}
	if len(fake.groupStreams) != 1 || fake.groupStreams[0] != "s/g@0-0" {
		t.Errorf("group create = %v, want [s/g@0-0]", fake.groupStreams)
	}
}

func TestConsume_MapsEntriesAndDefaults(t *testing.T) {
	fake := &fakeRedis{
		readRes: []redis.XStream{{
			Stream: "inbound_messages",
			Messages: []redis.XMessage{
				{ID: "1-0", Values: map[string]interface{}{"text": "hi", "user_id": "u1"}},
				{ID: "1-1", Values: map[string]interface{}{"text": "again"}},
			},
		}},
	}
	c := &Client{rdb: fake}

	entries, err := c.Consume(context.Background(), ConsumeArgs{
		Stream: "inbound_messages", Group: "agent_workers", Consumer: "worker-1",
	})
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].ID != "1-0" || entries[0].Fields["text"] != "hi" {
		t.Errorf("entry[0] = %+v", entries[0])
	}

	if fake.readArgs.Count != DefaultReadCount {
		t.Errorf("count = %d, want %d", fake.readArgs.Count, DefaultReadCount)
	}
	if fake.readArgs.Block != DefaultBlock {
		t.Errorf("block = %v, want %v", fake.readArgs.Block, DefaultBlock)
	}
	if len(fake.readArgs.Streams) != 2 || fake.readArgs.Streams[1] != ">" {
		t.Errorf(`streams = %v, want [stream ">"]`, fake.readArgs.Streams)
	}
}

func TestConsume_BlockedTimeoutIsEmptyBatch(t *testing.T) {
	fake := &fakeRedis{readErr: redis.Nil}
	c := &Client{rdb: fake}

	entries, err := c.Consume(context.Background(), ConsumeArgs{Stream: "s", Group: "g", Consumer: "c"})
	if err != nil {
		t.Errorf("Consume() error = %v, want nil", err)
	}
	if len(entries) != 0 {
		t.Errorf("len(entries) = %d, want 0", len(entries))
	}
}

func TestGet_MissingKeyIsEmpty(t *testing.T) {
	c := &Client{rdb: &fakeRedis{getVals: map[string]string{}}}

	val, err := c.Get(context.Background(), "absent")
	if err != nil {
		t.Errorf("Get() error = %v, want nil", err)
	}
	if val != "" {
		t.Errorf("Get() = %q, want empty", val)
	}
}

func TestSetEx_NegativeTTLMeansNoExpiry(t *testing.T) {
	fake := &fakeRedis{}
	c := &Client{rdb: fake}

	if err := c.SetEx(context.Background(), "k", "v", -time.Second); err != nil {
		t.Fatalf("SetEx() error = %v", err)
	}
	if fake.setTTL != 0 {
		t.Errorf("ttl = %v, want 0", fake.setTTL)
	}
}
