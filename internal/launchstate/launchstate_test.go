package launchstate_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-lti13/internal/db"
	"github.com/mind-engage/mindengage-lti13/internal/launchstate"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func caches(t *testing.T, clk *clock) map[string]launchstate.Cache {
	t.Helper()
	h, err := db.Open(context.Background(), db.DriverSQLite, "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	mem := launchstate.NewMemory(0)
	mem.Now = clk.Now
	sqlStore := launchstate.NewSQLStore(h)
	sqlStore.Now = clk.Now
	dyn := launchstate.NewDynamoStore(newFakeDynamo(), "ltiCacheTable")
	dyn.Now = clk.Now

	return map[string]launchstate.Cache{"memory": mem, "sql": sqlStore, "dynamo": dyn}
}

func record(state string) launchstate.LaunchState {
	return launchstate.LaunchState{
		State:          state,
		ClientID:       "c1",
		DeploymentID:   "d1",
		Issuer:         "https://lms.example",
		Nonce:          "n1",
		LTIMessageHint: "hint",
		SourceIP:       "203.0.113.7",
	}
}

func TestTakeIsSingleUse(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
	for name, c := range caches(t, clk) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, c.Put(ctx, record("s-"+name), 10*time.Minute))

			got, err := c.Take(ctx, "s-"+name)
			require.NoError(t, err)
			want := record("s-" + name)
			want.CreatedAt = clk.Now()
			want.ExpiresAt = clk.Now().Add(10 * time.Minute)
			assert.Equal(t, want, got)

			_, err = c.Take(ctx, "s-"+name)
			require.ErrorIs(t, err, launchstate.ErrNotFound)
		})
	}
}

func TestTakeUnknownAndEmpty(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Now().UTC()}
	for name, c := range caches(t, clk) {
		t.Run(name, func(t *testing.T) {
			_, err := c.Take(ctx, "nope")
			require.ErrorIs(t, err, launchstate.ErrNotFound)
			_, err = c.Take(ctx, "")
			require.ErrorIs(t, err, launchstate.ErrNotFound)
		})
	}
}

func TestPutRejectsOverwrite(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Now().UTC()}
	for name, c := range caches(t, clk) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, c.Put(ctx, record("dup"), time.Minute))
			require.ErrorIs(t, c.Put(ctx, record("dup"), time.Minute), launchstate.ErrExists)
		})
	}
}

func TestPutValidates(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Now().UTC()}
	for name, c := range caches(t, clk) {
		t.Run(name, func(t *testing.T) {
			require.Error(t, c.Put(ctx, record(" "), time.Minute))
			require.Error(t, c.Put(ctx, record("x"), 0))
		})
	}
}

func TestExpiredStateIsNotFoundAndRemoved(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
	for name, c := range caches(t, clk) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, c.Put(ctx, record("old-"+name), time.Minute))
			clk.Advance(2 * time.Minute)
			defer clk.Advance(-2 * time.Minute)

			_, err := c.Take(ctx, "old-"+name)
			require.ErrorIs(t, err, launchstate.ErrNotFound)
		})
	}
}

func TestConcurrentTakeHasOneWinner(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Now().UTC()}
	for name, c := range caches(t, clk) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, c.Put(ctx, record("race"), time.Minute))

			var wins, misses atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := c.Take(ctx, "race")
					if err == nil {
						wins.Add(1)
						return
					}
					if assert.ErrorIs(t, err, launchstate.ErrNotFound) {
						misses.Add(1)
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(1), wins.Load())
			assert.Equal(t, int32(15), misses.Load())
		})
	}
}

func TestPurgeDropsExpired(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
	for name, c := range caches(t, clk) {
		p, ok := c.(launchstate.Purger)
		if !ok {
			continue
		}
		t.Run(name, func(t *testing.T) {
			require.NoError(t, c.Put(ctx, record("short"), time.Minute))
			require.NoError(t, c.Put(ctx, record("long"), time.Hour))

			n, err := p.Purge(ctx, clk.Now().Add(5*time.Minute))
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			_, err = c.Take(ctx, "long")
			require.NoError(t, err)
		})
	}
}

func TestMemoryOpportunisticPurge(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
	m := launchstate.NewMemory(2)
	m.Now = clk.Now

	require.NoError(t, m.Put(ctx, record("a"), time.Minute))
	clk.Advance(time.Hour)
	require.NoError(t, m.Put(ctx, record("b"), time.Minute)) // second put purges "a"
	assert.Equal(t, 1, m.Len())
}

/* ---------------- fake DynamoDB table keyed on "key" ---------------- */

type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func keyOf(m map[string]types.AttributeValue) string {
	if v, ok := m["key"].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := keyOf(in.Item)
	if _, ok := f.items[k]; ok && in.ConditionExpression != nil {
		return nil, &types.ConditionalCheckFailedException{}
	}
	f.items[k] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := keyOf(in.Key)
	old := f.items[k]
	delete(f.items, k)
	out := &dynamodb.DeleteItemOutput{}
	if in.ReturnValues == types.ReturnValueAllOld {
		out.Attributes = old
	}
	return out, nil
}
