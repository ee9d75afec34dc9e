package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/fpang/recording-splitter/internal/split"
)

func TestParseSpec(t *testing.T) {
	tests := []struct {
		spec     string
		wantKind string
		wantArg  string
		wantErr  bool
	}{
		{"", KindMemory, "", false},
		{"memory", KindMemory, "", false},
		{"sqlite:/tmp/claims.db", KindSQLite, "/tmp/claims.db", false},
		{"dynamodb:segment-claims", KindDynamoDB, "segment-claims", false},
		{"sqlite:", "", "", true},
		{"redis:localhost", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			kind, arg, err := ParseSpec(tt.spec)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSpec() error = %v, wantErr %v", err, tt.wantErr)
			}
			if kind != tt.wantKind || arg != tt.wantArg {
				t.Errorf("ParseSpec() = %q, %q, want %q, %q", kind, arg, tt.wantKind, tt.wantArg)
			}
		})
	}
}

// exerciseRegistry checks insert-if-absent semantics under contention.
func exerciseRegistry(t *testing.T, reg Registry) {
	t.Helper()
	ctx := context.Background()
	keys := []split.Key{
		{Fragment: "f1.mkv", ItemID: "a", Modifiers: "None"},
		{Fragment: "f1.mkv", ItemID: "b", Modifiers: "None"},
		{Fragment: "f2.mkv", ItemID: "a", Modifiers: "None"},
		{Fragment: "f1.mkv", ItemID: "a", Modifiers: "{'x': 1}"},
	}

	var mu sync.Mutex
	wins := make(map[split.Key]int)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, k := range keys {
				ok, err := reg.Claim(ctx, k)
				if err != nil {
					t.Errorf("Claim(%v) error = %v", k, err)
					return
				}
				if ok {
					mu.Lock()
					wins[k]++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	for _, k := range keys {
		if wins[k] != 1 {
			t.Errorf("key %v claimed %d times, want exactly once", k, wins[k])
		}
	}
	n, err := reg.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != len(keys) {
		t.Errorf("Count() = %d, want %d", n, len(keys))
	}
}

func TestMemoryRegistry(t *testing.T) {
	reg, err := Open(context.Background(), "memory", "run-1")
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()
	exerciseRegistry(t, reg)
}

func TestSQLiteRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "claims.db")
	reg, err := Open(context.Background(), "sqlite:"+path, "run-1")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer reg.Close()
	exerciseRegistry(t, reg)
}

func TestSQLiteRegistryScopesByRun(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "claims.db")
	k := split.Key{Fragment: "f", ItemID: "a", Modifiers: "None"}

	first, err := OpenSQLite(ctx, path, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if ok, err := first.Claim(ctx, k); err != nil || !ok {
		t.Fatalf("first Claim() = %v, %v", ok, err)
	}
	first.Close()

	second, err := OpenSQLite(ctx, path, "run-2")
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()
	if ok, err := second.Claim(ctx, k); err != nil || !ok {
		t.Errorf("Claim() in a new run = %v, %v, want true", ok, err)
	}
	if ok, _ := second.Claim(ctx, k); ok {
		t.Error("second Claim() in the same run should be refused")
	}
	if n, _ := second.Count(ctx); n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}

// fakeDynamo honours the attribute_not_exists condition on PK+SK.
type fakeDynamo struct {
	mu       sync.Mutex
	items    map[string]map[string]types.AttributeValue
	pageSize int
	putErr   error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue), pageSize: 2}
}

func attrS(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return nil, f.putErr
	}
	key := attrS(in.Item, "PK") + "|" + attrS(in.Item, "SK")
	if _, exists := f.items[key]; exists && in.ConditionExpression != nil {
		return nil, &types.ConditionalCheckFailedException{Message: new(string)}
	}
	f.items[key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk := attrS(in.ExpressionAttributeValues, ":pk")
	matched := 0
	for _, item := range f.items {
		if attrS(item, "PK") == pk {
			matched++
		}
	}
	// Serve the count in pages to exercise pagination.
	offset := 0
	if in.ExclusiveStartKey != nil {
		offset = len(in.ExclusiveStartKey["offset"].(*types.AttributeValueMemberS).Value)
	}
	remaining := matched - offset
	out := &dynamodb.QueryOutput{}
	if remaining > f.pageSize {
		out.Count = int32(f.pageSize)
		next := make([]byte, offset+f.pageSize)
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			"offset": &types.AttributeValueMemberS{Value: string(next)},
		}
	} else {
		out.Count = int32(remaining)
	}
	return out, nil
}

func TestDynamoRegistry(t *testing.T) {
	fake := newFakeDynamo()
	exerciseRegistry(t, NewDynamoRegistry(fake, "claims", "run-1"))

	for _, item := range fake.items {
		if attrS(item, "PK") != "RUN#run-1" {
			t.Errorf("PK = %q", attrS(item, "PK"))
		}
		if _, ok := item["expiresAt"].(*types.AttributeValueMemberN); !ok {
			t.Error("claim has no expiresAt TTL")
		}
		if attrS(item, "itemId") == "" {
			t.Error("claim body not marshalled")
		}
	}
}

func TestDynamoRegistryPropagatesErrors(t *testing.T) {
	fake := newFakeDynamo()
	fake.putErr = errors.New("throttled")
	_, err := NewDynamoRegistry(fake, "claims", "run-1").Claim(context.Background(), split.Key{Fragment: "f"})
	if err == nil {
		t.Error("Claim() should surface non-conditional errors")
	}
}
