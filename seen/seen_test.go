package seen_test

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/delboitv/babs/seen"
)

func testSet(t *testing.T, ttl time.Duration) *seen.Set {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatal(err)
	}
	s := seen.New(db, ttl)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAdd(t *testing.T) {
	ctx := context.Background()
	s := testSet(t, time.Hour)
	cases := []struct {
		id   string
		want bool
	}{
		{"bocchi", true},
		{"ryo", true},
		{"bocchi", false},
		{"", true},
		{"", true},
		{"ryo", false},
	}
	for _, c := range cases {
		got, err := s.Add(ctx, c.id)
		if err != nil {
			t.Errorf("couldn't add %q: %v", c.id, err)
		}
		if got != c.want {
			t.Errorf("wrong freshness for %q: want %t, got %t", c.id, c.want, got)
		}
	}
}

func TestHas(t *testing.T) {
	ctx := context.Background()
	s := testSet(t, time.Hour)
	if ok, err := s.Has(ctx, "kita"); err != nil || ok {
		t.Errorf("empty set has kita: %t, %v", ok, err)
	}
	if _, err := s.Add(ctx, "kita"); err != nil {
		t.Fatal(err)
	}
	if ok, err := s.Has(ctx, "kita"); err != nil || !ok {
		t.Errorf("set lost kita: %t, %v", ok, err)
	}
}

func TestExpire(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for expiry")
	}
	ctx := context.Background()
	s := testSet(t, time.Second)
	if _, err := s.Add(ctx, "nijika"); err != nil {
		t.Fatal(err)
	}
	// Badger expiry has second granularity.
	time.Sleep(2100 * time.Millisecond)
	fresh, err := s.Add(ctx, "nijika")
	if err != nil {
		t.Fatal(err)
	}
	if !fresh {
		t.Errorf("id didn't expire")
	}
}

func TestAddCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := testSet(t, time.Hour)
	if _, err := s.Add(ctx, "seika"); err == nil {
		t.Errorf("add with canceled context succeeded")
	}
}

func TestOpenMemory(t *testing.T) {
	s, err := seen.Open("", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if fresh, err := s.Add(context.Background(), "hitori"); err != nil || !fresh {
		t.Errorf("first add: %t, %v", fresh, err)
	}
}
