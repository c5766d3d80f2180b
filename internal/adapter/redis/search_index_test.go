package redis_test

import (
	"context"
	"errors"
	"testing"
	"time"

	redisadapter "github.com/neomorfeo/listiq/internal/adapter/redis"
	"github.com/neomorfeo/listiq/internal/domain"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, index *redisadapter.SearchIndex) {
	t.Helper()
	recipients := []domain.Recipient{
		{ID: "a", ListID: "L", Email: "anna@x.io", Status: domain.StatusSubscribed, SubscriptionOrigin: domain.OriginAPI, Metadata: map[string]string{"city": "Lisbon"}, CreatedAt: base},
		{ID: "b", ListID: "L", Email: "bob@y.io", Status: domain.StatusUnsubscribed, SubscriptionOrigin: domain.OriginListImport, Metadata: map[string]string{"city": "Porto"}, CreatedAt: base.Add(time.Minute)},
		{ID: "c", ListID: "L", Email: "carl@x.io", Status: domain.StatusSubscribed, SubscriptionOrigin: domain.OriginListImport, Metadata: map[string]string{"city": "Lisbon"}, CreatedAt: base.Add(2 * time.Minute)},
		{ID: "z", ListID: "other", Email: "zed@x.io", Status: domain.StatusSubscribed, CreatedAt: base},
	}
	for _, r := range recipients {
		if err := index.Index(context.Background(), r); err != nil {
			t.Fatalf("Index(%s) failed: %v", r.ID, err)
		}
	}
}

func ids(items []domain.Recipient) []string {
	out := make([]string, len(items))
	for i, r := range items {
		out[i] = r.ID
	}
	return out
}

func TestSearchIndex_DefaultsToNewestFirst(t *testing.T) {
	client, _ := newTestClient(t)
	index := redisadapter.NewSearchIndex(client, "test")
	seed(t, index)

	res, err := index.Search(context.Background(), "L", domain.Conditions{}, nil)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if res.Total != 3 {
		t.Errorf("Total = %d, want 3", res.Total)
	}
	if got := ids(res.Items); len(got) != 3 || got[0] != "c" || got[2] != "a" {
		t.Errorf("items = %v, want [c b a]", got)
	}
	if res.Items[0].Metadata["city"] != "Lisbon" || !res.Items[0].CreatedAt.Equal(base.Add(2*time.Minute)) {
		t.Errorf("decoded = %+v", res.Items[0])
	}
}

func TestSearchIndex_Paging(t *testing.T) {
	client, _ := newTestClient(t)
	index := redisadapter.NewSearchIndex(client, "test")
	seed(t, index)

	res, err := index.Search(context.Background(), "L", domain.Conditions{}, domain.SearchOptions{
		domain.OptionLimit:  1,
		domain.OptionOffset: 1,
		domain.OptionOrder:  "asc",
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if res.Total != 3 {
		t.Errorf("Total = %d, want 3", res.Total)
	}
	if got := ids(res.Items); len(got) != 1 || got[0] != "b" {
		t.Errorf("items = %v, want [b]", got)
	}
}

func TestSearchIndex_Conditions(t *testing.T) {
	client, _ := newTestClient(t)
	index := redisadapter.NewSearchIndex(client, "test")
	seed(t, index)
	ctx := context.Background()

	cases := []struct {
		name string
		cond domain.Conditions
		want []string
	}{
		{"status", domain.Conditions{Status: domain.StatusSubscribed}, []string{"c", "a"}},
		{"origin", domain.Conditions{SubscriptionOrigin: domain.OriginListImport}, []string{"c", "b"}},
		{"email prefix", domain.Conditions{EmailPrefix: "BO"}, []string{"b"}},
		{"metadata", domain.Conditions{Metadata: map[string]string{"city": "Lisbon"}}, []string{"c", "a"}},
		{"combined", domain.Conditions{Status: domain.StatusSubscribed, SubscriptionOrigin: domain.OriginAPI}, []string{"a"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := index.Search(ctx, "L", tc.cond, nil)
			if err != nil {
				t.Fatalf("Search failed: %v", err)
			}
			got := ids(res.Items)
			if len(got) != len(tc.want) {
				t.Fatalf("items = %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("items = %v, want %v", got, tc.want)
					break
				}
			}
			if res.Total != len(tc.want) {
				t.Errorf("Total = %d, want %d", res.Total, len(tc.want))
			}
		})
	}
}

func TestSearchIndex_SortByEmail(t *testing.T) {
	client, _ := newTestClient(t)
	index := redisadapter.NewSearchIndex(client, "test")
	seed(t, index)

	res, err := index.Search(context.Background(), "L", domain.Conditions{}, domain.SearchOptions{
		domain.OptionSort:  "email",
		domain.OptionOrder: "asc",
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if got := ids(res.Items); len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("items = %v, want [a b c]", got)
	}
}

func TestSearchIndex_InvalidOptions(t *testing.T) {
	client, _ := newTestClient(t)
	index := redisadapter.NewSearchIndex(client, "test")

	for _, opts := range []domain.SearchOptions{
		{domain.OptionLimit: 0},
		{domain.OptionLimit: 5000},
		{domain.OptionOffset: -1},
		{domain.OptionSort: "name"},
		{domain.OptionOrder: "sideways"},
	} {
		_, err := index.Search(context.Background(), "L", domain.Conditions{}, opts)
		var vErr *domain.ValidationError
		if !errors.As(err, &vErr) {
			t.Errorf("Search(%v): expected ValidationError, got %v", opts, err)
		}
	}
}

func TestSearchIndex_ReindexReplacesAndRemoveDeletes(t *testing.T) {
	client, _ := newTestClient(t)
	index := redisadapter.NewSearchIndex(client, "test")
	seed(t, index)
	ctx := context.Background()

	updated := domain.Recipient{ID: "a", ListID: "L", Email: "anna@x.io", Status: domain.StatusBounced, CreatedAt: base}
	if err := index.Index(ctx, updated); err != nil {
		t.Fatalf("reindex failed: %v", err)
	}
	res, _ := index.Search(ctx, "L", domain.Conditions{Status: domain.StatusBounced}, nil)
	if got := ids(res.Items); len(got) != 1 || got[0] != "a" {
		t.Errorf("bounced = %v, want [a]", got)
	}
	if res.Items[0].Metadata != nil {
		t.Errorf("stale metadata survived reindex: %v", res.Items[0].Metadata)
	}

	if err := index.Remove(ctx, domain.GlobalID("L", "a")); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := index.Remove(ctx, domain.GlobalID("L", "a")); err != nil {
		t.Fatalf("second Remove failed: %v", err)
	}
	res, _ = index.Search(ctx, "L", domain.Conditions{}, nil)
	if res.Total != 2 {
		t.Errorf("Total after remove = %d, want 2", res.Total)
	}
}
