package redis

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/neomorfeo/listiq/internal/domain"
)

// Compile-time check: SearchIndex implements domain.SearchIndex.
var _ domain.SearchIndex = (*SearchIndex)(nil)

const (
	defaultLimit = 50
	maxLimit     = 1000
)

// SearchIndex keeps one hash per recipient document and one sorted set per
// list, scored by creation time.
//
//	{prefix}:doc:{globalID}  hash of recipient fields
//	{prefix}:list:{listID}   zset of global ids
type SearchIndex struct {
	client *redis.Client
	prefix string
}

// NewSearchIndex creates an index whose keys start with prefix.
func NewSearchIndex(client *redis.Client, prefix string) *SearchIndex {
	return &SearchIndex{client: client, prefix: prefix}
}

func (s *SearchIndex) docKey(globalID string) string { return s.prefix + ":doc:" + globalID }
func (s *SearchIndex) listKey(listID string) string  { return s.prefix + ":list:" + listID }

// Index stores or replaces a recipient document.
func (s *SearchIndex) Index(ctx context.Context, r domain.Recipient) error {
	metadata, err := json.Marshal(r.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	index := ""
	if r.RecipientIndex != nil {
		index = strconv.Itoa(*r.RecipientIndex)
	}

	globalID := r.GlobalID()
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.docKey(globalID))
		pipe.HSet(ctx, s.docKey(globalID), map[string]any{
			"id":                  r.ID,
			"list_id":             r.ListID,
			"user_id":             r.UserID,
			"email":               r.Email,
			"status":              string(r.Status),
			"subscription_origin": string(r.SubscriptionOrigin),
			"metadata":            string(metadata),
			"import_id":           r.ImportID,
			"recipient_index":     index,
			"created_at":          r.CreatedAt.UTC().Format(time.RFC3339Nano),
			"updated_at":          r.UpdatedAt.UTC().Format(time.RFC3339Nano),
		})
		pipe.ZAdd(ctx, s.listKey(r.ListID), redis.Z{
			Score:  float64(r.CreatedAt.UnixMilli()),
			Member: globalID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("indexing %s: %w", globalID, err)
	}
	return nil
}

// Remove deletes a document. Removing an unknown document is not an error.
func (s *SearchIndex) Remove(ctx context.Context, globalID string) error {
	listID, err := s.client.HGet(ctx, s.docKey(globalID), "list_id").Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("looking up %s: %w", globalID, err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.docKey(globalID))
		pipe.ZRem(ctx, s.listKey(listID), globalID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("removing %s: %w", globalID, err)
	}
	return nil
}

// Search returns one page of a list's recipients. Options: limit (default
// 50), offset, sort (createdAt, updatedAt or email) and order (asc or desc,
// default desc).
func (s *SearchIndex) Search(ctx context.Context, listID string, conditions domain.Conditions, options domain.SearchOptions) (domain.SearchResult, error) {
	limit := options.Int(domain.OptionLimit, defaultLimit)
	if limit <= 0 || limit > maxLimit {
		return domain.SearchResult{}, &domain.ValidationError{Field: domain.OptionLimit, Reason: fmt.Sprintf("must be between 1 and %d", maxLimit)}
	}
	offset := options.Int(domain.OptionOffset, 0)
	if offset < 0 {
		return domain.SearchResult{}, &domain.ValidationError{Field: domain.OptionOffset, Reason: "must not be negative"}
	}
	sortKey := options.String(domain.OptionSort, "createdAt")
	if !slices.Contains([]string{"createdAt", "updatedAt", "email"}, sortKey) {
		return domain.SearchResult{}, &domain.ValidationError{Field: domain.OptionSort, Reason: "must be one of createdAt updatedAt email"}
	}
	order := options.String(domain.OptionOrder, "desc")
	if order != "asc" && order != "desc" {
		return domain.SearchResult{}, &domain.ValidationError{Field: domain.OptionOrder, Reason: "must be one of asc desc"}
	}

	if unfiltered(conditions) && sortKey == "createdAt" {
		return s.page(ctx, listID, offset, limit, order == "desc")
	}

	ids, err := s.client.ZRange(ctx, s.listKey(listID), 0, -1).Result()
	if err != nil {
		return domain.SearchResult{}, fmt.Errorf("listing %s: %w", listID, err)
	}
	docs, err := s.load(ctx, ids)
	if err != nil {
		return domain.SearchResult{}, err
	}

	matched := slices.DeleteFunc(docs, func(r domain.Recipient) bool { return !matches(r, conditions) })
	slices.SortStableFunc(matched, func(a, b domain.Recipient) int {
		c := compare(a, b, sortKey)
		if order == "desc" {
			return -c
		}
		return c
	})

	total := len(matched)
	start := min(offset, total)
	end := min(start+limit, total)
	return domain.SearchResult{Items: matched[start:end], Total: total}, nil
}

func (s *SearchIndex) page(ctx context.Context, listID string, offset, limit int, desc bool) (domain.SearchResult, error) {
	key := s.listKey(listID)
	total, err := s.client.ZCard(ctx, key).Result()
	if err != nil {
		return domain.SearchResult{}, fmt.Errorf("counting %s: %w", listID, err)
	}

	start, stop := int64(offset), int64(offset+limit-1)
	var ids []string
	if desc {
		ids, err = s.client.ZRevRange(ctx, key, start, stop).Result()
	} else {
		ids, err = s.client.ZRange(ctx, key, start, stop).Result()
	}
	if err != nil {
		return domain.SearchResult{}, fmt.Errorf("paging %s: %w", listID, err)
	}

	docs, err := s.load(ctx, ids)
	if err != nil {
		return domain.SearchResult{}, err
	}
	return domain.SearchResult{Items: docs, Total: int(total)}, nil
}

func (s *SearchIndex) load(ctx context.Context, ids []string) ([]domain.Recipient, error) {
	if len(ids) == 0 {
		return []domain.Recipient{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	if _, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.docKey(id))
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("loading documents: %w", err)
	}

	out := make([]domain.Recipient, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		r, err := decode(fields)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func decode(fields map[string]string) (domain.Recipient, error) {
	r := domain.Recipient{
		ID:                 fields["id"],
		ListID:             fields["list_id"],
		UserID:             fields["user_id"],
		Email:              fields["email"],
		Status:             domain.RecipientStatus(fields["status"]),
		SubscriptionOrigin: domain.SubscriptionOrigin(fields["subscription_origin"]),
		ImportID:           fields["import_id"],
	}
	if err := json.Unmarshal([]byte(fields["metadata"]), &r.Metadata); err != nil {
		return domain.Recipient{}, fmt.Errorf("decoding metadata of %s: %w", r.GlobalID(), err)
	}
	if raw := fields["recipient_index"]; raw != "" {
		idx, err := strconv.Atoi(raw)
		if err != nil {
			return domain.Recipient{}, fmt.Errorf("decoding index of %s: %w", r.GlobalID(), err)
		}
		r.RecipientIndex = &idx
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, fields["created_at"])
	r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, fields["updated_at"])
	return r, nil
}

func unfiltered(c domain.Conditions) bool {
	return c.Status == "" && c.SubscriptionOrigin == "" && c.EmailPrefix == "" && len(c.Metadata) == 0
}

func matches(r domain.Recipient, c domain.Conditions) bool {
	if c.Status != "" && r.Status != c.Status {
		return false
	}
	if c.SubscriptionOrigin != "" && r.SubscriptionOrigin != c.SubscriptionOrigin {
		return false
	}
	if c.EmailPrefix != "" && !strings.HasPrefix(r.Email, domain.NormalizeEmail(c.EmailPrefix)) {
		return false
	}
	for k, v := range c.Metadata {
		if got, ok := r.Metadata[k]; !ok || got != v {
			return false
		}
	}
	return true
}

func compare(a, b domain.Recipient, key string) int {
	switch key {
	case "email":
		return cmp.Compare(a.Email, b.Email)
	case "updatedAt":
		return a.UpdatedAt.Compare(b.UpdatedAt)
	default:
		return a.CreatedAt.Compare(b.CreatedAt)
	}
}
