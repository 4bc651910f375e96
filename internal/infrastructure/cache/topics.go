// Package cache keeps per-project topic lists in memory between runs.
package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/kirillkom/opinion-analyzer/internal/core/domain"
	"github.com/kirillkom/opinion-analyzer/internal/core/ports"
)

type topicStore interface {
	ports.TopicReader
	ports.ClassificationWriter
}

// TopicCache is a read-through decorator over a topic store. A project's
// entry is dropped after every classification write, committed or not.
type TopicCache struct {
	next  topicStore
	cache *gocache.Cache
}

func NewTopicCache(next topicStore, ttl time.Duration) *TopicCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &TopicCache{
		next:  next,
		cache: gocache.New(ttl, 2*ttl),
	}
}

func (c *TopicCache) ListTopics(ctx context.Context, projectID string) ([]domain.Topic, error) {
	if cached, ok := c.cache.Get(projectID); ok {
		return cloneTopics(cached.([]domain.Topic)), nil
	}
	topics, err := c.next.ListTopics(ctx, projectID)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(projectID, cloneTopics(topics))
	return topics, nil
}

func (c *TopicCache) ApplyClassification(ctx context.Context, plan domain.TopicUpdatePlan) (domain.TopicUpdateSummary, error) {
	defer c.Invalidate(plan.ProjectID)
	return c.next.ApplyClassification(ctx, plan)
}

func (c *TopicCache) Invalidate(projectID string) {
	c.cache.Delete(projectID)
}

func cloneTopics(topics []domain.Topic) []domain.Topic {
	out := make([]domain.Topic, len(topics))
	copy(out, topics)
	return out
}
