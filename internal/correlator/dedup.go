package correlator

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DedupCache 两个有界、按 TTL 过期的事件 ID 集合
//
//   - startSeen: 事件的开始读数已经发出
//   - processed: 开始与结束都已处理完毕，之后再出现直接跳过
//
// 正确性由水位保证，这里只用于避免重复发出相同读数。
type DedupCache struct {
	startSeen *expirable.LRU[string, struct{}]
	processed *expirable.LRU[string, struct{}]
}

// NewDedupCache 创建去重缓存，每个集合最多 maxEntries 个 ID
func NewDedupCache(maxEntries int, ttl time.Duration) *DedupCache {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &DedupCache{
		startSeen: expirable.NewLRU[string, struct{}](maxEntries, nil, ttl),
		processed: expirable.NewLRU[string, struct{}](maxEntries, nil, ttl),
	}
}

// MarkStartSeen 记录事件的开始读数已发出
func (d *DedupCache) MarkStartSeen(eventID string) {
	d.startSeen.Add(eventID, struct{}{})
}

// MarkProcessed 记录事件已完全处理
func (d *DedupCache) MarkProcessed(eventID string) {
	d.processed.Add(eventID, struct{}{})
}

// IsStartSeen 开始读数是否已发出
func (d *DedupCache) IsStartSeen(eventID string) bool {
	_, ok := d.startSeen.Get(eventID)
	return ok
}

// IsProcessed 事件是否已完全处理
func (d *DedupCache) IsProcessed(eventID string) bool {
	_, ok := d.processed.Get(eventID)
	return ok
}

// Len 返回两个集合当前的大小
func (d *DedupCache) Len() (startSeen int, processed int) {
	return d.startSeen.Len(), d.processed.Len()
}

// Purge 清空两个集合
func (d *DedupCache) Purge() {
	d.startSeen.Purge()
	d.processed.Purge()
}
