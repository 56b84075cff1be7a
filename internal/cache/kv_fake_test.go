package cache_test

import (
	"context"
	"errors"
	"sync"

	"wisefido-camera/internal/cache"
)

var errStoreDown = errors.New("store unavailable")

// fakeListStore 仅用于单元测试（内存列表 + 集合，可注入失败）
type fakeListStore struct {
	mu         sync.Mutex
	lists      map[string][]string
	sets       map[string]map[string]struct{}
	failWrites bool
	failReads  bool
	batches    int
}

func newFakeListStore() *fakeListStore {
	return &fakeListStore{
		lists: make(map[string][]string),
		sets:  make(map[string]map[string]struct{}),
	}
}

func (f *fakeListStore) PushTrimRegister(_ context.Context, registry string, pushes []cache.ListPush, members []string, maxLen int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failWrites {
		return errStoreDown
	}
	f.batches++
	for _, p := range pushes {
		list := append([]string{p.Value}, f.lists[p.Key]...)
		if len(list) > maxLen {
			list = list[:maxLen]
		}
		f.lists[p.Key] = list
	}
	if f.sets[registry] == nil {
		f.sets[registry] = make(map[string]struct{})
	}
	for _, m := range members {
		f.sets[registry][m] = struct{}{}
	}
	return nil
}

func (f *fakeListStore) RangeMany(_ context.Context, keys []string, start, stop int64) (map[string][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failReads {
		return nil, errStoreDown
	}
	out := make(map[string][]string, len(keys))
	for _, key := range keys {
		out[key] = sliceRange(f.lists[key], start, stop)
	}
	return out, nil
}

func (f *fakeListStore) Index(_ context.Context, key string, index int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failReads {
		return "", errStoreDown
	}
	list := f.lists[key]
	if index < 0 || int(index) >= len(list) {
		return "", cache.ErrCacheMiss
	}
	return list[index], nil
}

func (f *fakeListStore) Members(_ context.Context, registry string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failReads {
		return nil, errStoreDown
	}
	out := make([]string, 0, len(f.sets[registry]))
	for m := range f.sets[registry] {
		out = append(out, m)
	}
	return out, nil
}

func sliceRange(list []string, start, stop int64) []string {
	n := int64(len(list))
	if stop < 0 || stop >= n {
		stop = n - 1
	}
	if start >= n || start > stop {
		return []string{}
	}
	return append([]string(nil), list[start:stop+1]...)
}
