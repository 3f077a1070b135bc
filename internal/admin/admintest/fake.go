// Package admintest 提供内存版 Redis 后端，供各包测试使用。
package admintest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Backend 是 admin.Backend 的内存实现，不处理过期时间。
type Backend struct {
	mu      sync.Mutex
	strings map[string]string
	hashes  map[string]map[string]string

	published []Message

	// Err 非空时所有命令都返回该错误。
	Err error
}

// Message 是一条 Publish 记录。
type Message struct {
	Channel string
	Payload string
}

// NewBackend 创建空的内存后端。
func NewBackend() *Backend {
	return &Backend{
		strings: map[string]string{},
		hashes:  map[string]map[string]string{},
	}
}

func toString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	default:
		return fmt.Sprint(val)
	}
}

func (b *Backend) HGetAll(_ context.Context, key string) *redis.MapStringStringCmd {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Err != nil {
		return redis.NewMapStringStringResult(nil, b.Err)
	}
	out := map[string]string{}
	for k, v := range b.hashes[key] {
		out[k] = v
	}
	return redis.NewMapStringStringResult(out, nil)
}

func (b *Backend) HSet(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Err != nil {
		return redis.NewIntResult(0, b.Err)
	}
	if len(values)%2 != 0 {
		return redis.NewIntResult(0, fmt.Errorf("hset: odd number of arguments"))
	}
	h, ok := b.hashes[key]
	if !ok {
		h = map[string]string{}
		b.hashes[key] = h
	}
	var added int64
	for i := 0; i < len(values); i += 2 {
		field := toString(values[i])
		if _, exists := h[field]; !exists {
			added++
		}
		h[field] = toString(values[i+1])
	}
	return redis.NewIntResult(added, nil)
}

func (b *Backend) Get(_ context.Context, key string) *redis.StringCmd {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Err != nil {
		return redis.NewStringResult("", b.Err)
	}
	v, ok := b.strings[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (b *Backend) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Err != nil {
		return redis.NewStatusResult("", b.Err)
	}
	b.strings[key] = toString(value)
	return redis.NewStatusResult("OK", nil)
}

func (b *Backend) SetNX(_ context.Context, key string, value interface{}, _ time.Duration) *redis.BoolCmd {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Err != nil {
		return redis.NewBoolResult(false, b.Err)
	}
	if _, ok := b.strings[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	b.strings[key] = toString(value)
	return redis.NewBoolResult(true, nil)
}

func (b *Backend) Del(_ context.Context, keys ...string) *redis.IntCmd {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Err != nil {
		return redis.NewIntResult(0, b.Err)
	}
	var n int64
	for _, k := range keys {
		if _, ok := b.strings[k]; ok {
			delete(b.strings, k)
			n++
		}
		if _, ok := b.hashes[k]; ok {
			delete(b.hashes, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

// Eval 只模拟刷新锁使用的比较后删除脚本：KEYS[1] 的值等于 ARGV[1] 时删除并返回 1。
func (b *Backend) Eval(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Err != nil {
		return redis.NewCmdResult(nil, b.Err)
	}
	if len(keys) != 1 || len(args) != 1 {
		return redis.NewCmdResult(nil, fmt.Errorf("eval: expected 1 key and 1 arg"))
	}
	if v, ok := b.strings[keys[0]]; ok && v == toString(args[0]) {
		delete(b.strings, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

// Expire 删除键以模拟过期，测试锁超时用。
func (b *Backend) Expire(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.strings, key)
}

// Value 直接读取字符串键，测试断言用。
func (b *Backend) Value(key string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.strings[key]
	return v, ok
}

// Publish 记录消息，返回订阅者数 1。
func (b *Backend) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Err != nil {
		return redis.NewIntResult(0, b.Err)
	}
	b.published = append(b.published, Message{Channel: channel, Payload: toString(message)})
	return redis.NewIntResult(1, nil)
}

// Published 返回已发布的消息副本。
func (b *Backend) Published() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Message, len(b.published))
	copy(out, b.published)
	return out
}
