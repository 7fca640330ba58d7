package recipe

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultListLimit List/Search 未指定 limit 时的条数
const DefaultListLimit = 50

// Record 已保存的 recipe；JSON 为通过校验的原始结构
type Record struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id,omitempty"`
	Title      string    `json:"title"`
	Servings   int       `json:"servings"`
	Difficulty string    `json:"difficulty"`
	PrepMin    int       `json:"prep_min"`
	CookMin    int       `json:"cook_min"`
	TotalMin   int       `json:"total_min"`
	JSON       string    `json:"json"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ListFilter 列表过滤；UserID 非空时只返回该用户及无主的记录
type ListFilter struct {
	UserID string
	Limit  int
	Offset int
}

func (f ListFilter) limit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}

func (f ListFilter) offset() int {
	return max(f.Offset, 0)
}

// RecipeStore recipe 存储接口；只接收已通过校验的值
type RecipeStore interface {
	Save(ctx context.Context, rec Record) (string, error)
	Get(ctx context.Context, id, userID string) (*Record, error)
	List(ctx context.Context, f ListFilter) ([]Record, error)
	Search(ctx context.Context, q string, f ListFilter) ([]Record, error)
	Delete(ctx context.Context, id, userID string) (bool, error)
	Close() error // 关闭存储，释放资源
}

// NewRecord 从已通过校验的值提取索引列；total_min 缺省为 prep+cook
func NewRecord(parsed any, userID string) (Record, error) {
	obj, ok := parsed.(map[string]any)
	if !ok {
		return Record{}, fmt.Errorf("%w: recipe must be an object", ErrInvalidRequest)
	}
	blob, err := json.Marshal(obj)
	if err != nil {
		return Record{}, fmt.Errorf("marshal recipe: %w", err)
	}

	rec := Record{
		UserID:     userID,
		JSON:       string(blob),
		Servings:   toInt(obj["servings"]),
		Difficulty: toString(obj["difficulty"]),
		Title:      toString(obj["title"]),
	}
	if t, ok := obj["time"].(map[string]any); ok {
		rec.PrepMin = toInt(t["prep_min"])
		rec.CookMin = toInt(t["cook_min"])
		rec.TotalMin = toInt(t["total_min"])
	}
	if rec.TotalMin == 0 {
		rec.TotalMin = rec.PrepMin + rec.CookMin
	}
	return rec, nil
}

// Recipe 解码 JSON 列
func (r *Record) Recipe() (*Recipe, error) {
	var out Recipe
	if err := json.Unmarshal([]byte(r.JSON), &out); err != nil {
		return nil, fmt.Errorf("decode stored recipe %s: %w", r.ID, err)
	}
	return &out, nil
}

func toInt(v any) int {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
		if f, err := n.Float64(); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
			return int(f)
		}
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	}
	return 0
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func newRecordID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// visible 无主记录对所有用户可见
func visible(rec *Record, userID string) bool {
	return userID == "" || rec.UserID == "" || rec.UserID == userID
}

// MemoryStore 内存 recipe 存储
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*memEntry
	seq     int64
}

type memEntry struct {
	rec Record
	seq int64
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*memEntry)}
}

// Save 保存并返回新 id
func (m *MemoryStore) Save(_ context.Context, rec Record) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	rec.ID = newRecordID()
	rec.CreatedAt, rec.UpdatedAt = now, now
	m.seq++
	m.records[rec.ID] = &memEntry{rec: rec, seq: m.seq}
	return rec.ID, nil
}

// Get 获取单条记录
func (m *MemoryStore) Get(_ context.Context, id, userID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.records[id]
	if !ok || !visible(&e.rec, userID) {
		return nil, ErrNotFound
	}
	rec := e.rec
	return &rec, nil
}

// List 按创建时间倒序
func (m *MemoryStore) List(ctx context.Context, f ListFilter) ([]Record, error) {
	return m.Search(ctx, "", f)
}

// Search 标题大小写不敏感的子串匹配
func (m *MemoryStore) Search(_ context.Context, q string, f ListFilter) ([]Record, error) {
	q = strings.ToLower(q)
	m.mu.RLock()
	entries := make([]*memEntry, 0, len(m.records))
	for _, e := range m.records {
		if visible(&e.rec, f.UserID) && strings.Contains(strings.ToLower(e.rec.Title), q) {
			entries = append(entries, e)
		}
	}
	m.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq > entries[j].seq })

	out := make([]Record, 0)
	for i := f.offset(); i < len(entries) && len(out) < f.limit(); i++ {
		out = append(out, entries[i].rec)
	}
	return out, nil
}

// Delete 删除记录，返回是否存在
func (m *MemoryStore) Delete(_ context.Context, id, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.records[id]
	if !ok || !visible(&e.rec, userID) {
		return false, nil
	}
	delete(m.records, id)
	return true, nil
}

// Close 无资源需要释放
func (m *MemoryStore) Close() error {
	return nil
}
