package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"recipegen/internal/llm"
	"recipegen/internal/logger"
	"recipegen/internal/recipe"
	"recipegen/internal/schema"
)

// HTTPObserver 记录 HTTP 请求指标
type HTTPObserver interface {
	ObserveHTTP(method, route string, status int, d time.Duration)
}

// Options Handler 可选依赖
type Options struct {
	Store       recipe.RecipeStore // 为空时使用内存存储
	RateLimiter *RateLimiter       // 为空时不限流
	Observer    HTTPObserver
	Metrics     http.Handler // 挂载到 /metrics
}

// Handler API 处理器
type Handler struct {
	svc         *recipe.Service
	store       recipe.RecipeStore
	apiKeys     map[string]bool
	validate    *validator.Validate
	rateLimiter *RateLimiter
	observer    HTTPObserver
	metrics     http.Handler
}

const (
	maxRequestBodyBytes int64 = 1 << 20 // 1MB
	maxListLimit              = 200
)

// NewHandler 创建 Handler
func NewHandler(svc *recipe.Service, apiKeys []string, opts Options) *Handler {
	keyMap := make(map[string]bool)
	for _, key := range apiKeys {
		keyMap[key] = true
	}
	store := opts.Store
	if store == nil {
		store = recipe.NewMemoryStore()
	}
	return &Handler{
		svc:         svc,
		store:       store,
		apiKeys:     keyMap,
		validate:    validator.New(),
		rateLimiter: opts.RateLimiter,
		observer:    opts.Observer,
		metrics:     opts.Metrics,
	}
}

// Routes 注册路由
func (h *Handler) Routes(r chi.Router) {
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics)
	}
	r.Group(func(r chi.Router) {
		r.Use(h.metricsMiddleware)
		r.Get("/api/v1/health", h.Health)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware, h.rateLimitMiddleware)
			r.Get("/api/v1/models", h.Models)
			r.Post("/api/v1/recipes/generate", h.Generate)
			r.Get("/api/v1/recipes", h.List)
			r.Get("/api/v1/recipes/{id}", h.Get)
			r.Delete("/api/v1/recipes/{id}", h.Delete)
		})
	})
}

// authMiddleware API Key 认证
func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := extractAPIKey(r)
		if key == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "缺少 API Key")
			return
		}
		if !h.apiKeys[key] {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "API Key 无效")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractAPIKey(r *http.Request) string {
	if k := r.Header.Get("Authorization"); k != "" {
		if strings.HasPrefix(k, "Bearer ") {
			return strings.TrimPrefix(k, "Bearer ")
		}
	}
	return r.Header.Get("X-API-Key")
}

// metricsMiddleware 按路由模板记录状态码与耗时
func (h *Handler) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.observer == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.observer.ObserveHTTP(r.Method, route, status, time.Since(start))
	})
}

// Health 健康检查
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks": map[string]any{
			"service": map[string]string{"status": "ok"},
			"llm":     map[string]string{"status": "ok", "provider": h.svc.ProviderName()},
		},
	})
}

type providerModels struct {
	Name    string   `json:"name"`
	Default string   `json:"default_model"`
	Models  []string `json:"models"`
}

// Models 当前 provider 与全部已知模型
func (h *Handler) Models(w http.ResponseWriter, r *http.Request) {
	var providers []providerModels
	for _, name := range llm.Providers() {
		providers = append(providers, providerModels{
			Name:    name,
			Default: llm.DefaultModel(name),
			Models:  llm.SupportedModels(name),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"provider":      h.svc.ProviderName(),
		"default_model": h.svc.DefaultModel(),
		"providers":     providers,
	})
}

type generateRequest struct {
	recipe.Request `validate:"-"`
	Save           bool   `json:"save"`
	UserID         string `json:"user_id" validate:"max=128"`
}

type generateResponse struct {
	*recipe.Response
	ID string `json:"id,omitempty"`
}

// Generate 生成 recipe，save 为 true 时写入存储
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	if !strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Content-Type 必须为 application/json")
		return
	}

	var req generateRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "INVALID_REQUEST", "请求体过大")
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "请求体解析失败: "+err.Error())
		return
	}

	if err := h.validate.Struct(&req); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "参数校验失败: "+ve.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "参数校验失败")
		return
	}

	resp, err := h.svc.Generate(r.Context(), &req.Request)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	out := generateResponse{Response: resp}
	if req.Save {
		rec, err := recipe.NewRecord(resp.Parsed, req.UserID)
		if err == nil {
			out.ID, err = h.store.Save(r.Context(), rec)
		}
		if err != nil {
			logger.Error("保存 recipe 失败", "request_id", resp.RequestID, "error", err)
			writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// recordView 把 JSON 列作为对象输出
type recordView struct {
	recipe.Record
	JSON json.RawMessage `json:"json"`
}

func newRecordView(rec recipe.Record) recordView {
	v := recordView{Record: rec}
	if rec.JSON != "" {
		v.JSON = json.RawMessage(rec.JSON)
	}
	return v
}

// List 列表或搜索（q 非空时按标题匹配）
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := recipe.ListFilter{UserID: q.Get("user_id")}

	var err error
	if f.Limit, err = queryInt(q.Get("limit"), 0, maxListLimit); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "limit 无效")
		return
	}
	if f.Offset, err = queryInt(q.Get("offset"), 0, -1); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "offset 无效")
		return
	}

	var recs []recipe.Record
	if term := strings.TrimSpace(q.Get("q")); term != "" {
		recs, err = h.store.Search(r.Context(), term, f)
	} else {
		recs, err = h.store.List(r.Context(), f)
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}

	items := make([]recordView, 0, len(recs))
	for _, rec := range recs {
		items = append(items, newRecordView(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

// Get 读取单条 recipe
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.Get(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("user_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newRecordView(*rec))
}

// Delete 删除单条 recipe
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok, err := h.store.Delete(r.Context(), id, r.URL.Query().Get("user_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "recipe 不存在: "+id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// queryInt 解析非负整数；hi < 0 表示不设上限
func queryInt(s string, def, hi int) (int, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.New("invalid integer")
	}
	if hi >= 0 && n > hi {
		n = hi
	}
	return n, nil
}

type errorResponse struct {
	Code       string               `json:"code"`
	Message    string               `json:"message"`
	Violations schema.ViolationList `json:"violations,omitempty"`
	Raw        string               `json:"raw,omitempty"`
	Repaired   string               `json:"repaired,omitempty"`
}

// writeServiceError 把恢复流水线与存储错误映射为 HTTP 状态码
func writeServiceError(w http.ResponseWriter, err error) {
	var re *recipe.RecoveryError
	if errors.As(err, &re) {
		body := errorResponse{Code: string(re.Kind), Message: err.Error()}
		status := http.StatusInternalServerError
		switch re.Kind {
		case recipe.KindInvalidRequest:
			status = http.StatusBadRequest
		case recipe.KindTransport:
			status = http.StatusBadGateway
		case recipe.KindParse, recipe.KindSchema:
			status = http.StatusUnprocessableEntity
			body.Violations = re.Violations
			body.Raw = re.Raw
			body.Repaired = re.Repaired
		}
		writeJSON(w, status, body)
		return
	}

	switch {
	case errors.Is(err, recipe.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, recipe.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
