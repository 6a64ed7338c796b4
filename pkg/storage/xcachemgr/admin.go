package xcachemgr

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// AdminHandler 返回缓存管理 HTTP 接口：
//
//	GET /cache                 各缓存的容量和条目数（Info）
//	PUT /cache/clear[?name=x]  清空全部或指定缓存，返回清空前后的快照
//
// 其他方法返回 405。鉴权由宿主服务负责。
func AdminHandler(m *Manager) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /cache", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, m.Info(), m.opts.logger)
	})
	mux.HandleFunc("PUT /cache/clear", func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("name")
		if name == "" {
			writeJSON(w, http.StatusOK, m.ClearAll(r.Context()), m.opts.logger)
			return
		}
		report, err := m.ClearNamed(r.Context(), name)
		if errors.Is(err, ErrUnknownCache) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()}, m.opts.logger)
			return
		}
		writeJSON(w, http.StatusOK, report, m.opts.logger)
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("xcachemgr: write admin response failed", slog.Any("error", err))
	}
}
