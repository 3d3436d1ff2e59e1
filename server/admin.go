package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"realmarena/config"
	"realmarena/session"
)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// HandleAdminConfig 读取当前配置，POST 热更新回收阈值
// GET /admin/config
// POST /admin/config {"idleThreshold":"15m"}
func (s *Server) HandleAdminConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cur := *s.cfg
		cur.IdleThreshold = config.Duration{Duration: s.reaper.Threshold()}
		writeJSON(w, cur)
	case http.MethodPost:
		var body struct {
			IdleThreshold *config.Duration `json:"idleThreshold,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if body.IdleThreshold != nil {
			if body.IdleThreshold.Duration <= 0 {
				http.Error(w, "idleThreshold must be positive", http.StatusBadRequest)
				return
			}
			s.reaper.SetThreshold(body.IdleThreshold.Duration)
		}
		writeJSON(w, map[string]any{"ok": true, "idleThreshold": s.reaper.Threshold().String()})
		Log.Infof("config updated: idleThreshold=%s", s.reaper.Threshold())
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type roomStatsView struct {
	session.RoomStats
	Idle string `json:"idle"`
}

// HandleAdminStats 房间与玩家统计
// GET /admin/stats
func (s *Server) HandleAdminStats(w http.ResponseWriter, r *http.Request) {
	st := s.reg.Stats()
	now := s.clock()
	rooms := make([]roomStatsView, 0, len(st.PerRoom))
	for _, rs := range st.PerRoom {
		rooms = append(rooms, roomStatsView{
			RoomStats: rs,
			Idle:      humanize.RelTime(rs.LastActivity, now, "", ""),
		})
	}
	writeJSON(w, map[string]any{
		"rooms":       st.Rooms,
		"players":     st.Players,
		"connections": s.hub.Count(),
		"perRoom":     rooms,
	})
}

// HandleAdminReap 立即执行一次空闲回收
// POST /admin/reap
func (s *Server) HandleAdminReap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()
	n := s.reaper.ReapNow()
	writeJSON(w, map[string]any{"reaped": n, "took": time.Since(start).String()})
}
