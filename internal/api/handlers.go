package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"

	"github.com/talgya/undercover/internal/state"
)

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	RunID              string    `json:"run_id"`
	Status             string    `json:"status"`
	StartedAt          time.Time `json:"started_at"`
	Uptime             string    `json:"uptime"`
	Gangs              int       `json:"gangs"`
	Members            int       `json:"members"`
	Informants         int       `json:"informants"`
	ActiveInformants   int       `json:"active_informants"`
	Thwarted           int       `json:"thwarted_plans"`
	Successful         int       `json:"successful_plans"`
	ExecutedInformants int       `json:"executed_informants"`
	LossThreshold      int       `json:"loss_threshold"`
	PoliceWinAt        int       `json:"police_win_at"`
	GangsWinAt         int       `json:"gangs_win_at"`
}

// GangSummary is one row of GET /api/v1/gangs.
type GangSummary struct {
	ID             int            `json:"id"`
	Members        int            `json:"members"`
	ByStatus       map[string]int `json:"by_status"`
	Informants     int            `json:"informants"`
	ActiveMissions int            `json:"active_missions"`
	Successful     int            `json:"successful_missions"`
	Failed         int            `json:"failed_missions"`
	PublishedAt    string         `json:"published,omitempty"`
}

// InformantRow is one row of GET /api/v1/informants.
type InformantRow struct {
	ID     int    `json:"id"`
	Status string `json:"status"`
}

func (s *Server) handleStatus(c *gin.Context) {
	snap, err := s.Sim.Store().Snapshot()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.statusOf(snap))
}

func (s *Server) statusOf(snap state.Snapshot) StatusResponse {
	resp := StatusResponse{
		RunID:              s.Sim.RunID(),
		Status:             snap.Status.String(),
		Gangs:              snap.GangCount,
		Informants:         len(snap.Informants),
		Thwarted:           snap.Thwarted,
		Successful:         snap.Successful,
		ExecutedInformants: snap.ExecutedInformants,
		LossThreshold:      snap.LossThreshold,
		Uptime:             "not started",
	}
	th := s.Sim.Thresholds()
	resp.PoliceWinAt, resp.GangsWinAt = th.Thwarted, th.Successful
	if started := s.Sim.StartedAt(); !started.IsZero() {
		resp.StartedAt = started
		resp.Uptime = strings.TrimSpace(humanize.RelTime(started, time.Now(), "", ""))
	}
	for _, st := range snap.Informants {
		if st == state.InformantActive {
			resp.ActiveInformants++
		}
	}
	for _, g := range snap.Gangs {
		resp.Members += len(g.Members)
	}
	return resp
}

func (s *Server) handleGangs(c *gin.Context) {
	snap, err := s.Sim.Store().Snapshot()
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]GangSummary, 0, len(snap.Gangs))
	for _, g := range snap.Gangs {
		sum := GangSummary{
			ID:             g.ID,
			Members:        len(g.Members),
			ByStatus:       make(map[string]int),
			ActiveMissions: g.ActiveMissions,
			Successful:     g.Successful,
			Failed:         g.Failed,
		}
		for _, m := range g.Members {
			sum.ByStatus[m.Status.String()]++
			if m.Informant {
				sum.Informants++
			}
		}
		if !g.PublishedAt.IsZero() {
			sum.PublishedAt = humanize.Time(g.PublishedAt)
		}
		out = append(out, sum)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleGang(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "gang id must be an integer"})
		return
	}
	v, err := s.Sim.Store().SnapshotGang(id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) handleInformants(c *gin.Context) {
	snap, err := s.Sim.Store().Snapshot()
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]InformantRow, len(snap.Informants))
	for id, st := range snap.Informants {
		out[id] = InformantRow{ID: id, Status: st.String()}
	}
	c.JSON(http.StatusOK, out)
}

type eventsQuery struct {
	Limit int    `form:"limit" binding:"omitempty,min=1,max=1000"`
	Since uint64 `form:"since"`
}

// handleEvents returns the newest events first. With since, it returns every
// retained event after that sequence number, oldest first.
func (s *Server) handleEvents(c *gin.Context) {
	var q eventsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var (
		events []state.Event
		err    error
	)
	if q.Since > 0 {
		events, err = s.Sim.Store().EventsSince(q.Since)
		if err == nil && q.Limit > 0 && len(events) > q.Limit {
			events = events[:q.Limit]
		}
	} else {
		limit := q.Limit
		if limit == 0 {
			limit = 50
		}
		events, err = s.Sim.Store().RecentEvents(limit)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

func (s *Server) handleShutdown(c *gin.Context) {
	sum := s.Sim.Shutdown()
	c.JSON(http.StatusOK, gin.H{
		"run_id":   sum.RunID,
		"status":   sum.Status.String(),
		"reason":   sum.Reason,
		"duration": sum.Duration.String(),
	})
}
