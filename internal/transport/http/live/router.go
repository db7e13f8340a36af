package livehttp

import (
	"bufio"
	"context"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"deltabot/internal/store/journal"
	"deltabot/internal/types"
)

const maxLogLineSize = 1024 * 1024

// Router serves engine status, risk controls and the decision journal.
type Router struct {
	engine     EngineControl
	decisions  DecisionLog
	strategies StrategyCatalog
	logPaths   map[string]string
	logNames   []string
}

func NewRouter(eng EngineControl, decisions DecisionLog, strategies StrategyCatalog, logPaths map[string]string) *Router {
	names := make([]string, 0, len(logPaths))
	for name, path := range logPaths {
		if strings.TrimSpace(path) == "" || strings.TrimSpace(name) == "" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return &Router{engine: eng, decisions: decisions, strategies: strategies, logPaths: logPaths, logNames: names}
}

func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/status", r.handleStatus)
	group.GET("/positions", r.handlePositions)
	group.GET("/risk", r.handleRisk)
	group.POST("/risk/reset", r.handleRiskReset)
	group.POST("/risk/halt", r.handleRiskHalt)
	group.GET("/decisions", r.handleDecisions)
	group.GET("/strategies", r.handleStrategies)
	group.POST("/strategies/reload", r.handleStrategiesReload)
	group.GET("/logs", r.handleLogs)
}

func (r *Router) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.engine.Status())
}

func (r *Router) handlePositions(c *gin.Context) {
	st := r.engine.Status()
	symbol := strings.ToUpper(strings.TrimSpace(c.Query("symbol")))
	positions := make([]types.PositionSnapshot, 0, len(st.Positions))
	for _, p := range st.Positions {
		if symbol == "" || p.Symbol == symbol {
			positions = append(positions, p)
		}
	}
	c.JSON(http.StatusOK, gin.H{"at": st.At, "positions": positions})
}

func (r *Router) handleRisk(c *gin.Context) {
	st := r.engine.Status()
	c.JSON(http.StatusOK, gin.H{"at": st.At, "risk": st.Risk, "breaker": st.Breaker, "reset_pending": st.ResetPending})
}

func (r *Router) handleRiskReset(c *gin.Context) {
	req := bindReason(c)
	log.Warnf("risk reset requested ip=%s reason=%q", c.ClientIP(), req.Reason)
	r.engine.RequestReset(req.Reason)
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "applies": "next tick"})
}

func (r *Router) handleRiskHalt(c *gin.Context) {
	req := bindReason(c)
	log.Warnf("halt requested ip=%s reason=%q", c.ClientIP(), req.Reason)
	r.engine.RequestHalt(req.Reason)
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "applies": "next tick"})
}

// bindReason accepts a JSON body, a form or nothing at all.
func bindReason(c *gin.Context) riskActionRequest {
	var req riskActionRequest
	if c.Request.ContentLength != 0 {
		_ = c.ShouldBind(&req)
	}
	if req.Reason == "" {
		req.Reason = c.Query("reason")
	}
	req.Reason = strings.TrimSpace(req.Reason)
	return req
}

func (r *Router) handleDecisions(c *gin.Context) {
	if r.decisions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "decision journal disabled"})
		return
	}
	pageSize, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if pageSize <= 0 {
		pageSize = 100
	}
	if pageSize > 500 {
		pageSize = 500
	}
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	page, _ := strconv.Atoi(c.Query("page"))
	if page > 0 {
		offset = (page - 1) * pageSize
	} else {
		page = offset/pageSize + 1
	}
	q := journal.Query{
		Symbol:  c.Query("symbol"),
		Outcome: c.Query("outcome"),
		Limit:   pageSize,
		Offset:  offset,
	}
	if raw := strings.TrimSpace(c.Query("since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		q.Since = since
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	list, err := r.decisions.ListDecisions(ctx, q)
	if err != nil {
		log.Errorf("list decisions ip=%s: %v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	resp := gin.H{"decisions": list, "page": page, "limit": pageSize, "offset": offset}
	if parseBoolDefaultTrue(c.Query("include_count")) {
		total, err := r.decisions.CountDecisions(ctx, q)
		if err != nil {
			log.Warnf("count decisions: %v", err)
		} else {
			resp["total"] = total
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (r *Router) handleStrategies(c *gin.Context) {
	if r.strategies == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "strategy catalog unavailable"})
		return
	}
	snap := r.strategies.Snapshot()
	c.JSON(http.StatusOK, catalogView{
		Version:    snap.Version,
		LoadedAt:   snap.LoadedAt,
		Source:     snap.Source,
		Running:    r.engine.Status().StrategyVersion,
		Strategies: snap.Strategies,
	})
}

func (r *Router) handleStrategiesReload(c *gin.Context) {
	if r.strategies == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "strategy catalog unavailable"})
		return
	}
	if err := r.strategies.Reload(); err != nil {
		log.Warnf("strategy reload ip=%s rejected: %v", c.ClientIP(), err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": r.strategies.Snapshot().Version})
}

func (r *Router) handleLogs(c *gin.Context) {
	if len(r.logNames) == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no log files configured"})
		return
	}
	name := strings.TrimSpace(c.Query("name"))
	path := ""
	if name != "" {
		path = strings.TrimSpace(r.logPaths[name])
	}
	if path == "" {
		name = r.logNames[0]
		path = r.logPaths[name]
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))
	if limit <= 0 {
		limit = 200
	}
	lines, err := readLastLines(path, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "name": name})
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name, "lines": lines, "available": r.logNames})
}

func readLastLines(path string, limit int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLogLineSize)
	lines := make([]string, 0, limit)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > limit {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func parseBoolDefaultTrue(val string) bool {
	s := strings.TrimSpace(strings.ToLower(val))
	return s != "0" && s != "false"
}
