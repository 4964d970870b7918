package backtest

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"backsim/internal/analysis/visual"
)

// HTTPServer 提供 Gin 接口，供前端触发拉取与回测、查询结果。
type HTTPServer struct {
	addr    string
	svc     *Service
	sim     *Simulator
	results ResultStore
	router  *gin.Engine
}

type HTTPConfig struct {
	Addr      string
	Svc       *Service
	Simulator *Simulator
	Results   ResultStore
}

func NewHTTPServer(cfg HTTPConfig) (*HTTPServer, error) {
	if cfg.Svc == nil {
		return nil, errors.New("service 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &HTTPServer{
		addr:    cfg.Addr,
		svc:     cfg.Svc,
		sim:     cfg.Simulator,
		results: cfg.Results,
		router:  router,
	}
	s.registerRoutes()
	return s, nil
}

// Router 暴露内部 router，测试用。
func (s *HTTPServer) Router() http.Handler { return s.router }

func (s *HTTPServer) registerRoutes() {
	s.router.GET("/", s.handleIndex)
	api := s.router.Group("/api/backtest")
	api.POST("/fetch", s.handleFetch)
	api.GET("/fetch/:id", s.handleFetchStatus)
	api.GET("/jobs", s.handleJobs)
	api.GET("/data", s.handleManifest)
	api.GET("/candles", s.handleCandles)
	api.GET("/strategies", s.handleStrategies)
	api.GET("/timeframes", s.handleTimeframes)
	api.POST("/runs", s.handleRunStart)
	api.GET("/runs", s.handleRunList)
	api.GET("/runs/:id", s.handleRunDetail)
	api.GET("/runs/:id/orders", s.handleRunOrders)
	api.GET("/runs/:id/trades", s.handleRunTrades)
	api.GET("/runs/:id/snapshots", s.handleRunSnapshots)
	api.GET("/runs/:id/skips", s.handleRunSkips)
	api.GET("/runs/:id/chart", s.handleRunChart)
}

func (s *HTTPServer) handleIndex(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":    "backsim",
		"timeframes": SupportedTimeframes(),
	})
}

func (s *HTTPServer) handleFetch(c *gin.Context) {
	var req struct {
		Exchange  string `json:"exchange"`
		Symbol    string `json:"symbol" binding:"required"`
		Timeframe string `json:"timeframe" binding:"required"`
		StartTS   int64  `json:"start_ts" binding:"required"`
		EndTS     int64  `json:"end_ts" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	job, err := s.svc.SubmitFetch(FetchParams{
		Exchange:  req.Exchange,
		Symbol:    req.Symbol,
		Timeframe: req.Timeframe,
		Start:     req.StartTS,
		End:       req.EndTS,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

func (s *HTTPServer) handleFetchStatus(c *gin.Context) {
	id := c.Param("id")
	job, ok := s.svc.JobSnapshot(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

func (s *HTTPServer) handleJobs(c *gin.Context) {
	list := s.svc.JobsSnapshot()
	c.JSON(http.StatusOK, gin.H{"jobs": list})
}

func (s *HTTPServer) handleManifest(c *gin.Context) {
	symbol := c.Query("symbol")
	tf := c.Query("timeframe")
	if symbol == "" || tf == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol/timeframe 必填"})
		return
	}
	info, err := s.svc.ManifestInfo(c.Request.Context(), symbol, tf)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"manifest": info})
}

func (s *HTTPServer) handleCandles(c *gin.Context) {
	symbol := c.Query("symbol")
	tf := c.Query("timeframe")
	if symbol == "" || tf == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol/timeframe 必填"})
		return
	}
	start, _ := strconv.ParseInt(c.Query("start_ts"), 10, 64)
	end, _ := strconv.ParseInt(c.Query("end_ts"), 10, 64)
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "200"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit 非法"})
		return
	}
	data, err := s.svc.QueryCandles(c.Request.Context(), symbol, tf, start, end, limit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"candles": data})
}

func (s *HTTPServer) handleStrategies(c *gin.Context) {
	if s.sim == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "模拟器未启用"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategies": s.sim.StrategyNames()})
}

func (s *HTTPServer) handleTimeframes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"timeframes": SupportedTimeframes()})
}

func (s *HTTPServer) handleRunStart(c *gin.Context) {
	if s.sim == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "模拟器未启用"})
		return
	}
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	run, err := s.sim.StartRun(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run": run})
}

func (s *HTTPServer) handleRunList(c *gin.Context) {
	if s.results == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "结果存储未启用"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := s.results.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *HTTPServer) handleRunDetail(c *gin.Context) {
	if s.results == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "结果存储未启用"})
		return
	}
	run, err := s.results.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

func (s *HTTPServer) handleRunOrders(c *gin.Context) {
	if s.results == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "结果存储未启用"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))
	orders, err := s.results.ListOrders(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *HTTPServer) handleRunTrades(c *gin.Context) {
	if s.results == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "结果存储未启用"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))
	trades, err := s.results.ListTrades(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *HTTPServer) handleRunSnapshots(c *gin.Context) {
	if s.results == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "结果存储未启用"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "2000"))
	snaps, err := s.results.ListSnapshots(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snaps})
}

func (s *HTTPServer) handleRunSkips(c *gin.Context) {
	if s.results == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "结果存储未启用"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "1000"))
	skips, err := s.results.ListSkips(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"skips": skips})
}

func (s *HTTPServer) handleRunChart(c *gin.Context) {
	if s.results == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "结果存储未启用"})
		return
	}
	run, err := s.results.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	snaps, err := s.results.ListSnapshots(c.Request.Context(), run.ID, 10000)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	points := make([]visual.EquityPoint, 0, len(snaps))
	for _, sn := range snaps {
		points = append(points, visual.EquityPoint{
			TS:       sn.TS,
			Equity:   sn.Equity,
			Drawdown: sn.Drawdown,
		})
	}
	html, err := visual.EquityChartHTML(visual.ChartInput{
		Title:    run.Symbol + " · " + run.Strategy,
		RunID:    run.ID,
		Points:   points,
		Result:   run.Result,
		Timezone: "Asia/Shanghai",
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", html)
}

// Start 启动 HTTP 服务，阻塞直到 ctx 取消或出现错误。
func (s *HTTPServer) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
