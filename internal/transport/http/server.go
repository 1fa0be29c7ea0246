package loophttp

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"alphaforge/internal/history"
	"alphaforge/internal/loop"
	"alphaforge/internal/report"
)

// Server 暴露研究循环的控制与查询 API。
type Server struct {
	addr    string
	engine  *loop.Engine
	store   *history.Store
	builder *report.Builder
	router  *gin.Engine
}

// Config 描述 HTTP Server 的依赖。
type Config struct {
	Addr    string
	Engine  *loop.Engine
	Store   *history.Store
	Builder *report.Builder
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("engine 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9980"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		addr:    cfg.Addr,
		engine:  cfg.Engine,
		store:   cfg.Store,
		builder: cfg.Builder,
		router:  router,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.handleHealthz)
	api := s.router.Group("/api")
	api.POST("/loop/start", s.handleLoopStart)
	api.POST("/loop/stop", s.handleLoopStop)
	api.GET("/loop/status", s.handleLoopStatus)
	api.GET("/champion", s.handleChampion)
	api.GET("/iterations", s.handleIterations)
	api.GET("/iterations/:n", s.handleIteration)
	api.GET("/runs/:id/summary", s.handleSummary)
	api.POST("/report", s.handleReport)
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleLoopStart(c *gin.Context) {
	runID, err := s.engine.Start(context.Background())
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run_id": runID})
}

func (s *Server) handleLoopStop(c *gin.Context) {
	if !s.engine.Stop() {
		c.JSON(http.StatusConflict, gin.H{"error": "没有运行中的循环"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": s.engine.Status()})
}

func (s *Server) handleLoopStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": s.engine.Status()})
}

// handleChampion 返回冠军。带 run_id 时查历史库，否则取当前运行。
func (s *Server) handleChampion(c *gin.Context) {
	if runID := c.Query("run_id"); runID != "" {
		if s.store == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "历史存储未启用"})
			return
		}
		champ, err := s.store.Champion(runID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if champ == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "该运行没有有效策略"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"champion": champ})
		return
	}
	champ, rep := s.engine.Champion()
	if champ == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "还没有冠军策略"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"champion": champ, "report": rep})
}

func (s *Server) handleIterations(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "历史存储未启用"})
		return
	}
	runID := c.Query("run_id")
	if runID == "" {
		runID = s.engine.Status().RunID
	}
	if runID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "run_id 必填"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	recs, err := s.store.Iterations(runID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"iterations": recs})
}

func (s *Server) handleIteration(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "历史存储未启用"})
		return
	}
	n, err := strconv.Atoi(c.Param("n"))
	if err != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "迭代序号非法"})
		return
	}
	runID := c.Query("run_id")
	if runID == "" {
		runID = s.engine.Status().RunID
	}
	recs, err := s.store.Iteration(runID, n)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(recs) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "没有该轮记录"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"candidates": recs})
}

func (s *Server) handleSummary(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "历史存储未启用"})
		return
	}
	sum, err := s.store.Summarize(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": sum})
}

// handleReport 为当前冠军生成 HTML 报告。
func (s *Server) handleReport(c *gin.Context) {
	if s.builder == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "报告生成未启用"})
		return
	}
	champ, rep := s.engine.Champion()
	if champ == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "还没有冠军策略"})
		return
	}
	var recs []*history.IterationRecord
	if s.store != nil {
		recs, _ = s.store.Iterations(champ.RunID, 500, 0)
	}
	res, err := s.builder.Build(c.Request.Context(), report.Input{
		RunID:    champ.RunID,
		Champion: champ,
		Report:   rep,
		Records:  recs,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": res})
}

// Start 启动 HTTP 服务，阻塞直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
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

// Handler 暴露路由，测试用。
func (s *Server) Handler() http.Handler { return s.router }
