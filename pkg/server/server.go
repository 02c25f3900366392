package server

import (
	"context"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/vincent-vinf/go-jsend"
	"go.uber.org/zap"

	"pi-timelapse/pkg/schedule"
	"pi-timelapse/pkg/utils"
	"pi-timelapse/pkg/utils/image"
	"pi-timelapse/pkg/utils/ps"
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger()
}

type StatusSource interface {
	Snapshot() schedule.Status
}

type Status struct {
	Session schedule.Status `json:"session"`
	Disk    *ps.Disk        `json:"disk,omitempty"`
	Memory  *ps.Memory      `json:"memory,omitempty"`
}

type Server struct {
	src     StatusSource
	baseDir string
}

func New(src StatusSource, baseDir string) *Server {
	return &Server{src: src, baseDir: baseDir}
}

func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(utils.Cors())
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, jsend.SimpleErr("page not found"))
	})

	apiRouter := r.Group("/api")
	apiRouter.GET("/status", s.status)
	apiRouter.GET("/frames/latest", s.latestFrame)

	return r
}

// Serve runs the status api on port until ctx is done.
func Serve(ctx context.Context, port int, src StatusSource, baseDir string) {
	utils.ListenAndServe(ctx, New(src, baseDir).Handler(), port, "status")
}

func (s *Server) status(c *gin.Context) {
	res := Status{Session: s.src.Snapshot()}
	if d, err := ps.DiskStatus(s.baseDir); err != nil {
		logger.Debugf("disk status err: %s", err)
	} else {
		res.Disk = &d
	}
	if m, err := ps.MemoryStatus(); err != nil {
		logger.Debugf("memory status err: %s", err)
	} else {
		res.Memory = &m
	}

	c.JSON(http.StatusOK, jsend.Success(res))
}

func (s *Server) latestFrame(c *gin.Context) {
	p := s.src.Snapshot().LatestFrame
	if p == "" {
		c.JSON(http.StatusNotFound, jsend.SimpleErr("no frame captured yet"))
		return
	}
	frame, err := os.ReadFile(p)
	if err != nil {
		// images are removed once the session is finalized
		c.JSON(http.StatusNotFound, jsend.SimpleErr("latest frame is gone"))
		return
	}
	if w := c.Query("width"); w != "" {
		width, err := strconv.Atoi(w)
		if err != nil || width <= 0 {
			c.JSON(http.StatusBadRequest, jsend.SimpleErr("width must be a positive integer"))
			return
		}
		if frame, err = image.Thumbnail(frame, width); err != nil {
			internalErr(c, err)
			return
		}
	}

	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/jpeg", frame)
}

func internalErr(c *gin.Context, err error) {
	c.JSON(http.StatusInternalServerError, jsend.SimpleErr(err.Error()))
}
