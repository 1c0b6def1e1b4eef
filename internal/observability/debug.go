package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// DebugServer exposes /healthz and /metrics over loopback HTTP when a debug
// listen address is configured. It is not part of the session wire surface.
type DebugServer struct {
	addr    string
	started time.Time
	srv     *http.Server
	ln      net.Listener
}

func NewDebugServer(addr string) *DebugServer {
	return &DebugServer{addr: addr, started: time.Now()}
}

// Addr reports the bound listen address once Start has returned.
func (d *DebugServer) Addr() string {
	if d.ln == nil {
		return d.addr
	}
	return d.ln.Addr().String()
}

func (d *DebugServer) router() *gin.Engine {
	RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log.Logger))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(d.started).String(),
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// Start begins serving in the background. Returns once the listener is bound.
func (d *DebugServer) Start() error {
	ln, err := net.Listen("tcp", d.addr)
	if err != nil {
		return err
	}
	d.ln = ln
	d.srv = &http.Server{Handler: d.router()}
	go func() {
		if err := d.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", d.Addr()).Msg("observability.debug serve")
		}
	}()
	log.Info().Str("addr", d.Addr()).Msg("observability.debug listening")
	return nil
}

func (d *DebugServer) Shutdown(ctx context.Context) error {
	if d.srv == nil {
		return nil
	}
	return d.srv.Shutdown(ctx)
}
