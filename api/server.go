package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"github.com/smartcontractkit/chainlink-common/pkg/services"

	"github.com/tomoswap/txsync/notify"
	"github.com/tomoswap/txsync/txm"
)

const shutdownTimeout = 5 * time.Second

// Backend is the wallet session the API reads from and writes to.
type Backend interface {
	Wallet() string
	AddNewPendingTransaction(ctx context.Context, req txm.TxRequest) (string, error)
	LastRecordedNonce(ctx context.Context) (uint64, bool, error)
	Get(ctx context.Context, id string) (*txm.TransactionRecord, error)
	ListByState(ctx context.Context, state txm.TxState) ([]*txm.TransactionRecord, error)
}

// Subscriber hands out event streams, see notify.Broadcaster.
type Subscriber interface {
	Subscribe(topics ...notify.Topic) (<-chan notify.Event, func())
}

// HealthFunc returns the health report of every running service.
type HealthFunc func() map[string]error

type Server struct {
	services.StateMachine
	lggr    logger.Logger
	addr    string
	backend Backend
	events  Subscriber
	health  HealthFunc
	router  *gin.Engine
	srv     *http.Server
	stop    services.StopChan
	done    chan struct{}
}

var _ services.Service = &Server{}

func NewServer(lggr logger.Logger, addr string, backend Backend, events Subscriber, health HealthFunc) *Server {
	s := &Server{
		lggr:    logger.Named(lggr, "API"),
		addr:    addr,
		backend: backend,
		events:  events,
		health:  health,
		stop:    make(services.StopChan),
		done:    make(chan struct{}),
	}
	s.router = s.newRouter()
	return s
}

func (s *Server) newRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.logRequests)

	r.GET("/health", s.getHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.POST("/transactions", s.postTransaction)
	v1.GET("/transactions", s.listTransactions)
	v1.GET("/transactions/:id", s.getTransaction)
	v1.GET("/nonce", s.getNonce)
	v1.GET("/events", s.streamEvents)
	return r
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Name() string {
	return s.lggr.Name()
}

func (s *Server) Start(context.Context) error {
	return s.StartOnce("API", func() error {
		ln, err := net.Listen("tcp", s.addr)
		if err != nil {
			return err
		}
		s.srv = &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
		s.lggr.Infow("listening", "address", ln.Addr().String())
		go func() {
			defer close(s.done)
			if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.lggr.Errorw("server stopped", "err", err)
			}
		}()
		return nil
	})
}

func (s *Server) Close() error {
	return s.StopOnce("API", func() error {
		// event streams never end on their own
		close(s.stop)
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := s.srv.Shutdown(ctx)
		<-s.done
		return err
	})
}

func (s *Server) HealthReport() map[string]error {
	return map[string]error{s.Name(): s.Healthy()}
}

func (s *Server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.lggr.Debugw("request", "method", c.Request.Method, "path", c.FullPath(),
		"status", c.Writer.Status(), "duration", time.Since(start))
}
