package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"
	"moff.io/walletconnect-sign/internal/auth"
	"moff.io/walletconnect-sign/internal/config"
	"moff.io/walletconnect-sign/internal/jsonrpc"
	"moff.io/walletconnect-sign/internal/namespace"
	"moff.io/walletconnect-sign/internal/sign"
	"moff.io/walletconnect-sign/internal/store"
	"moff.io/walletconnect-sign/pkg/errors"
	"moff.io/walletconnect-sign/pkg/log"
	"moff.io/walletconnect-sign/pkg/log/middleware"
)

// Signer is the part of the sign client exposed over HTTP.
type Signer interface {
	CreatePairing(ctx context.Context) (*store.Pairing, *sign.PairingURI, error)
	Pair(ctx context.Context, uri string) (*store.Pairing, error)
	GetPairings(ctx context.Context) ([]*store.Pairing, error)
	GetPendingProposals(ctx context.Context) ([]*store.Proposal, error)
	Approve(ctx context.Context, proposalID jsonrpc.RPCID, namespaces map[string]namespace.SessionNamespace, opts sign.ApproveOptions) (*store.Session, error)
	Reject(ctx context.Context, proposalID jsonrpc.RPCID, reason sign.Reason) error
	GetSessions(ctx context.Context) ([]*store.Session, error)
	GetPendingRequests(ctx context.Context, topic string) ([]*store.RequestRecord, error)
	Request(ctx context.Context, r sign.Request) (jsonrpc.RPCID, error)
	RespondSessionRequest(ctx context.Context, topic string, id jsonrpc.RPCID, r sign.Response) error
	Disconnect(ctx context.Context, topic string, reason sign.Reason) error
}

const (
	defaultListen   = ":8080"
	requestTimeout  = 30 * time.Second
	shutdownTimeout = 5 * time.Second
	qrSize          = 256
)

type Server struct {
	signer  Signer
	limiter middleware.Limiter
	listen  string
	router  *gin.Engine
	srv     *http.Server

	// uris 本进程创建的配对链接，用于生成二维码
	mu   sync.RWMutex
	uris map[string]string
}

// NewServer builds the router; limiter may be nil.
func NewServer(signer Signer, limiter middleware.Limiter) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		signer:  signer,
		limiter: limiter,
		listen:  defaultListen,
		uris:    make(map[string]string),
	}
	router := gin.New()
	router.Use(middleware.RecoveredHTTPLog(), middleware.TimeoutHTTP(requestTimeout), middleware.RateLimitHTTP(limiter))
	router.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, map[string]interface{}{"code": 0, "msg": "ok"})
	})
	router.POST("/pairings", s.createPairing)
	router.GET("/pairings", s.listPairings)
	router.GET("/pairings/:topic/qr", s.pairingQR)
	router.GET("/proposals", s.listProposals)
	router.POST("/proposals/:id/approve", s.approveProposal)
	router.POST("/proposals/:id/reject", s.rejectProposal)
	router.GET("/sessions", s.listSessions)
	router.GET("/sessions/:topic/requests", s.pendingRequests)
	router.POST("/sessions/:topic/requests", s.sendRequest)
	router.POST("/sessions/:topic/requests/:id/response", s.respondRequest)
	router.DELETE("/sessions/:topic", s.disconnect)
	s.router = router
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Apply(conf *config.Configuration) {
	if conf.HTTP.Listen != "" {
		s.listen = conf.HTTP.Listen
	}
}

// Start serves in the background and shuts down once ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.srv = &http.Server{Addr: s.listen, Handler: s.router}
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(errors.WrapAndReport(err, "http server"))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			log.Warnf("shutdown http server:%v", err)
		}
	}()
	log.Infof("HTTP server listening on %v...", s.listen)
	return nil
}

func ok(ctx *gin.Context, data interface{}) {
	ctx.JSON(http.StatusOK, map[string]interface{}{
		"code": 0,
		"msg":  "ok",
		"data": data,
	})
}

func fail(ctx *gin.Context, err error) {
	status, code := http.StatusInternalServerError, 5000
	switch {
	case errors.Is(err, sign.ErrNoSessionMatchingTopic), errors.Is(err, sign.ErrNoPairingMatchingTopic),
		errors.Is(err, sign.ErrNoProposal), errors.Is(err, sign.ErrRequestNotFound):
		status, code = http.StatusNotFound, 4040
	case errors.Is(err, sign.ErrUnauthorized):
		status, code = http.StatusForbidden, 4030
	case sign.IsProtocolError(err):
		status, code = http.StatusBadRequest, 4000
	case sign.IsTransportError(err):
		status, code = http.StatusBadGateway, 5020
	}
	ctx.JSON(status, map[string]interface{}{
		"code": code,
		"msg":  err.Error(),
	})
}

func badRequest(ctx *gin.Context, msg string) {
	ctx.JSON(http.StatusBadRequest, map[string]interface{}{
		"code": 4000,
		"msg":  msg,
	})
}

type pairRequest struct {
	URI string `json:"uri"`
}

// createPairing creates a new pairing, or joins the one in the body's uri.
func (s *Server) createPairing(ctx *gin.Context) {
	var req pairRequest
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			badRequest(ctx, err.Error())
			return
		}
	}
	if req.URI != "" {
		p, err := s.signer.Pair(ctx.Request.Context(), req.URI)
		if err != nil {
			fail(ctx, err)
			return
		}
		ok(ctx, map[string]interface{}{"pairing": p})
		return
	}
	p, uri, err := s.signer.CreatePairing(ctx.Request.Context())
	if err != nil {
		fail(ctx, err)
		return
	}
	s.mu.Lock()
	s.uris[p.Topic] = uri.String()
	s.mu.Unlock()
	ok(ctx, map[string]interface{}{"pairing": p, "uri": uri.String()})
}

func (s *Server) listPairings(ctx *gin.Context) {
	pairings, err := s.signer.GetPairings(ctx.Request.Context())
	if err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, pairings)
}

func (s *Server) pairingQR(ctx *gin.Context) {
	s.mu.RLock()
	uri, found := s.uris[ctx.Param("topic")]
	s.mu.RUnlock()
	if !found {
		fail(ctx, sign.ErrNoPairingMatchingTopic)
		return
	}
	png, err := qrcode.Encode(uri, qrcode.Medium, qrSize)
	if err != nil {
		fail(ctx, errors.Wrap(err, "encode qr"))
		return
	}
	ctx.Data(http.StatusOK, "image/png", png)
}

func (s *Server) listProposals(ctx *gin.Context) {
	proposals, err := s.signer.GetPendingProposals(ctx.Request.Context())
	if err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, proposals)
}

type approveBody struct {
	Namespaces        map[string]namespace.SessionNamespace `json:"namespaces" binding:"required"`
	SessionProperties map[string]string                     `json:"sessionProperties"`
	ScopedProperties  map[string]string                     `json:"scopedProperties"`
	Auths             []auth.Cacao                          `json:"auths"`
}

func (s *Server) approveProposal(ctx *gin.Context) {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		badRequest(ctx, "invalid proposal id")
		return
	}
	var body approveBody
	if err := ctx.ShouldBindJSON(&body); err != nil {
		badRequest(ctx, err.Error())
		return
	}
	session, err := s.signer.Approve(ctx.Request.Context(), id, body.Namespaces, sign.ApproveOptions{
		SessionProperties: body.SessionProperties,
		ScopedProperties:  body.ScopedProperties,
		Auths:             body.Auths,
	})
	if err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, session)
}

func (s *Server) rejectProposal(ctx *gin.Context) {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		badRequest(ctx, "invalid proposal id")
		return
	}
	if err := s.signer.Reject(ctx.Request.Context(), id, sign.ReasonUserRejected); err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, nil)
}

func (s *Server) listSessions(ctx *gin.Context) {
	sessions, err := s.signer.GetSessions(ctx.Request.Context())
	if err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, sessions)
}

func (s *Server) pendingRequests(ctx *gin.Context) {
	records, err := s.signer.GetPendingRequests(ctx.Request.Context(), ctx.Param("topic"))
	if err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, records)
}

type sendRequestBody struct {
	Method          string          `json:"method" binding:"required"`
	Params          json.RawMessage `json:"params"`
	ChainID         string          `json:"chainId" binding:"required"`
	ExpiryTimestamp int64           `json:"expiryTimestamp"`
}

func (s *Server) sendRequest(ctx *gin.Context) {
	var body sendRequestBody
	if err := ctx.ShouldBindJSON(&body); err != nil {
		badRequest(ctx, err.Error())
		return
	}
	var params interface{} = body.Params
	if len(body.Params) == 0 {
		params = []interface{}{}
	}
	id, err := s.signer.Request(ctx.Request.Context(), sign.Request{
		Topic:           ctx.Param("topic"),
		Method:          body.Method,
		Params:          params,
		ChainID:         body.ChainID,
		ExpiryTimestamp: body.ExpiryTimestamp,
	})
	if err != nil {
		fail(ctx, err)
		return
	}
	// id超过js安全整数范围，按字符串返回
	ok(ctx, map[string]interface{}{"id": strconv.FormatInt(id, 10)})
}

type respondBody struct {
	Result json.RawMessage `json:"result"`
	Error  *jsonrpc.Error  `json:"error"`
}

func (s *Server) respondRequest(ctx *gin.Context) {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		badRequest(ctx, "invalid request id")
		return
	}
	var body respondBody
	if err := ctx.ShouldBindJSON(&body); err != nil {
		badRequest(ctx, err.Error())
		return
	}
	if (body.Error == nil) == (len(body.Result) == 0) {
		badRequest(ctx, "exactly one of result and error is required")
		return
	}
	resp := sign.Response{Error: body.Error}
	if body.Error == nil {
		resp.Result = body.Result
	}
	if err := s.signer.RespondSessionRequest(ctx.Request.Context(), ctx.Param("topic"), id, resp); err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, nil)
}

func (s *Server) disconnect(ctx *gin.Context) {
	topic := ctx.Param("topic")
	if err := s.signer.Disconnect(ctx.Request.Context(), topic, sign.ReasonUserDisconnected); err != nil {
		fail(ctx, err)
		return
	}
	s.mu.Lock()
	delete(s.uris, topic)
	s.mu.Unlock()
	ok(ctx, nil)
}
