// Copyright 2026 The eyescan Authors. SPDX-License-Identifier: Apache-2.0

// Package api serves a session over HTTP: training, inference, the dataset manifest and the
// hyperparameter schema.
package api

import (
	"context"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/vedant-zeus/eye1/pkg/dataset"
	"github.com/vedant-zeus/eye1/pkg/hyperparams"
	"github.com/vedant-zeus/eye1/pkg/inference"
	"github.com/vedant-zeus/eye1/pkg/preprocess"
	"github.com/vedant-zeus/eye1/pkg/session"
	"github.com/vedant-zeus/eye1/pkg/training"
	"k8s.io/klog/v2"
)

// Options of the Server.
type Options struct {
	// DataDir is the dataset root used for training and the manifest.
	DataDir string

	// Training options of every run started with POST /api/train, such as early stopping.
	Training []training.Option
}

// Server handles the HTTP requests. Requests that use the session are serialized.
type Server struct {
	opts   Options
	router *gin.Engine
	events *hub

	mu       sync.Mutex // Protects session.
	session  *session.Session
	training atomic.Bool
}

// New creates the server for sess.
func New(sess *session.Session, opts Options) *Server {
	s := &Server{opts: opts, session: sess, events: newHub()}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger)
	r.MaxMultipartMemory = 8 << 20

	r.GET("/healthz", s.Health)
	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/hyperparameters", s.Hyperparameters)
		apiGroup.GET("/training-data", s.TrainingData)
		apiGroup.POST("/train", s.Train)
		apiGroup.GET("/train/events", s.TrainEvents)
		apiGroup.POST("/inference", s.Infer)
	}
	if opts.DataDir != "" {
		r.Static("/dataset", opts.DataDir)
	}
	s.router = r
	return s
}

// Handler returns the http.Handler of the server.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves on addr until ctx is done, and then shuts the server down.
func (s *Server) Run(ctx context.Context, addr string) error {
	server := &http.Server{Addr: addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()
	klog.Infof("serving on %s", addr)

	select {
	case err := <-errCh:
		return errors.Wrapf(err, "serving on %s", addr)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutting down server")
	}
	return nil
}

func requestLogger(c *gin.Context) {
	start := time.Now()
	c.Next()
	klog.V(1).Infof("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
}

// HTTPError is the body of error responses.
type HTTPError struct {
	Error string `json:"error"`
}

// Error writes err as a JSON error response.
func Error(c *gin.Context, status int, err error) {
	c.JSON(status, HTTPError{Error: err.Error()})
}

// statusOf maps errors of the core packages to HTTP status codes.
func statusOf(err error) int {
	var (
		validationErr  *hyperparams.ValidationError
		decodeErr      *preprocess.DecodeError
		unsupportedErr *preprocess.UnsupportedFormatError
	)
	switch {
	case errors.Is(err, inference.ErrModelNotReady):
		return http.StatusConflict
	case errors.As(err, &validationErr), errors.As(err, &decodeErr), errors.As(err, &unsupportedErr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Health reports whether the server is up and the session has a model.
func (s *Server) Health(c *gin.Context) {
	resp := gin.H{"status": "ok", "training": s.training.Load()}
	if s.mu.TryLock() {
		resp["session"] = s.session.ID.String()
		resp["ready"] = s.session.Ready()
		s.mu.Unlock()
	}
	c.JSON(http.StatusOK, resp)
}

// Hyperparameters returns the defaults, the current values and the schema.
func (s *Server) Hyperparameters(c *gin.Context) {
	s.mu.Lock()
	current := s.session.Hyperparameters()
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{
		"defaults": hyperparams.Default(),
		"current":  current,
		"schema":   hyperparams.Schema(),
	})
}

// TrainingData lists the images of the dataset, with their label. Paths are served under
// /dataset.
func (s *Server) TrainingData(c *gin.Context) {
	entries, err := dataset.Manifest(s.opts.DataDir, nil)
	if err != nil {
		Error(c, http.StatusInternalServerError, err)
		return
	}
	for i := range entries {
		entries[i].Path = path.Join("/dataset", entries[i].Path)
	}
	c.JSON(http.StatusOK, entries)
}

// Train trains a new model on the dataset. The body is an optional partial update of the
// current hyperparameters.
func (s *Server) Train(c *gin.Context) {
	var update hyperparams.Update
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&update); err != nil && !errors.Is(err, io.EOF) {
			Error(c, http.StatusBadRequest, errors.Wrap(err, "parsing hyperparameters"))
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	hp, err := s.session.Hyperparameters().Merge(update)
	if err != nil {
		Error(c, statusOf(err), err)
		return
	}
	ds, err := dataset.Load(s.opts.DataDir, nil)
	if err != nil {
		Error(c, http.StatusInternalServerError, err)
		return
	}

	s.training.Store(true)
	defer s.training.Store(false)
	klog.Infof("training on %s with %s", ds, hp)
	opts := append([]training.Option{training.WithListener(s.events)}, s.opts.Training...)
	report, err := s.session.Train(c.Request.Context(), ds, hp, opts...)
	if err != nil {
		s.events.publish(Message{Type: MessageError, Error: err.Error()})
		Error(c, statusOf(err), err)
		return
	}
	s.events.publish(Message{Type: MessageDone, Report: report})
	c.JSON(http.StatusOK, report)
}

type inferenceRequest struct {
	// Image is a data URI, e.g. "data:image/png;base64,...".
	Image string `json:"image" binding:"required"`
}

// Infer classifies the image given either as the multipart file "image" or as a JSON data URI.
func (s *Server) Infer(c *gin.Context) {
	var src preprocess.Source
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		file, _, err := c.Request.FormFile("image")
		if err != nil {
			Error(c, http.StatusBadRequest, errors.Wrap(err, "reading image file"))
			return
		}
		defer func() { _ = file.Close() }()
		contents, err := io.ReadAll(file)
		if err != nil {
			Error(c, http.StatusBadRequest, errors.Wrap(err, "reading image file"))
			return
		}
		src = contents
	} else {
		var req inferenceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			Error(c, http.StatusBadRequest, errors.Wrap(err, "parsing request"))
			return
		}
		// Plain strings would be read as local file paths.
		if !strings.HasPrefix(req.Image, "data:") {
			Error(c, http.StatusBadRequest, errors.New("image must be a data URI"))
			return
		}
		src = req.Image
	}

	s.mu.Lock()
	start := time.Now()
	preds, err := s.session.Predict(src)
	elapsed := time.Since(start)
	s.mu.Unlock()
	if err != nil {
		Error(c, statusOf(err), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"predictions": preds,
		"elapsedMs":   elapsed.Milliseconds(),
	})
}
