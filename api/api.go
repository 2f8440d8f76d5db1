// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

// Package api exposes the cache over HTTP for the surrounding chat
// application.
package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/mattermost/qacache/audit"
	"github.com/mattermost/qacache/metrics"
	"github.com/mattermost/qacache/semanticcache"
)

type API struct {
	cache    *semanticcache.Cache
	recorder audit.Recorder
	metrics  metrics.Metrics
	log      *logrus.Logger
}

// New creates the API and its router. The recorder and metrics may be nil.
func New(cache *semanticcache.Cache, recorder audit.Recorder, m metrics.Metrics, log *logrus.Logger) *API {
	if log == nil {
		log = logrus.New()
	}

	return &API{
		cache:    cache,
		recorder: recorder,
		metrics:  m,
		log:      log,
	}
}

// Router builds the gin engine with all routes registered.
func (a *API) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(a.metricsMiddleware)

	router.GET("/health", a.handleHealth)
	if a.metrics != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.metrics.GetRegistry(), promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/api/v1")
	v1.POST("/lookup", a.handleLookup)
	v1.POST("/store", a.handleStore)
	v1.GET("/stats", a.handleStats)

	return router
}

func (a *API) metricsMiddleware(c *gin.Context) {
	start := time.Now()
	c.Next()

	if a.metrics != nil {
		a.metrics.ObserveAPIEndpointDuration(
			c.FullPath(),
			c.Request.Method,
			strconv.Itoa(c.Writer.Status()),
			time.Since(start).Seconds(),
		)
	}
}

func (a *API) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type lookupRequest struct {
	Question string `json:"question" binding:"required"`
}

// handleLookup runs a cache lookup. A miss is a normal 200 response with
// found=false; internal cache failures never surface as HTTP errors.
func (a *API) handleLookup(c *gin.Context) {
	var req lookupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithError(http.StatusBadRequest, fmt.Errorf("invalid lookup request: %w", err))
		return
	}

	start := time.Now()
	result := a.cache.Lookup(c.Request.Context(), req.Question)

	audit.Dispatch(a.recorder, a.log, audit.Record{
		Question:       req.Question,
		Answer:         result.Answer,
		CacheHit:       result.Found,
		Score:          result.Score,
		VectorID:       result.ID,
		ProcessingTime: time.Since(start),
	})

	c.JSON(http.StatusOK, result)
}

type storeRequest struct {
	Question string `json:"question" binding:"required"`
	Answer   string `json:"answer" binding:"required"`
}

func (a *API) handleStore(c *gin.Context) {
	var req storeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithError(http.StatusBadRequest, fmt.Errorf("invalid store request: %w", err))
		return
	}

	ok := a.cache.Store(c.Request.Context(), req.Question, req.Answer)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"stored": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{"stored": true})
}

func (a *API) handleStats(c *gin.Context) {
	stats, err := a.cache.Stats(c.Request.Context())
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, fmt.Errorf("failed to get cache stats: %w", err))
		return
	}

	c.JSON(http.StatusOK, stats)
}
