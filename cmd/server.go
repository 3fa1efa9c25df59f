/*
Copyright 2025 The llm-d Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"

	"github.com/llm-d/llm-d-state-helper/internal/attributes"
	"github.com/llm-d/llm-d-state-helper/internal/controller"
	"github.com/llm-d/llm-d-state-helper/internal/logging"
)

// newRouter mounts the attribute surface, the status document, metrics and
// the health probes.
func newRouter(registry *attributes.Registry, c *controller.Controller, gatherer prometheus.Gatherer) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	registry.RegisterRoutes(router)
	c.RegisterRoutes(router)

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	live := &healthz.Handler{Checks: map[string]healthz.Checker{"ping": healthz.Ping}}
	ready := &healthz.Handler{Checks: map[string]healthz.Checker{"controller": c.ReadyCheck}}
	router.GET("/healthz", gin.WrapH(http.StripPrefix("/healthz", live)))
	router.GET("/readyz", gin.WrapH(http.StripPrefix("/readyz", ready)))
	return router
}

func requestLogger() gin.HandlerFunc {
	logger := ctrl.Log.WithName("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.V(logging.DEBUG).Info("Request served",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String())
	}
}
