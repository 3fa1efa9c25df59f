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

package attributes

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/llm-d/llm-d-state-helper/internal/config"
)

// maxValueBytes bounds the body of an attribute write.
const maxValueBytes = 4096

// RegisterRoutes mounts the attribute endpoints on router:
//
//	GET /attributes               all groups as JSON
//	GET /attributes/:group/:name  the value followed by a newline
//	PUT /attributes/:group/:name  the body is the new value
func (r *Registry) RegisterRoutes(router gin.IRoutes) {
	router.GET("/attributes", r.handleList)
	router.GET("/attributes/:group/:name", r.handleShow)
	router.PUT("/attributes/:group/:name", r.handleStore)
}

func (r *Registry) handleList(c *gin.Context) {
	c.JSON(http.StatusOK, r.Values())
}

func (r *Registry) handleShow(c *gin.Context) {
	value, err := r.Show(c.Param("group"), c.Param("name"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.String(http.StatusOK, "%s\n", value)
}

func (r *Registry) handleStore(c *gin.Context) {
	group, name := c.Param("group"), c.Param("name")
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxValueBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}
	if len(body) > maxValueBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "value too large"})
		return
	}

	if err := r.Store(group, name, string(body)); err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			ctrl.Log.WithName("attributes").Error(err, "Attribute write failed", "group", group, "attribute", name)
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	value, err := r.Show(group, name)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.String(http.StatusOK, "%s\n", value)
}

func statusFor(err error) int {
	var validationErr *config.ValidationError
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrReadOnly):
		return http.StatusMethodNotAllowed
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
