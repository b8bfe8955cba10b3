// Package server exposes the progress of a running search over a read-only HTTP API.
package server

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/culprit-dev/culprit/pkg/culprit"
	"github.com/dchest/uniuri"
	"github.com/gin-gonic/gin"
)

// A Server publishes the latest search progress snapshot and, once available, the
// final result. It never influences the search.
type Server struct {
	runID string

	mu       sync.RWMutex
	progress *culprit.Progress
	result   *culprit.Result
}

type progressResponse struct {
	RunID string `json:"runId"`

	Strategy   string                 `json:"strategy"`
	LastTested int                    `json:"lastTested"`
	Executions int                    `json:"executions"`
	Done       bool                   `json:"done"`
	Commits    []culprit.CommitStatus `json:"commits"`
}

type resultResponse struct {
	RunID string `json:"runId"`

	Index      int    `json:"index"`
	Hash       string `json:"hash"`
	Message    string `json:"message"`
	Reproduced bool   `json:"reproduced"`
}

// New starts a status server on the given port and returns it. The returned server's
// Publish and SetResult methods feed it from the search goroutine.
func New(port int) (*Server, error) {
	s := &Server{runID: uniuri.New()}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.GET("/progress", s.getProgress)
	router.GET("/result", s.getResult)

	go router.Run(fmt.Sprintf("localhost:%d", port))
	return s, nil
}

// Publish records the latest progress snapshot.
func (s *Server) Publish(p culprit.Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = &p
}

// SetResult records the final search result.
func (s *Server) SetResult(r *culprit.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result = r
}

func (s *Server) getProgress(c *gin.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.progress == nil {
		c.JSON(http.StatusNoContent, nil)
		return
	}
	c.JSON(http.StatusOK, progressResponse{
		RunID: s.runID,

		Strategy:   s.progress.Strategy,
		LastTested: s.progress.LastTested,
		Executions: s.progress.Executions,
		Done:       s.progress.Done,
		Commits:    s.progress.Commits,
	})
}

func (s *Server) getResult(c *gin.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.result == nil {
		c.JSON(http.StatusNoContent, nil)
		return
	}
	c.JSON(http.StatusOK, resultResponse{
		RunID: s.runID,

		Index:      s.result.Index,
		Hash:       s.result.Commit.Hash,
		Message:    s.result.Commit.Message,
		Reproduced: s.result.Reproduced,
	})
}
