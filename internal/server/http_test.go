package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/culprit-dev/culprit/pkg/culprit"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestProgressEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := &Server{runID: "test-run"}

	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	s.getProgress(c)
	assert.Equal(t, http.StatusNoContent, recorder.Code, "Unset progress should yield no content")

	s.Publish(culprit.Progress{
		Strategy:   culprit.StrategyBayesian,
		LastTested: 7,
		Executions: 42,
	})

	recorder = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(recorder)
	s.getProgress(c)
	assert.Equal(t, http.StatusOK, recorder.Code, "Published progress not served")

	var response progressResponse
	err := json.Unmarshal(recorder.Body.Bytes(), &response)
	assert.Nil(t, err, "Progress response is not valid json")
	assert.Equal(t, "test-run", response.RunID, "Wrong run id")
	assert.Equal(t, culprit.StrategyBayesian, response.Strategy, "Wrong strategy")
	assert.Equal(t, 7, response.LastTested, "Wrong last tested index")
	assert.Equal(t, 42, response.Executions, "Wrong execution count")
}

func TestResultEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := &Server{runID: "test-run"}

	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	s.getResult(c)
	assert.Equal(t, http.StatusNoContent, recorder.Code, "Unset result should yield no content")

	s.SetResult(&culprit.Result{
		Index:      9,
		Commit:     culprit.Commit{Hash: "547bd9c4dd", Message: "Fix lowering of volatile loads"},
		Reproduced: true,
	})

	recorder = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(recorder)
	s.getResult(c)
	assert.Equal(t, http.StatusOK, recorder.Code, "Set result not served")

	var response resultResponse
	err := json.Unmarshal(recorder.Body.Bytes(), &response)
	assert.Nil(t, err, "Result response is not valid json")
	assert.Equal(t, 9, response.Index, "Wrong culprit index")
	assert.Equal(t, "547bd9c4dd", response.Hash, "Wrong culprit hash")
	assert.True(t, response.Reproduced, "Result not marked reproduced")
}
