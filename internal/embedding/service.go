// Package embedding talks to an OpenAI-compatible embeddings endpoint and
// tracks pipeline health in a process-wide snapshot. The snapshot is an
// immutable struct swapped atomically, so readers never take a lock.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	apperrors "ctxstore/internal/errors"
)

// probeText is the fixed self-test input. Embedding it must produce a
// vector of the configured dimension before the pipeline reports healthy.
const probeText = "context memory self test probe"

// Status is the pipeline health snapshot surfaced verbatim by the detailed
// health endpoint.
type Status struct {
	BackendConnected bool   `json:"backend_connected"`
	ServiceLoaded    bool   `json:"service_loaded"`
	CollectionOK     bool   `json:"collection_ok"`
	SelfTestOK       bool   `json:"self_test_ok"`
	Error            string `json:"error,omitempty"`
}

// Service produces fixed-dimension dense vectors.
type Service struct {
	endpoint   string
	model      string
	dimensions int
	client     *http.Client
	logger     *zap.Logger
	status     atomic.Pointer[Status]
}

// New builds the service. The endpoint is the server base URL; the request
// path is the OpenAI-compatible /v1/embeddings.
func New(endpoint, model string, dimensions int, timeout time.Duration, logger *zap.Logger) *Service {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	s := &Service{
		endpoint:   endpoint,
		model:      model,
		dimensions: dimensions,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
	}
	s.status.Store(&Status{})
	return s
}

// Dimensions returns the configured vector dimension.
func (s *Service) Dimensions() int { return s.dimensions }

// Model returns the configured model name.
func (s *Service) Model() string { return s.model }

// Status returns the current pipeline snapshot.
func (s *Service) Status() Status { return *s.status.Load() }

// Ready reports whether the write path may attempt embeds. A not-ready
// pipeline maps to embedding_status "unavailable" instead of "failed".
func (s *Service) Ready() bool {
	st := s.status.Load()
	return st.ServiceLoaded && st.SelfTestOK
}

// SetCollectionOK records the vector collection check, which runs outside
// this package. The snapshot is copied and swapped, never mutated in place.
func (s *Service) SetCollectionOK(ok bool, message string) {
	cur := *s.status.Load()
	cur.CollectionOK = ok
	if !ok && message != "" {
		cur.Error = message
	}
	s.status.Store(&cur)
}

// SelfTest embeds the probe string and replaces the status snapshot with
// the outcome. Called at startup and on re-initialization.
func (s *Service) SelfTest(ctx context.Context) Status {
	st := Status{CollectionOK: s.status.Load().CollectionOK}

	vec, err := s.Embed(ctx, probeText)
	switch {
	case err == nil:
		st.BackendConnected = true
		st.ServiceLoaded = true
		st.SelfTestOK = len(vec) == s.dimensions
		if !st.SelfTestOK {
			st.Error = fmt.Sprintf("self-test produced %d dimensions, configured %d", len(vec), s.dimensions)
		}
	case apperrors.IsUnavailable(err):
		st.Error = err.Error()
	default:
		st.BackendConnected = true
		st.Error = err.Error()
	}

	s.status.Store(&st)
	if st.SelfTestOK {
		s.logger.Info("embedding self-test passed",
			zap.String("model", s.model),
			zap.Int("dimensions", s.dimensions),
		)
	} else {
		s.logger.Warn("embedding self-test failed", zap.String("error", st.Error))
	}
	return st
}

// Embed produces one vector of the configured dimension.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, apperrors.NewInternal(fmt.Sprintf("embedding server returned %d vectors for one input", len(vecs)), nil)
	}
	return vecs[0], nil
}

// EmbedBatch produces one vector per input, in input order.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return s.embed(ctx, texts)
}

func (s *Service) embed(ctx context.Context, inputs []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: s.model, Input: inputs})
	if err != nil {
		return nil, apperrors.NewInternal("marshal embedding request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.NewInternal("build embedding request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, apperrors.NewUnavailable("embedding", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, apperrors.NewUnavailable("embedding",
			fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(snippet)))
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, apperrors.NewInternal("decode embedding response", err)
	}
	if len(result.Data) != len(inputs) {
		return nil, apperrors.NewInternal(
			fmt.Sprintf("embedding server returned %d vectors for %d inputs", len(result.Data), len(inputs)), nil)
	}

	vecs := make([][]float32, len(result.Data))
	for _, item := range result.Data {
		if item.Index < 0 || item.Index >= len(vecs) {
			return nil, apperrors.NewInternal(fmt.Sprintf("embedding index %d out of range", item.Index), nil)
		}
		if len(item.Embedding) != s.dimensions {
			return nil, apperrors.NewInternal(
				fmt.Sprintf("embedding has %d dimensions, configured %d", len(item.Embedding), s.dimensions), nil)
		}
		vecs[item.Index] = item.Embedding
	}
	return vecs, nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []embedItem `json:"data"`
}

type embedItem struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}
