package detect

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BrandonDHaskell/facegate/internal/facegate/geom"
)

// RemoteClient implements FaceDetector, SpoofClassifier, HandDetector and
// Embedder against an inference sidecar speaking JSON over HTTP. Images
// travel base64 encoded in the "image" field.
type RemoteClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewRemoteClient(baseURL string, timeout time.Duration, logger *zap.Logger) *RemoteClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RemoteClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

type imageRequest struct {
	Image string `json:"image"`
	Face  *Face  `json:"face,omitempty"`
}

func (c *RemoteClient) DetectFaces(ctx context.Context, f Frame) ([]Face, error) {
	var resp struct {
		Faces []Face `json:"faces"`
	}
	if err := c.postFrame(ctx, "/v1/faces", f, nil, &resp); err != nil {
		return nil, err
	}
	for i := range resp.Faces {
		if (resp.Faces[i].Center == geom.Point{}) && !resp.Faces[i].Box.Empty() {
			resp.Faces[i].Center = resp.Faces[i].Box.Center()
		}
	}
	return resp.Faces, nil
}

func (c *RemoteClient) Classify(ctx context.Context, f Frame) ([]SpoofVerdict, error) {
	var resp struct {
		Regions []SpoofVerdict `json:"regions"`
	}
	if err := c.postFrame(ctx, "/v1/spoof", f, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Regions, nil
}

func (c *RemoteClient) DetectHand(ctx context.Context, f Frame) (*Hand, error) {
	var resp struct {
		Hand *Hand `json:"hand"`
	}
	if err := c.postFrame(ctx, "/v1/hands", f, nil, &resp); err != nil {
		return nil, err
	}
	if h := resp.Hand; h != nil && (h.Center == geom.Point{}) {
		if p, ok := geom.Centroid(h.Landmarks); ok {
			h.Center = p
		} else if !h.Box.Empty() {
			h.Center = h.Box.Center()
		}
	}
	return resp.Hand, nil
}

func (c *RemoteClient) Embed(ctx context.Context, f Frame, face Face) ([]float64, error) {
	var resp struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := c.postFrame(ctx, "/v1/embed", f, &face, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("embed: empty embedding in response")
	}
	return resp.Embedding, nil
}

// HealthCheck verifies the sidecar is reachable.
func (c *RemoteClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute health check request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("health check failed with status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func (c *RemoteClient) postFrame(ctx context.Context, path string, f Frame, face *Face, out any) error {
	raw, err := encodedBytes(f)
	if err != nil {
		return err
	}

	body, err := json.Marshal(imageRequest{
		Image: base64.StdEncoding.EncodeToString(raw),
		Face:  face,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute %s request: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s failed with status %d: %s", path, resp.StatusCode, string(b))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}

	c.logger.Debug("detector call", zap.String("path", path), zap.Duration("dur", time.Since(start)))
	return nil
}
