// Copyright 2026 The eyescan Authors. SPDX-License-Identifier: Apache-2.0

package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedant-zeus/eye1/internal/modeltest"
	"github.com/vedant-zeus/eye1/pkg/classes"
	"github.com/vedant-zeus/eye1/pkg/dataset"
	"github.com/vedant-zeus/eye1/pkg/hyperparams"
	"github.com/vedant-zeus/eye1/pkg/inference"
	"github.com/vedant-zeus/eye1/pkg/session"
	"github.com/vedant-zeus/eye1/pkg/training"
)

func newTestServer(t *testing.T, perClass int) (*Server, string) {
	gin.SetMode(gin.TestMode)
	root := modeltest.WriteDataset(t, t.TempDir(), perClass)
	return New(must.M1(session.New(modeltest.Backend())), Options{DataDir: root}), root
}

func do(t *testing.T, s *Server, method, target, contentType string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), "body: %s", w.Body.String())
	return v
}

func pngBytes(t *testing.T, label classes.Label) []byte {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, modeltest.SyntheticImage(label, 1, 40, 30)))
	return buf.Bytes()
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, 1)
	w := do(t, s, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["ready"])
	assert.Equal(t, s.session.ID.String(), body["session"])
}

func TestHyperparameters(t *testing.T) {
	s, _ := newTestServer(t, 1)
	w := do(t, s, http.MethodGet, "/api/hyperparameters", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[struct {
		Defaults hyperparams.Set  `json:"defaults"`
		Current  hyperparams.Set  `json:"current"`
		Schema   []map[string]any `json:"schema"`
	}](t, w)
	assert.True(t, hyperparams.Default().Equal(body.Defaults))
	assert.True(t, hyperparams.Default().Equal(body.Current))
	assert.Len(t, body.Schema, len(hyperparams.Schema()))
}

func TestTrainingData(t *testing.T) {
	s, root := newTestServer(t, 2)
	w := do(t, s, http.MethodGet, "/api/training-data", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	entries := decode[[]dataset.Entry](t, w)
	require.Len(t, entries, 2*classes.NumClasses)
	assert.Equal(t, dataset.Entry{Path: "/dataset/Bulging_Eyes/000.png", Label: classes.BulgingEyes}, entries[0])
	assert.Equal(t, classes.Uveitis, entries[len(entries)-1].Label)

	// Images are served under /dataset.
	w = do(t, s, http.MethodGet, entries[0].Path, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	_, err := png.Decode(w.Body)
	require.NoError(t, err)

	broken := New(must.M1(session.New(modeltest.Backend())), Options{DataDir: root + "/missing"})
	w = do(t, broken, http.MethodGet, "/api/training-data", "", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestTrainInvalid(t *testing.T) {
	s, _ := newTestServer(t, 1)
	w := do(t, s, http.MethodPost, "/api/train", "application/json", []byte(`{"convLayers": {"kernelSize": 4}}`))
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode[HTTPError](t, w).Error, hyperparams.FieldKernelSize)

	w = do(t, s, http.MethodPost, "/api/train", "application/json", []byte(`{"epochs": "many"`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInferNotReady(t *testing.T) {
	s, _ := newTestServer(t, 1)
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes(t, classes.Glaucoma))
	body, err := json.Marshal(map[string]string{"image": uri})
	require.NoError(t, err)
	w := do(t, s, http.MethodPost, "/api/inference", "application/json", body)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, decode[HTTPError](t, w).Error, inference.ErrModelNotReady.Error())

	w = do(t, s, http.MethodPost, "/api/inference", "application/json", []byte(`{"image": "/etc/passwd"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, s, http.MethodPost, "/api/inference", "application/json", []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTrainEvents(t *testing.T) {
	s, _ := newTestServer(t, 1)
	server := httptest.NewServer(s.Handler())
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/train/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	s.events.OnEpochEnd(training.EpochEvent{Epoch: 3, Loss: 0.5, Accuracy: 0.75})
	s.events.publish(Message{Type: MessageDone, Report: &training.Report{FinalAccuracy: 0.75}})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MessageEpoch, msg.Type)
	require.NotNil(t, msg.Event)
	assert.Equal(t, 3, msg.Event.Epoch)
	assert.Equal(t, 0.75, msg.Event.Accuracy)

	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MessageDone, msg.Type)
	require.NotNil(t, msg.Report)
	assert.Equal(t, 0.75, msg.Report.FinalAccuracy)
}

func multipartImage(t *testing.T, contents []byte) (string, []byte) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("image", "eye.png")
	require.NoError(t, err)
	_, err = fw.Write(contents)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return mw.FormDataContentType(), buf.Bytes()
}

func TestTrainAndInfer(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping training test in short mode")
	}
	s, _ := newTestServer(t, 2)
	small := modeltest.SmallHyperparameters()
	update, err := json.Marshal(hyperparams.Update{
		ConvLayers: &hyperparams.ConvLayersUpdate{Filters: small.ConvLayers.Filters},
		DenseUnits: hyperparams.Ptr(small.DenseUnits),
		BatchSize:  hyperparams.Ptr(small.BatchSize),
		Epochs:     hyperparams.Ptr(small.Epochs),
	})
	require.NoError(t, err)

	w := do(t, s, http.MethodPost, "/api/train", "application/json", update)
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	report := decode[training.Report](t, w)
	assert.Len(t, report.Epochs, small.Epochs)

	w = do(t, s, http.MethodGet, "/api/hyperparameters", "", nil)
	current := decode[struct {
		Current hyperparams.Set `json:"current"`
	}](t, w).Current
	assert.Equal(t, small.ConvLayers.Filters, current.ConvLayers.Filters)
	assert.Equal(t, small.DenseUnits, current.DenseUnits)

	contentType, body := multipartImage(t, pngBytes(t, classes.Cataracts))
	w = do(t, s, http.MethodPost, "/api/inference", contentType, body)
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	preds := decode[struct {
		Predictions []inference.Prediction `json:"predictions"`
	}](t, w).Predictions
	assert.Len(t, preds, classes.NumClasses)

	contentType, body = multipartImage(t, []byte("not an image"))
	w = do(t, s, http.MethodPost, "/api/inference", contentType, body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
