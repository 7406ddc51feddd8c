package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/afero"

	"github.com/carzbazzar/api/internal/client"
	"github.com/carzbazzar/api/internal/handler"
	"github.com/carzbazzar/api/internal/media"
	"github.com/carzbazzar/api/internal/middleware"
	"github.com/carzbazzar/api/internal/queue"
	"github.com/carzbazzar/api/internal/service"
	"github.com/carzbazzar/api/internal/state"
	"github.com/carzbazzar/api/internal/store"
	ws "github.com/carzbazzar/api/internal/websocket"
)

const testJWTSecret = "test-secret-for-e2e"

// flakyStorage wraps the mock storage and rejects the next N uploads
type flakyStorage struct {
	*client.MockStorage
	failures atomic.Int32
}

func (f *flakyStorage) Put(ctx context.Context, in client.PutInput) (string, error) {
	if f.failures.Add(-1) >= 0 {
		return "", errors.New("connection reset by peer")
	}
	f.failures.Store(0)
	return f.MockStorage.Put(ctx, in)
}

// pausableTrigger runs the queue inline unless paused
type pausableTrigger struct {
	inline *service.InlineTrigger
	paused atomic.Bool
}

func (p *pausableTrigger) Trigger(ctx context.Context) error {
	if p.paused.Load() {
		return nil
	}
	return p.inline.Trigger(ctx)
}

// testApp holds all components needed for testing
type testApp struct {
	app     *fiber.App
	storage *flakyStorage
	trigger *pausableTrigger
	manager *queue.Manager
	docs    *store.MemoryDocuments
}

var hubOnce sync.Once
var hub *ws.Hub

// setupApp creates a Fiber app wired like main.go, with in-memory documents,
// mock storage, an in-memory media filesystem and in-process processing.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	hubOnce.Do(func() {
		hub = ws.NewHub()
		go hub.Run()
	})

	validate := validator.New()

	storage := &flakyStorage{MockStorage: client.NewMockStorage()}
	docs := store.NewMemoryDocuments()
	appState := state.New()
	mediaStore := media.NewStore(afero.NewMemMapFs(), "/media")

	manager := queue.NewManager(appState, storage, docs, mediaStore, queue.WithNotifier(hub))

	trigger := &pausableTrigger{inline: service.NewInlineTrigger(manager)}
	t.Cleanup(trigger.inline.Wait)

	// Services
	uploadService := service.NewUploadService(appState, manager, mediaStore, trigger)
	inspectionService := service.NewInspectionService(appState, docs, storage, manager, uploadService, trigger)

	// Handlers
	inspectionHandler := handler.NewInspectionHandler(inspectionService, validate)
	uploadHandler := handler.NewUploadHandler(uploadService, validate)

	authMiddleware := middleware.NewAuthMiddleware(testJWTSecret)

	app := fiber.New(fiber.Config{
		BodyLimit: 210 * 1024 * 1024,
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"redis":     false,
				"storage":   "mock",
				"documents": "memory",
				"queued":    len(manager.Tasks()),
			},
		})
	})

	api := app.Group("/api", authMiddleware.Authenticate())

	inspections := api.Group("/inspections")
	inspections.Post("/", inspectionHandler.Create)
	inspections.Get("/", inspectionHandler.List)
	inspections.Get("/:inspectionId", inspectionHandler.Get)
	inspections.Delete("/:inspectionId", inspectionHandler.Delete)
	inspections.Post("/:inspectionId/complete", inspectionHandler.Complete)
	inspections.Put("/:inspectionId/sections/:sectionKey", inspectionHandler.SaveSection)
	inspections.Put("/:inspectionId/car-details", inspectionHandler.SaveCarDetails)
	inspections.Post("/:inspectionId/media", uploadHandler.Capture)

	uploads := api.Group("/uploads")
	uploads.Get("/", uploadHandler.List)
	uploads.Post("/process", uploadHandler.Process)
	uploads.Get("/:taskId", uploadHandler.Get)
	uploads.Post("/:taskId/retry", uploadHandler.Retry)
	uploads.Get("/:taskId/wait", uploadHandler.Wait)
	uploads.Delete("/:taskId", uploadHandler.Evict)

	return &testApp{
		app:     app,
		storage: storage,
		trigger: trigger,
		manager: manager,
		docs:    docs,
	}
}

// generateToken creates an HMAC JWT token for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	claims := middleware.UserClaims{
		UserID: "inspector-123",
		Phone:  "+919800000000",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: "carzbazzar-api",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	token := generateToken(t)
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// captureRequest builds a multipart capture request with a fake JPEG.
func captureRequest(t *testing.T, inspectionID, sectionKey, mediaType, remark string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	_ = writer.WriteField("sectionKey", sectionKey)
	_ = writer.WriteField("type", mediaType)
	_ = writer.WriteField("remark", remark)

	contentType := "image/jpeg"
	filename := "capture.jpg"
	if mediaType == "video" {
		contentType = "video/mp4"
		filename = "capture.mp4"
	}

	partHeader := make(textproto.MIMEHeader)
	partHeader.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	partHeader.Set("Content-Type", contentType)
	part, err := writer.CreatePart(partHeader)
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	_, _ = part.Write([]byte("\xff\xd8\xff\xe0"))
	_, _ = part.Write(make([]byte, 4096))

	writer.Close()

	req, err := http.NewRequest(http.MethodPost, "/api/inspections/"+inspectionID+"/media", &buf)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+generateToken(t))

	return req
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// assertErrorCode checks the error envelope code.
func assertErrorCode(t *testing.T, body map[string]interface{}, expected string) {
	t.Helper()
	errObj, ok := body["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected error envelope, got %v", body)
	}
	if errObj["code"] != expected {
		t.Errorf("expected error code %s, got %v", expected, errObj["code"])
	}
}

// createInspection opens an inspection and returns its id.
func createInspection(t *testing.T, ta *testApp) string {
	t.Helper()

	body := `{"owner":{"name":"Ravi Kumar","address":"12 MG Road","phone":"9800000000"}}`
	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/inspections", body)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, readBody(t, resp))
	}

	result := parseJSON(t, resp)
	id, _ := result["inspectionId"].(string)
	if id == "" {
		t.Fatalf("expected inspectionId in response: %v", result)
	}
	return id
}

// capture uploads a capture and returns the created task id.
func capture(t *testing.T, ta *testApp, inspectionID, sectionKey string) string {
	t.Helper()

	resp, err := ta.app.Test(captureRequest(t, inspectionID, sectionKey, "image", ""), -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, readBody(t, resp))
	}

	result := parseJSON(t, resp)
	task, _ := result["task"].(map[string]interface{})
	id, _ := task["id"].(string)
	if id == "" {
		t.Fatalf("expected task id in response: %v", result)
	}
	return id
}
