package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"recorte/pkg/crop"

	"github.com/gin-gonic/gin"
)

// minimalPDF is a valid one-page empty PDF (612x792pt) used for upload tests.
var minimalPDF = []byte("%PDF-1.4\n" +
	"1 0 obj\n<</Type/Catalog/Pages 2 0 R>>\nendobj\n" +
	"2 0 obj\n<</Type/Pages/Kids[3 0 R]/Count 1>>\nendobj\n" +
	"3 0 obj\n<</Type/Page/Parent 2 0 R/MediaBox[0 0 612 792]>>\nendobj\n" +
	"xref\n0 4\n" +
	"0000000000 65535 f \n" +
	"0000000009 00000 n \n" +
	"0000000054 00000 n \n" +
	"0000000105 00000 n \n" +
	"trailer\n<</Size 4/Root 1 0 R>>\nstartxref\n170\n%%EOF\n")

// helper to perform requests with auth token
func performRequest(r http.Handler, method, path string, body io.Reader, token string, contentType string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func setupTestServer(t *testing.T) *gin.Engine {
	// integration tests are opt-in. Set DB_DSN_TEST=1 and DB_DSN to run them.
	if os.Getenv("DB_DSN_TEST") != "1" {
		t.Skip("integration tests are disabled; set DB_DSN_TEST=1 to enable")
	}
	gin.SetMode(gin.TestMode)
	tmp := t.TempDir()
	_ = os.Setenv("UPLOAD_BASE", tmp)
	jwtSecret = []byte("test-secret")
	initDB()
	r := gin.Default()
	setupRoutes(r)
	return r
}

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return bytes.NewBuffer(b)
}

func TestFullFlow(t *testing.T) {
	r := setupTestServer(t)

	// 1. Register user
	resp := performRequest(r, http.MethodPost, "/register", jsonBody(t, map[string]string{"username": "user1", "password": "pass123"}), "", "application/json")
	if resp.Code != 200 && resp.Code != 409 {
		t.Fatalf("register failed status=%d body=%s", resp.Code, resp.Body.String())
	}

	// 2. Login
	resp = performRequest(r, http.MethodPost, "/login", jsonBody(t, map[string]string{"username": "user1", "password": "pass123"}), "", "application/json")
	if resp.Code != 200 {
		t.Fatalf("login failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var loginResp map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &loginResp)
	token, _ := loginResp["token"].(string)
	if token == "" {
		t.Fatalf("empty token in login response: %+v", loginResp)
	}

	// 3. Upload invoice PDF (multipart)
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	w, _ := mw.CreateFormFile("file", "fatura_cemig.pdf")
	_, _ = w.Write(minimalPDF)
	_ = mw.Close()
	resp = performRequest(r, http.MethodPost, "/invoices", buf, token, mw.FormDataContentType())
	if resp.Code != 200 {
		t.Fatalf("upload failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var upResp struct {
		ID    uint   `json:"id"`
		Pages int    `json:"pages"`
		Name  string `json:"file_name"`
	}
	_ = json.Unmarshal(resp.Body.Bytes(), &upResp)
	if upResp.ID == 0 || upResp.Pages != 1 {
		t.Fatalf("unexpected upload response: %s", resp.Body.String())
	}
	base := fmt.Sprintf("/invoices/%d", upResp.ID)

	// 4. List invoices
	resp = performRequest(r, http.MethodGet, "/invoices", nil, token, "")
	if resp.Code != 200 {
		t.Fatalf("list invoices failed status=%d body=%s", resp.Code, resp.Body.String())
	}

	// 5. Preview page as PNG
	resp = performRequest(r, http.MethodGet, base+"/preview?page=0&dpi=100", nil, token, "")
	if resp.Code != 200 {
		t.Fatalf("preview failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	if ct := resp.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("expected image/png got %s", ct)
	}

	// 6. Crop a valid region
	region := map[string]int{"page": 0, "dpi": 100, "x1": 10, "y1": 10, "x2": 200, "y2": 200}
	resp = performRequest(r, http.MethodPost, base+"/crop", jsonBody(t, region), token, "application/json")
	if resp.Code != 200 {
		t.Fatalf("crop failed status=%d body=%s", resp.Code, resp.Body.String())
	}

	// 7. Degenerate region is rejected with 422
	bad := map[string]int{"page": 0, "dpi": 100, "x1": 200, "y1": 10, "x2": 100, "y2": 200}
	resp = performRequest(r, http.MethodPost, base+"/crop", jsonBody(t, bad), token, "application/json")
	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for swapped region got %d body=%s", resp.Code, resp.Body.String())
	}

	// 8. Export config and parse it back
	export := map[string]any{"page": 0, "dpi": 100, "x1": 10, "y1": 10, "x2": 200, "y2": 200, "label": "CEMIG-test"}
	resp = performRequest(r, http.MethodPost, base+"/export", jsonBody(t, export), token, "application/json")
	if resp.Code != 200 {
		t.Fatalf("export failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	cfg, err := crop.Parse(resp.Body.Bytes())
	if err != nil {
		t.Fatalf("exported document does not parse: %v", err)
	}
	if cfg.Page != 1 || cfg.DPI != 100 || cfg.Coordinates != (crop.Rect{X1: 10, Y1: 10, X2: 200, Y2: 200}) {
		t.Fatalf("export round trip mismatch: %+v", cfg)
	}
	if cd := resp.Header().Get("Content-Disposition"); cd == "" {
		t.Fatalf("missing Content-Disposition header")
	}

	// 9. Built-in presets are seeded
	resp = performRequest(r, http.MethodGet, "/presets", nil, token, "")
	if resp.Code != 200 {
		t.Fatalf("list presets failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	if !bytes.Contains(resp.Body.Bytes(), []byte("CEMIG")) {
		t.Fatalf("expected seeded CEMIG preset in %s", resp.Body.String())
	}

	// 10. Unauthorized access to protected endpoint should be 401
	unauth := performRequest(r, http.MethodGet, "/invoices", nil, "", "")
	if unauth.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unauthorized list invoices got %d", unauth.Code)
	}
}

func TestMigrateCommand(t *testing.T) {
	if os.Getenv("DB_DSN_TEST") != "1" {
		t.Skip("integration tests are disabled; set DB_DSN_TEST=1 to enable")
	}
	initDB()
}
