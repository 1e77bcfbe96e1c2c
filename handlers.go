package main

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"recorte/models"
	"recorte/pkg/crop"
	"recorte/pkg/ocr"
	"recorte/pkg/render"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const maxUploadBytes = 20 * 1024 * 1024

func setupRoutes(r *gin.Engine) {
	r.POST("/register", registerHandler)
	r.POST("/login", loginHandler)
	r.POST("/refresh", refreshHandler)
	r.POST("/revoke_refresh", revokeRefreshHandler)
	authGroup := r.Group("")
	authGroup.Use(jwtAuthMiddleware())
	authGroup.GET("/me", meHandler)
	authGroup.POST("/invoices", uploadInvoiceHandler)
	authGroup.GET("/invoices", listInvoicesHandler)
	authGroup.GET("/invoices/:id", getInvoiceHandler)
	authGroup.GET("/invoices/:id/preview", previewPageHandler)
	authGroup.POST("/invoices/:id/crop", cropRegionHandler)
	authGroup.POST("/invoices/:id/ocr", ocrRegionHandler)
	authGroup.POST("/invoices/:id/export", exportConfigHandler)
	authGroup.GET("/presets", listPresetsHandler)
	authGroup.POST("/presets", createPresetHandler)
}

func jwtAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || len(authHeader) < 8 || authHeader[:7] != "Bearer " {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid Authorization header"})
			c.Abort()
			return
		}
		tokenString := authHeader[7:]
		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrInvalidKeyType
			}
			return jwtSecret, nil
		})
		if err != nil || !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid claims"})
			c.Abort()
			return
		}
		username, _ := claims["username"].(string)
		role, _ := claims["role"].(string)
		c.Set("username", username)
		if role != "" {
			c.Set("role", role)
		}
		c.Next()
	}
}

func meHandler(c *gin.Context) {
	usernameVal, _ := c.Get("username")
	if usernameVal == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "context missing username"})
		return
	}
	username := usernameVal.(string)
	c.JSON(http.StatusOK, gin.H{"username": username})
}

// getUserFromContext fetches the currently authenticated user using the username set by jwtAuthMiddleware
func getUserFromContext(c *gin.Context) (*models.User, bool) {
	unameVal, _ := c.Get("username")
	if unameVal == nil {
		return nil, false
	}
	uname := unameVal.(string)
	var user models.User
	if err := db.Where("username = ?", uname).First(&user).Error; err != nil {
		return nil, false
	}
	return &user, true
}

func registerHandler(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := RegisterUser(req.Username, req.Password); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "user registered successfully"})
}

func loginHandler(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := Authenticate(req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	tokenString, err := signAccessToken(user, 24*time.Hour)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}
	refreshToken, err := createAndStoreRefreshToken(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "login successful", "token": tokenString, "refresh_token": refreshToken})
}

// signAccessToken creates an HMAC JWT carrying username and role name.
func signAccessToken(user models.User, ttl time.Duration) (string, error) {
	roleName := ""
	if user.RoleID != nil {
		var r models.Role
		if err := db.First(&r, *user.RoleID).Error; err == nil {
			roleName = r.Name
		}
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"username": user.Username,
		"role":     roleName,
		"exp":      time.Now().Add(ttl).Unix(),
	})
	return token.SignedString(jwtSecret)
}

// createAndStoreRefreshToken generates a random refresh token, stores its hash with expiry and returns the raw token string
func createAndStoreRefreshToken(userID uint) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := hex.EncodeToString(b)
	h := sha256.Sum256([]byte(token))
	th := hex.EncodeToString(h[:])
	rt := models.RefreshToken{UserID: userID, TokenHash: th, ExpiresAt: time.Now().Add(30 * 24 * time.Hour)}
	if err := db.Create(&rt).Error; err != nil {
		return "", err
	}
	return token, nil
}

// helper to find refresh token record by raw token string
func findRefreshTokenByRaw(token string) (*models.RefreshToken, error) {
	h := sha256.Sum256([]byte(token))
	th := hex.EncodeToString(h[:])
	var rt models.RefreshToken
	if err := db.Where("token_hash = ?", th).First(&rt).Error; err != nil {
		return nil, err
	}
	return &rt, nil
}

// refreshHandler exchanges a refresh token for a new access token and rotates the refresh token
func refreshHandler(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rt, err := findRefreshTokenByRaw(req.RefreshToken)
	if err != nil || rt.Revoked || time.Now().After(rt.ExpiresAt) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired refresh token"})
		return
	}
	var user models.User
	if err := db.First(&user, rt.UserID).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	tokenString, err := signAccessToken(user, 15*time.Minute)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}
	// rotate refresh token: revoke existing and create new one
	db.Model(&models.RefreshToken{}).Where("id = ?", rt.ID).Update("revoked", true)
	newRT, err := createAndStoreRefreshToken(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to rotate refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tokenString, "refresh_token": newRT})
}

// revokeRefreshHandler revokes a given refresh token (useful on logout)
func revokeRefreshHandler(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rt, err := findRefreshTokenByRaw(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "refresh token not found"})
		return
	}
	rt.Revoked = true
	if err := db.Save(rt).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to revoke token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "refresh token revoked"})
}

// uploadInvoiceHandler handles multipart PDF upload for the current user. The
// uploaded bytes first land in a temp file for page-count probing; the temp
// file is removed on every exit path.
func uploadInvoiceHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file missing"})
		return
	}
	if file.Size > maxUploadBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file too large (max 20MB)"})
		return
	}
	name := filepath.Base(file.Filename)
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "only PDF files are accepted"})
		return
	}
	ct := file.Header.Get("Content-Type")

	tmpFile, err := os.CreateTemp("", "recorte-upload-*.pdf")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "temp file failed"})
		return
	}
	tmp := tmpFile.Name()
	_ = tmpFile.Close()
	defer func() {
		if rmErr := os.Remove(tmp); rmErr != nil && !os.IsNotExist(rmErr) {
			log.Printf("warning: remove upload temp %s: %v", tmp, rmErr)
		}
	}()
	if err := c.SaveUploadedFile(file, tmp); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save failed"})
		return
	}

	pages, err := render.PageCount(tmp)
	if err != nil {
		log.Printf("page count failed for %s: %v", name, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not read PDF"})
		return
	}
	if pages == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "PDF has no pages"})
		return
	}

	// If a record for this user+filename already exists, return it.
	var existing models.Invoice
	if err := db.Where("user_id = ? AND file_name = ?", user.ID, name).First(&existing).Error; err == nil {
		c.JSON(http.StatusOK, gin.H{"id": existing.ID, "file_name": existing.FileName, "pages": existing.PageCount})
		return
	}

	relPath := "invoices/" + name
	fullPath := filepath.Join(uploadBaseDir(), relPath)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "mkdir failed"})
		return
	}
	if err := os.Rename(tmp, fullPath); err != nil {
		// cross-device rename can fail; fall back to a second multipart save
		if err := c.SaveUploadedFile(file, fullPath); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "save failed"})
			return
		}
	}

	inv := models.Invoice{
		UserID:      user.ID,
		FileName:    name,
		StorePath:   relPath,
		ContentType: ct,
		PageCount:   pages,
		SizeBytes:   file.Size,
	}
	if err := db.Create(&inv).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db save failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": inv.ID, "file_name": inv.FileName, "pages": inv.PageCount})
}

// listInvoicesHandler returns invoices; admin sees all, user only own.
func listInvoicesHandler(c *gin.Context) {
	role, _ := c.Get("role")
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	var invoices []models.Invoice
	q := db.Model(&models.Invoice{})
	if role != "administrator" {
		q = q.Where("user_id = ?", user.ID)
	}
	if err := q.Order("id desc").Limit(100).Find(&invoices).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, invoices)
}

func getInvoiceHandler(c *gin.Context) {
	inv, ok := loadOwnedInvoice(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, inv)
}

// loadOwnedInvoice resolves :id and enforces ownership (admin bypasses).
// Writes the error response itself when returning ok=false.
func loadOwnedInvoice(c *gin.Context) (*models.Invoice, bool) {
	role, _ := c.Get("role")
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return nil, false
	}
	id := c.Param("id")
	var inv models.Invoice
	if err := db.First(&inv, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return nil, false
	}
	if role != "administrator" && inv.UserID != user.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return nil, false
	}
	return &inv, true
}

func invoicePath(inv *models.Invoice) string {
	return filepath.Join(uploadBaseDir(), inv.StorePath)
}

// regionRequest carries a page selection plus raw crop coordinates. Page is
// 0-based; dpi 0 selects the default.
type regionRequest struct {
	Page int `json:"page"`
	DPI  int `json:"dpi"`
	X1   int `json:"x1"`
	Y1   int `json:"y1"`
	X2   int `json:"x2"`
	Y2   int `json:"y2"`
}

func (r regionRequest) rect() crop.Rect {
	return crop.Rect{X1: r.X1, Y1: r.Y1, X2: r.X2, Y2: r.Y2}
}

// renderRequestedPage validates page/dpi against the invoice and rasterizes
// the page. Writes the error response itself when returning ok=false.
func renderRequestedPage(c *gin.Context, inv *models.Invoice, page, dpi int) (image.Image, bool) {
	if page < 0 || page >= inv.PageCount {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("page %d out of range (invoice has %d pages)", page, inv.PageCount)})
		return nil, false
	}
	if _, err := crop.ValidateDPI(dpi); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	img, err := render.RenderPage(invoicePath(inv), page, dpi)
	if err != nil {
		log.Printf("render failed for invoice %d page %d: %v", inv.ID, page, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "page rendering failed"})
		return nil, false
	}
	return img, true
}

// previewPageHandler renders a full page as PNG: GET /invoices/:id/preview?page=0&dpi=200
func previewPageHandler(c *gin.Context) {
	inv, ok := loadOwnedInvoice(c)
	if !ok {
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "0"))
	dpi, _ := strconv.Atoi(c.DefaultQuery("dpi", "0"))
	img, ok := renderRequestedPage(c, inv, page, dpi)
	if !ok {
		return
	}
	writePNG(c, img)
}

// normalizeRegion clamps the request rectangle against the rendered page and
// rejects degenerate regions with 422. Writes the error response itself.
func normalizeRegion(c *gin.Context, img image.Image, req regionRequest) (crop.Rect, bool) {
	rect, err := crop.Normalize(req.rect(), img.Bounds().Dx(), img.Bounds().Dy())
	if err != nil {
		if errors.Is(err, crop.ErrEmptyCrop) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid crop region: x2 must be greater than x1 and y2 greater than y1 within the page"})
			return crop.Rect{}, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return crop.Rect{}, false
	}
	return rect, true
}

// cropRegionHandler returns the cropped region as PNG.
func cropRegionHandler(c *gin.Context) {
	inv, ok := loadOwnedInvoice(c)
	if !ok {
		return
	}
	var req regionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	img, ok := renderRequestedPage(c, inv, req.Page, req.DPI)
	if !ok {
		return
	}
	rect, ok := normalizeRegion(c, img, req)
	if !ok {
		return
	}
	cropped := imaging.Crop(img, rect.Bounds())
	writePNG(c, cropped)
}

// ocrRegionHandler crops the region and extracts line items with confidences.
func ocrRegionHandler(c *gin.Context) {
	inv, ok := loadOwnedInvoice(c)
	if !ok {
		return
	}
	var req regionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	img, ok := renderRequestedPage(c, inv, req.Page, req.DPI)
	if !ok {
		return
	}
	rect, ok := normalizeRegion(c, img, req)
	if !ok {
		return
	}
	cropped := imaging.Crop(img, rect.Bounds())
	res, err := ocr.ExtractLines(cropped)
	if err != nil {
		if errors.Is(err, ocr.ErrNoText) {
			c.JSON(http.StatusOK, gin.H{"lines": []ocr.Line{}, "text": "", "avg_confidence": 0.0, "message": "no text recognized in the cropped region"})
			return
		}
		log.Printf("ocr failed for invoice %d: %v", inv.ID, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "text extraction failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"lines":          res.Lines,
		"text":           res.Text,
		"avg_confidence": res.AvgConfidence,
		"coordinates":    rect,
		"cropped_size":   gin.H{"width": rect.Width(), "height": rect.Height()},
	})
}

// exportRequest is a regionRequest plus export metadata.
type exportRequest struct {
	regionRequest
	Label string `json:"label"`
	Save  bool   `json:"save"`
}

// exportConfigHandler serializes the current selection as a CropConfig
// document; with save=true the selection is also stored as a preset.
func exportConfigHandler(c *gin.Context) {
	inv, ok := loadOwnedInvoice(c)
	if !ok {
		return
	}
	var req exportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	img, ok := renderRequestedPage(c, inv, req.Page, req.DPI)
	if !ok {
		return
	}
	rect, ok := normalizeRegion(c, img, req.regionRequest)
	if !ok {
		return
	}
	dpi, _ := crop.ValidateDPI(req.DPI)
	cfg := crop.Config{
		Label:        req.Label,
		SourceFile:   inv.FileName,
		Page:         req.Page + 1,
		Coordinates:  rect,
		DPI:          dpi,
		OriginalSize: crop.Size{Width: img.Bounds().Dx(), Height: img.Bounds().Dy()},
		CroppedSize:  crop.Size{Width: rect.Width(), Height: rect.Height()},
	}
	doc, err := crop.Export(cfg)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if req.Save {
		if err := upsertPreset(cfg); err != nil {
			log.Printf("preset save failed for %s: %v", cfg.Label, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "preset save failed"})
			return
		}
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", cfg.Filename()))
	c.Data(http.StatusOK, "application/json; charset=utf-8", doc)
}

func upsertPreset(cfg crop.Config) error {
	distributor := strings.TrimSpace(cfg.Label)
	if distributor == "" {
		distributor = "config"
	}
	preset := models.CropPreset{
		Distributor: distributor,
		PageIndex:   cfg.PageIndex(),
		X1:          cfg.Coordinates.X1,
		Y1:          cfg.Coordinates.Y1,
		X2:          cfg.Coordinates.X2,
		Y2:          cfg.Coordinates.Y2,
		DPI:         cfg.DPI,
	}
	var existing models.CropPreset
	if err := db.Where("distributor = ? AND page_index = ?", distributor, preset.PageIndex).First(&existing).Error; err == nil {
		existing.X1, existing.Y1, existing.X2, existing.Y2 = preset.X1, preset.Y1, preset.X2, preset.Y2
		existing.DPI = preset.DPI
		return db.Save(&existing).Error
	}
	return db.Create(&preset).Error
}

func listPresetsHandler(c *gin.Context) {
	var presets []models.CropPreset
	if err := db.Order("builtin desc, distributor, page_index").Find(&presets).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, presets)
}

func createPresetHandler(c *gin.Context) {
	var req struct {
		Distributor string `json:"distributor" binding:"required"`
		Page        int    `json:"page"`
		DPI         int    `json:"dpi"`
		X1          int    `json:"x1"`
		Y1          int    `json:"y1"`
		X2          int    `json:"x2"`
		Y2          int    `json:"y2"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	dpi, err := crop.ValidateDPI(req.DPI)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Page < 0 || req.X1 < 0 || req.Y1 < 0 || req.X2 <= req.X1 || req.Y2 <= req.Y1 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid crop region: coordinates must be non-negative with x2 > x1 and y2 > y1"})
		return
	}
	preset := models.CropPreset{
		Distributor: strings.TrimSpace(req.Distributor),
		PageIndex:   req.Page,
		X1:          req.X1, Y1: req.Y1, X2: req.X2, Y2: req.Y2,
		DPI: dpi,
	}
	if err := db.Create(&preset).Error; err != nil {
		if isUniqueConstraintError(err) {
			c.JSON(http.StatusConflict, gin.H{"error": "preset already exists for this distributor and page"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": preset.ID})
}

// writePNG encodes img and sends it with dimension headers.
func writePNG(c *gin.Context, img image.Image) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "png encode failed"})
		return
	}
	c.Header("X-Image-Width", strconv.Itoa(img.Bounds().Dx()))
	c.Header("X-Image-Height", strconv.Itoa(img.Bounds().Dy()))
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}
