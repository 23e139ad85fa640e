package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/resto_backend/config"
	"bitbucket.org/mmdatafocus/resto_backend/models"
	"bitbucket.org/mmdatafocus/resto_backend/utils"
	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const maxUploadSizeBytes int64 = 5 * 1024 * 1024

var imageMimeTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

type imageSignRequest struct {
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

type imageCompleteRequest struct {
	ObjectKey string `json:"objectKey"`
}

// signProductImageHandler issues a signed PUT URL for a product photo. The
// client uploads directly to the bucket, then calls the complete endpoint.
func signProductImageHandler(settings *config.Settings, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		restaurantId, ok := utils.GetRestaurantIdFromContext(ctx)
		if !ok || restaurantId == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		productId, ok := pathId(c)
		if !ok {
			return
		}
		if _, err := models.GetProduct(ctx, productId); err != nil {
			respondError(c, err)
			return
		}

		var req imageSignRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if req.FileName == "" || req.MimeType == "" || req.Size <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "fileName, mimeType and size are required"})
			return
		}
		if req.Size > maxUploadSizeBytes {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file size exceeds 5MB limit"})
			return
		}
		if !imageMimeTypes[req.MimeType] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported image type"})
			return
		}

		ext := strings.ToLower(filepath.Ext(req.FileName))
		if ext == "" {
			switch req.MimeType {
			case "image/jpeg":
				ext = ".jpg"
			case "image/png":
				ext = ".png"
			}
		}

		objectKey := path.Join(restaurantId, "products", uuid.New().String()+ext)
		signed, err := utils.SignUpload(ctx, settings.StorageBucket, objectKey, req.MimeType, 15*time.Minute)
		if err != nil {
			logger.WithFields(logrus.Fields{
				"field":      "signProductImageHandler",
				"object_key": objectKey,
			}).Error("failed to sign upload: " + err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to sign upload"})
			return
		}

		logger.WithFields(logrus.Fields{
			"tenant_id":  restaurantId,
			"mime_type":  req.MimeType,
			"size":       req.Size,
			"object_key": objectKey,
		}).Info("[upload.sign]")

		c.JSON(http.StatusOK, gin.H{"data": signed})
	}
}

// productImageHandler finishes the upload: generates the thumbnail and
// stores both URLs on the product, deleting the replaced image best-effort.
func productImageHandler(settings *config.Settings, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		restaurantId, ok := utils.GetRestaurantIdFromContext(ctx)
		if !ok || restaurantId == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		productId, ok := pathId(c)
		if !ok {
			return
		}
		product, err := models.GetProduct(ctx, productId)
		if err != nil {
			respondError(c, err)
			return
		}

		var req imageCompleteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if req.ObjectKey == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "objectKey is required"})
			return
		}
		if !strings.HasPrefix(req.ObjectKey, restaurantId+"/") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid object key"})
			return
		}

		thumbnailKey, err := createThumbnail(ctx, settings.StorageBucket, req.ObjectKey)
		if err != nil {
			logger.WithFields(logrus.Fields{
				"field":      "productImageHandler",
				"object_key": req.ObjectKey,
			}).Error("failed to generate thumbnail: " + err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate thumbnail"})
			return
		}

		imageUrl := utils.BuildObjectAccessURL(req.ObjectKey)
		thumbnailUrl := utils.BuildObjectAccessURL(thumbnailKey)
		if err := models.SetProductImage(ctx, productId, imageUrl, thumbnailUrl); err != nil {
			respondError(c, err)
			return
		}

		// Replaced images are removed best-effort; a leaked object is an
		// acceptable cost of keeping the product row authoritative.
		if product.ImageUrl != "" && product.ImageUrl != imageUrl {
			if oldKey := utils.ExtractObjectKeyFromURL(product.ImageUrl); oldKey != "" {
				_ = utils.DeleteObjectFromGCS(ctx, settings.StorageBucket, oldKey)
			}
			if oldThumb := utils.ExtractObjectKeyFromURL(product.ThumbnailUrl); oldThumb != "" {
				_ = utils.DeleteObjectFromGCS(ctx, settings.StorageBucket, oldThumb)
			}
		}

		logger.WithFields(logrus.Fields{
			"object_key": req.ObjectKey,
			"status":     "completed",
		}).Info("[upload.complete]")

		c.JSON(http.StatusOK, gin.H{
			"imageUrl":     imageUrl,
			"thumbnailUrl": thumbnailUrl,
			"objectKey":    req.ObjectKey,
		})
	}
}

func createThumbnail(ctx context.Context, bucket, objectKey string) (string, error) {
	if strings.TrimSpace(bucket) == "" {
		return "", errors.New("storage bucket is required")
	}
	client, err := utils.GetGCSClient(ctx)
	if err != nil {
		return "", err
	}
	defer client.Close()

	reader, err := client.Bucket(bucket).Object(objectKey).NewReader(ctx)
	if err != nil {
		return "", err
	}
	defer reader.Close()

	data, err := io.ReadAll(io.LimitReader(reader, maxUploadSizeBytes+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > maxUploadSizeBytes {
		return "", fmt.Errorf("file size exceeds %dMB limit", maxUploadSizeBytes>>20)
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	thumbnail := imaging.Resize(img, 200, 0, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumbnail, imaging.JPEG); err != nil {
		return "", err
	}

	thumbnailKey := path.Join(path.Dir(objectKey), "thumbnails", path.Base(objectKey))
	if err := utils.UploadBytesToGCS(ctx, bucket, thumbnailKey, buf.Bytes(), "image/jpeg"); err != nil {
		return "", err
	}
	return thumbnailKey, nil
}
