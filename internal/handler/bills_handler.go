package handler

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/boddenberg/bill-expense-assistant/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// imagesField is the multipart field carrying bill images.
const imagesField = "images"

// multipartMemory is how much of an upload is buffered in memory before
// spilling to temporary files.
const multipartMemory = 8 << 20

// ============================================================
// Bills: POST /v1/bills
// ============================================================

func processBillsHandler(maxUploadBytes int64, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/bills")
		defer span.End()

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		images, err := readBillImages(r)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
				return
			}
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(
			attribute.String("session.id", SessionIDFromContext(ctx)),
			attribute.Int("bills.images", len(images)),
		)

		orch := orchestratorFromContext(ctx)
		result, err := orch.ProcessImages(ctx, images)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.NewProcessBillsResponse(result))
	}
}

// readBillImages collects every "images" part of a multipart request in
// upload order.
func readBillImages(r *http.Request) ([]domain.BillImage, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		return nil, &domain.ErrValidation{Field: "body", Message: "expected multipart/form-data: " + err.Error()}
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File[imagesField]
	if len(headers) == 0 {
		return nil, &domain.ErrValidation{Field: imagesField, Message: "at least one image is required"}
	}

	images := make([]domain.BillImage, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open upload %s: %w", fh.Filename, err)
		}
		var buf bytes.Buffer
		_, err = io.Copy(&buf, f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read upload %s: %w", fh.Filename, err)
		}
		images = append(images, domain.BillImage{Name: fh.Filename, Data: buf.Bytes()})
	}
	return images, nil
}
