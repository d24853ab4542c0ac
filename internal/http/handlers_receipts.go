package http

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"kakeibo/internal/core"
	"kakeibo/internal/services"
)

type confirmRequest struct {
	AccountID string `json:"accountId"`
	Drafts    []int  `json:"drafts"`
}

func (s *Server) receiptsEnabled(w http.ResponseWriter) bool {
	if s.svc.Receipts == nil {
		ServiceUnavailableError("receipt scanning is not configured").Write(w)
		return false
	}
	return true
}

// handleUploadReceipt accepts a multipart form with the image in the
// "receipt" field.
func (s *Server) handleUploadReceipt(w http.ResponseWriter, r *http.Request) {
	if !s.receiptsEnabled(w) {
		return
	}
	// Room for multipart framing around the image.
	r.Body = http.MaxBytesReader(w, r.Body, services.MaxReceiptSize+64<<10)
	file, header, err := r.FormFile("receipt")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			ErrorResponse(http.StatusRequestEntityTooLarge, fmt.Sprintf("receipt exceeds %d bytes", services.MaxReceiptSize)).Write(w)
			return
		}
		BadRequestError("missing receipt file").Write(w)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, services.MaxReceiptSize+1))
	if err != nil {
		BadRequestError("could not read receipt file").Write(w)
		return
	}
	mimeType, _, err := mime.ParseMediaType(header.Header.Get("Content-Type"))
	if err != nil || mimeType == "application/octet-stream" {
		mimeType = strings.SplitN(http.DetectContentType(data), ";", 2)[0]
	}

	scan, err := s.svc.Receipts.Upload(r.Context(), userID(r), data, mimeType)
	if err != nil {
		ServiceError(r, err).Write(w)
		return
	}
	status := http.StatusCreated
	if scan.Status == core.ScanPending {
		status = http.StatusAccepted
	}
	NewResponse().Status(status).JSON(scan).Write(w)
}

func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	if !s.receiptsEnabled(w) {
		return
	}
	limit, err := ParseIntParam(r.URL.Query(), "limit", 20)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	scans, err := s.svc.Receipts.List(r.Context(), userID(r), limit)
	if err != nil {
		ServiceError(r, err).Write(w)
		return
	}
	NewResponse().JSON(nonNil(scans)).Write(w)
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	if !s.receiptsEnabled(w) {
		return
	}
	scan, err := s.svc.Receipts.Get(r.Context(), userID(r), r.PathValue("id"))
	if err != nil {
		ServiceError(r, err).Write(w)
		return
	}
	NewResponse().JSON(scan).Write(w)
}

func (s *Server) handleConfirmReceipt(w http.ResponseWriter, r *http.Request) {
	if !s.receiptsEnabled(w) {
		return
	}
	var req confirmRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	txs, err := s.svc.Receipts.Confirm(r.Context(), userID(r), r.PathValue("id"), strings.TrimSpace(req.AccountID), req.Drafts)
	if err != nil {
		ServiceError(r, err).Write(w)
		return
	}
	NewResponse().Status(http.StatusCreated).JSON(nonNil(txs)).Write(w)
}
