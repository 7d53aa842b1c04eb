package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mrlokans/marginalia/internal/importers"
)

const defaultMaxImportBytes = 10 << 20 // 10 MB

var errTooLarge = errors.New("clippings file too large")

type KindleImportController struct {
	importer Importer
	maxBytes int64
}

func NewKindleImportController(importer Importer, maxBytes int64) *KindleImportController {
	if maxBytes <= 0 {
		maxBytes = defaultMaxImportBytes
	}
	return &KindleImportController{
		importer: importer,
		maxBytes: maxBytes,
	}
}

type KindleImportResponse struct {
	Success  bool                `json:"success"`
	DryRun   bool                `json:"dry_run,omitempty"`
	Error    string              `json:"error,omitempty"`
	Result   *importers.Result   `json:"result,omitempty"`
	Outcomes []importers.Outcome `json:"outcomes,omitempty"`
}

// Import handles POST /api/import/kindle.
// The clippings file is read from the multipart field "clippings_file" or,
// failing that, from the raw request body. ?dry_run=true classifies the
// entries without writing anything; ?verbose=true adds per-entry outcomes.
func (kc *KindleImportController) Import(c *gin.Context) {
	raw, err := kc.readClippings(c)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, &KindleImportResponse{Error: err.Error()})
		return
	}

	dryRun, _ := strconv.ParseBool(c.Query("dry_run"))
	verbose, _ := strconv.ParseBool(c.Query("verbose"))

	var result *importers.Result
	if dryRun {
		result, err = kc.importer.Preview(c.Request.Context(), raw)
	} else {
		result, err = kc.importer.Import(c.Request.Context(), importers.SourceKindle, raw)
	}

	switch {
	case errors.Is(err, importers.ErrEmptyInput):
		c.JSON(http.StatusBadRequest, &KindleImportResponse{DryRun: dryRun, Error: err.Error()})
		return
	case err != nil:
		respondInternalError(c, err, "kindle import")
		return
	}

	resp := &KindleImportResponse{
		Success: true,
		DryRun:  dryRun,
		Result:  result,
	}
	if verbose || dryRun {
		resp.Outcomes = result.Outcomes
	}
	c.JSON(http.StatusOK, resp)
}

func (kc *KindleImportController) readClippings(c *gin.Context) (string, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, kc.maxBytes+1<<20)

	if file, header, err := c.Request.FormFile("clippings_file"); err == nil {
		defer file.Close()
		if header.Size > kc.maxBytes {
			return "", fmt.Errorf("%w (max %d MB)", errTooLarge, kc.maxBytes>>20)
		}
		return readLimited(file, kc.maxBytes)
	} else if c.ContentType() == "multipart/form-data" {
		return "", errors.New("clippings file not provided")
	}

	return readLimited(c.Request.Body, kc.maxBytes)
}

func readLimited(r io.Reader, maxBytes int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return "", fmt.Errorf("%w (max %d MB)", errTooLarge, maxBytes>>20)
		}
		return "", fmt.Errorf("failed to read clippings: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return "", fmt.Errorf("%w (max %d MB)", errTooLarge, maxBytes>>20)
	}
	return string(data), nil
}
