// Package httpapi exposes the bundle service over HTTP with Bindle-style
// routes:
//
//	POST   /v1/_i                       create an invoice (TOML body)
//	GET    /v1/_i/<name>/<version>      fetch an invoice
//	DELETE /v1/_i/<name>/<version>      yank an invoice
//	POST   /v1/_p/<name>/<version>@<sha256>  upload a parcel
//	GET    /v1/_p/<name>/<version>@<sha256>  stream a parcel
//	GET    /v1/_r/missing/<name>/<version>   list missing parcels
package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nitishm/bindle/errs"
	"github.com/nitishm/bindle/internal/logger"
	"github.com/nitishm/bindle/invoice"
	"github.com/nitishm/bindle/transport"
)

const tomlContentType = "application/toml"

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string    `toml:"error"`
	Kind  errs.Kind `toml:"kind,omitempty"`
}

type Handler struct {
	bundles transport.Bundles
	log     *logger.Logger
}

func NewHandler(bundles transport.Bundles, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{bundles: bundles, log: log.With("component", "httpapi")}
}

// NewRouter builds the gin engine serving h.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(h.log))

	router.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	v1 := router.Group("/v1")
	{
		v1.POST("/_i", h.CreateInvoice)
		v1.GET("/_i/*id", h.GetInvoice)
		v1.DELETE("/_i/*id", h.YankInvoice)
		v1.POST("/_p/*ref", h.CreateParcel)
		v1.GET("/_p/*ref", h.GetParcel)
		v1.GET("/_r/missing/*id", h.GetMissingParcels)
	}
	return router
}

func statusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.KindNotFound, errs.KindInvoiceNotFound:
		return http.StatusNotFound
	case errs.KindConflict:
		return http.StatusConflict
	case errs.KindDigestMismatch, errs.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	_ = c.Error(err)
	writeTOML(c, status, ErrorResponse{Error: err.Error(), Kind: errs.KindOf(err)})
}

func writeTOML(c *gin.Context, status int, v any) {
	b, err := transport.EncodeTOML(v)
	if err != nil {
		_ = c.Error(err)
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(status, tomlContentType, b)
}

func param(c *gin.Context, name string) string {
	return strings.TrimPrefix(c.Param(name), "/")
}

func (h *Handler) CreateInvoice(c *gin.Context) {
	inv, err := invoice.Decode(c.Request.Body)
	if err != nil {
		h.fail(c, err)
		return
	}
	res, err := h.bundles.CreateInvoice(c.Request.Context(), inv)
	if err != nil {
		h.fail(c, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeTOML(c, status, transport.CreateResponse{Created: res.Created, Invoice: res.Invoice, Missing: res.Missing})
}

func (h *Handler) GetInvoice(c *gin.Context) {
	id, err := invoice.ParseID(param(c, "id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	inv, err := h.bundles.GetInvoice(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	b, err := invoice.Marshal(inv)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, tomlContentType, b)
}

func (h *Handler) YankInvoice(c *gin.Context) {
	id, err := invoice.ParseID(param(c, "id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.bundles.YankInvoice(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *Handler) GetMissingParcels(c *gin.Context) {
	id, err := invoice.ParseID(param(c, "id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	missing, err := h.bundles.GetMissingParcels(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	writeTOML(c, http.StatusOK, transport.MissingResponse{Missing: missing})
}

func (h *Handler) CreateParcel(c *gin.Context) {
	ref, err := transport.ParseParcelRef(param(c, "ref"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.bundles.CreateParcel(c.Request.Context(), ref.ID, ref.Digest, c.Request.Body); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// GetParcel streams the parcel. Once the first chunk is written the status
// is committed, so a later read failure can only abort the response.
func (h *Handler) GetParcel(c *gin.Context) {
	ref, err := transport.ParseParcelRef(param(c, "ref"))
	if err != nil {
		h.fail(c, err)
		return
	}
	ctx := c.Request.Context()
	ps, label, err := h.bundles.GetParcelStream(ctx, ref.ID, ref.Digest)
	if err != nil {
		h.fail(c, err)
		return
	}
	defer ps.Close()

	mediaType := label.MediaType
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	c.Header("Content-Type", mediaType)
	c.Status(http.StatusOK)
	for {
		chunk, err := ps.Next(ctx)
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			_ = c.Error(err)
			h.log.Error("parcel stream aborted", "parcel", ref.String(), "error", err)
			c.Abort()
			return
		}
		if _, err := c.Writer.Write(chunk); err != nil {
			_ = c.Error(err)
			c.Abort()
			return
		}
	}
}
