package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"imgbatch/internal/bundle"
	"imgbatch/internal/convert"
	"imgbatch/internal/fileset"
	"imgbatch/internal/format"
	"imgbatch/internal/pipeline"
	"imgbatch/internal/resize"
	"imgbatch/internal/session"
)

const (
	formatsTimeout        = 5 * time.Second
	defaultMaxUploadBytes = 64 << 20
	genericContentType    = "application/octet-stream"
)

// FormatLister reports the formats the conversion service supports.
type FormatLister interface {
	Formats(ctx context.Context) (convert.Formats, error)
}

// Options are taken as given; DefaultQuality 0 is a valid setting.
type Options struct {
	DefaultQuality int
	MaxUploadBytes int64
}

type API struct {
	sessions *session.Manager
	formats  FormatLister
	opts     Options
}

type createSessionResponse struct {
	SessionID string         `json:"session_id"`
	Status    session.Status `json:"status"`
}

type formatsResponse struct {
	convert.Formats
	Source string `json:"source"`
}

type addFilesResponse struct {
	Accepted   int                `json:"accepted"`
	Rejected   int                `json:"rejected"`
	Duplicates int                `json:"duplicates"`
	Files      []session.FileView `json:"files"`
}

type resizeRequest struct {
	Mode                string `json:"mode"`
	Percent             *int   `json:"percent"`
	Width               *int   `json:"width"`
	Height              *int   `json:"height"`
	MaintainAspectRatio *bool  `json:"maintain_aspect_ratio"`
}

// variant builds the resize setting for mode. Dimensions keep the aspect
// ratio unless told otherwise.
func (r resizeRequest) variant(mode resize.Mode) resize.Resize {
	switch mode {
	case resize.ModePercentage:
		return resize.Percentage{Value: r.Percent}
	case resize.ModeDimensions:
		keep := true
		if r.MaintainAspectRatio != nil {
			keep = *r.MaintainAspectRatio
		}
		return resize.Dimensions{Width: r.Width, Height: r.Height, MaintainAspectRatio: keep}
	default:
		return resize.None{}
	}
}

type convertRequest struct {
	TargetFormat string `json:"target_format" binding:"required"`
	Quality      *int   `json:"quality"`
}

type convertResponse struct {
	BatchID     string `json:"batch_id"`
	ProgressURL string `json:"progress_url"`
}

func NewAPI(sessions *session.Manager, formats FormatLister, opts Options) *API {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	return &API{sessions: sessions, formats: formats, opts: opts}
}

// RegisterRoutes registers API routes on the provided gin engine
func (a *API) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.GET("/formats", a.ListFormats)
		api.GET("/batches", a.ListBatches)
		api.POST("/sessions", a.CreateSession)
		api.GET("/sessions/:id", a.GetSession)
		api.DELETE("/sessions/:id", a.DeleteSession)
		api.POST("/sessions/:id/files", a.AddFiles)
		api.DELETE("/sessions/:id/files/:index", a.RemoveFile)
		api.PUT("/sessions/:id/resize", a.SetResize)
		api.POST("/sessions/:id/convert", a.Convert)
		api.GET("/sessions/:id/progress", a.GetProgress)
		api.GET("/sessions/:id/download", a.DownloadAll)
		api.GET("/sessions/:id/results/:index", a.DownloadOne)
		api.DELETE("/sessions/:id/results", a.DismissResults)
	}
}

// ListFormats asks the conversion service and falls back to the built-in table
func (a *API) ListFormats(c *gin.Context) {
	if a.formats != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), formatsTimeout)
		defer cancel()
		formats, err := a.formats.Formats(ctx)
		if err == nil {
			c.JSON(http.StatusOK, formatsResponse{Formats: formats, Source: "service"})
			return
		}
		log.Warn().Err(err).Msg("conversion service formats unavailable, using local table")
	}
	c.JSON(http.StatusOK, formatsResponse{Formats: convert.LocalFormats(), Source: "local"})
}

func (a *API) ListBatches(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"batches": a.sessions.History()})
}

func (a *API) CreateSession(c *gin.Context) {
	created := a.sessions.Create()
	c.JSON(http.StatusCreated, createSessionResponse{SessionID: created.ID, Status: created.Status})
}

func (a *API) GetSession(c *gin.Context) {
	id := c.Param("id")
	snap, ok := a.sessions.Get(id)
	if !ok {
		log.Warn().Str("session_id", id).Msg("session not found on get")
		c.JSON(http.StatusNotFound, gin.H{"error": session.ErrSessionNotFound.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// DeleteSession drops the session with its files and results.
func (a *API) DeleteSession(c *gin.Context) {
	id := c.Param("id")
	if err := a.sessions.Delete(id); err != nil {
		a.fail(c, id, err, "failed to delete session")
		return
	}
	c.Status(http.StatusNoContent)
}

// AddFiles reads multipart "files" and validates them against source_format
func (a *API) AddFiles(c *gin.Context) {
	id := c.Param("id")
	filter, err := format.ParseFilter(c.Query("source_format"))
	if err != nil {
		a.fail(c, id, err, "invalid source format")
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, a.opts.MaxUploadBytes)
	form, err := c.MultipartForm()
	if err != nil {
		log.Warn().Str("session_id", id).Err(err).Msg("invalid multipart upload")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid upload"})
		return
	}
	if v := form.Value["source_format"]; len(v) > 0 {
		if filter, err = format.ParseFilter(v[0]); err != nil {
			a.fail(c, id, err, "invalid source format")
			return
		}
	}
	headers := make([]*multipart.FileHeader, 0, len(form.File["files"])+len(form.File["files[]"]))
	headers = append(headers, form.File["files"]...)
	headers = append(headers, form.File["files[]"]...)
	candidates := make([]fileset.CandidateFile, 0, len(headers))
	for _, fh := range headers {
		candidate, err := readCandidate(fh)
		if err != nil {
			log.Warn().Str("session_id", id).Str("file", fh.Filename).Err(err).Msg("failed to read upload")
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid upload"})
			return
		}
		candidates = append(candidates, candidate)
	}

	res, err := a.sessions.AddFiles(id, candidates, filter)
	if err != nil {
		if errors.Is(err, fileset.ErrNoValidFiles) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "rejected": res.Rejected})
			return
		}
		a.fail(c, id, err, "failed to add files")
		return
	}
	snap, _ := a.sessions.Get(id)
	c.JSON(http.StatusOK, addFilesResponse{
		Accepted:   len(res.Accepted),
		Rejected:   res.Rejected,
		Duplicates: res.Duplicates,
		Files:      snap.Files,
	})
}

func (a *API) RemoveFile(c *gin.Context) {
	id := c.Param("id")
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid index"})
		return
	}
	removed, err := a.sessions.RemoveFile(id, index)
	if err != nil {
		a.fail(c, id, err, "failed to remove file")
		return
	}
	log.Info().Str("session_id", id).Str("file", removed.Name).Msg("file removed")
	c.Status(http.StatusNoContent)
}

// SetResize switches the resize mode and applies the values for it
func (a *API) SetResize(c *gin.Context) {
	id := c.Param("id")
	var req resizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn().Str("session_id", id).Err(err).Msg("invalid resize request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	mode, err := resize.ParseMode(req.Mode)
	if err != nil {
		a.fail(c, id, err, "invalid resize mode")
		return
	}
	if err := a.sessions.SetResize(id, req.variant(mode)); err != nil {
		a.fail(c, id, err, "failed to set resize")
		return
	}
	snap, _ := a.sessions.Get(id)
	c.JSON(http.StatusOK, snap.Resize)
}

// Convert submits the working set as a background batch
func (a *API) Convert(c *gin.Context) {
	id := c.Param("id")
	var req convertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn().Str("session_id", id).Err(err).Msg("invalid convert request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	target, err := format.ParseOutput(req.TargetFormat)
	if err != nil {
		a.fail(c, id, err, "invalid target format")
		return
	}
	quality := a.opts.DefaultQuality
	if req.Quality != nil {
		quality = *req.Quality
	}
	batchID, err := a.sessions.Submit(id, target, quality)
	if err != nil {
		a.fail(c, id, err, "failed to start conversion")
		return
	}
	c.JSON(http.StatusAccepted, convertResponse{
		BatchID:     batchID,
		ProgressURL: "/api/v1/sessions/" + id + "/progress",
	})
}

func (a *API) GetProgress(c *gin.Context) {
	id := c.Param("id")
	state, err := a.sessions.Progress(id)
	if err != nil {
		a.fail(c, id, err, "failed to read progress")
		return
	}
	c.JSON(http.StatusOK, session.ProgressView{State: state, Percent: state.Percent()})
}

// DownloadAll serves the single converted file or the archive of all of them
func (a *API) DownloadAll(c *gin.Context) {
	id := c.Param("id")
	dl, err := a.sessions.DownloadAll(c.Request.Context(), id)
	if err != nil {
		a.fail(c, id, err, "download failed")
		return
	}
	log.Info().Str("session_id", id).Str("filename", dl.Filename).Bool("archived", dl.Archived).Int("bytes", len(dl.Data)).Msg("serving download")
	attach(c, dl)
}

func (a *API) DownloadOne(c *gin.Context) {
	id := c.Param("id")
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid index"})
		return
	}
	dl, err := a.sessions.DownloadOne(id, index)
	if err != nil {
		a.fail(c, id, err, "download failed")
		return
	}
	attach(c, dl)
}

func (a *API) DismissResults(c *gin.Context) {
	id := c.Param("id")
	if err := a.sessions.DismissResults(id); err != nil {
		a.fail(c, id, err, "failed to dismiss results")
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) fail(c *gin.Context, id string, err error, msg string) {
	status := statusFor(err)
	evt := log.Warn()
	if status >= statusErrorThreshold {
		evt = log.Error()
	}
	evt.Str("session_id", id).Err(err).Int("status", status).Msg(msg)
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, fileset.ErrIndexOutOfRange),
		errors.Is(err, bundle.ErrIndexOutOfRange),
		errors.Is(err, bundle.ErrNoResults),
		errors.Is(err, bundle.ErrNotConverted):
		return http.StatusNotFound
	case errors.Is(err, session.ErrBatchRunning),
		errors.Is(err, pipeline.ErrEmptyWorkingSet):
		return http.StatusConflict
	case errors.Is(err, session.ErrServerBusy):
		return http.StatusServiceUnavailable
	case errors.Is(err, fileset.ErrNoValidFiles):
		return http.StatusUnprocessableEntity
	case errors.Is(err, format.ErrUnknownFormat),
		errors.Is(err, pipeline.ErrInvalidQuality),
		errors.Is(err, resize.ErrUnknownMode),
		errors.Is(err, resize.ErrModeMismatch):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func attach(c *gin.Context, dl bundle.Download) {
	contentType := dl.ContentType
	if contentType == "" {
		contentType = genericContentType
	}
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": dl.Filename}))
	c.Data(http.StatusOK, contentType, dl.Data)
}

func readCandidate(fh *multipart.FileHeader) (fileset.CandidateFile, error) {
	f, err := fh.Open()
	if err != nil {
		return fileset.CandidateFile{}, fmt.Errorf("open upload: %w", err)
	}
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(f)
	if err != nil {
		return fileset.CandidateFile{}, fmt.Errorf("read upload: %w", err)
	}
	mediaType := fh.Header.Get("Content-Type")
	if mediaType == genericContentType {
		mediaType = ""
	}
	return fileset.NewCandidate(fh.Filename, mediaType, data), nil
}
