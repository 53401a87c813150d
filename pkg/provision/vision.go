package provision

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/urmzd/watchgate/pkg/ai"
	"github.com/urmzd/watchgate/pkg/bus"
)

const defaultQuestion = "What do you see?"

// VisionHandler receives camera frames the device posts for analysis.
type VisionHandler struct {
	publisher bus.Publisher
	vision    ai.VisionProvider
}

// NewVisionHandler creates a new vision handler
func NewVisionHandler(publisher bus.Publisher, vision ai.VisionProvider) *VisionHandler {
	return &VisionHandler{publisher: publisher, vision: vision}
}

// Explain handles POST /vision/explain. The frame is published to the
// bus regardless of whether analysis succeeds; the analysis description
// is best-effort.
func (h *VisionHandler) Explain(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "No image received",
		})
		return
	}

	image := readFilePart(form.File)
	if len(image) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "No image received",
		})
		return
	}

	question := defaultQuestion
	if vals := form.Value["question"]; len(vals) > 0 && vals[0] != "" {
		question = vals[0]
	}

	log.Info().Int("bytes", len(image)).Str("question", question).Msg("Received camera image")

	if h.publisher != nil {
		if err := h.publisher.PublishRaw(bus.ImageTopic(), image, true); err != nil {
			log.Warn().Err(err).Msg("Failed to publish camera frame")
		}
	}

	description := fmt.Sprintf("Photo captured (%d bytes)", len(image))
	if h.vision != nil {
		result, err := h.vision.Analyze(c.Request.Context(), image, question)
		if err != nil {
			log.Warn().Err(err).Msg("Vision analysis failed")
		} else {
			description = result.Description
		}
	}

	if h.publisher != nil {
		if err := h.publisher.PublishState("sensor/last_event", truncate(description, 255)); err != nil {
			log.Warn().Err(err).Msg("Failed to publish last event")
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": description,
	})
}

// readFilePart returns the first uploaded file's contents, preferring a
// part named "file".
func readFilePart(files map[string][]*multipart.FileHeader) []byte {
	if headers, ok := files["file"]; ok && len(headers) > 0 {
		return readHeader(headers[0])
	}
	for _, headers := range files {
		if len(headers) > 0 {
			return readHeader(headers[0])
		}
	}
	return nil
}

func readHeader(fh *multipart.FileHeader) []byte {
	f, err := fh.Open()
	if err != nil {
		return nil
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil
	}
	return data
}

// truncate cuts s to at most n bytes, backing up to a rune boundary so
// the result stays valid UTF-8.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
